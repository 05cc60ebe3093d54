// Package sql provides database connectors for the engine's data shards.
package sql

import (
	"context"
	"fmt"
	"net"
	"sync"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/modelguard/modelguard/internal/config"
)

// DBConnector is an interface for database connections.
type DBConnector interface {
	Connect(ctx context.Context) (*gorm.DB, error)
}

// SQLiteConnector implements DBConnector for SQLite shards.
type SQLiteConnector struct {
	dbPath string
}

// NewSQLiteConnector creates a connector for the SQLite database at dbPath.
func NewSQLiteConnector(dbPath string) *SQLiteConnector {
	return &SQLiteConnector{dbPath: dbPath}
}

// Connect connects to the SQLite database.
func (c *SQLiteConnector) Connect(_ context.Context) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(c.dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	return database, nil
}

// PostgresConnector implements DBConnector for Postgres shards, optionally
// dialing through the Cloud SQL connector.
type PostgresConnector struct {
	dsn                    string
	instanceConnectionName string
	user                   string
	password               string
	dbname                 string
}

// Connect connects to the Postgres shard.
func (c *PostgresConnector) Connect(ctx context.Context) (*gorm.DB, error) {
	if c.instanceConnectionName == "" {
		database, err := gorm.Open(postgres.Open(c.dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres shard: %w", err)
		}
		return database, nil
	}

	dialer, err := cloudsqlconn.NewDialer(ctx, cloudsqlconn.WithIAMAuthN())
	if err != nil {
		// Fall back to password auth when IAMAuthN is unavailable.
		dialer, err = cloudsqlconn.NewDialer(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create dialer: %w", err)
		}
	}

	poolConfig, err := pgxpool.ParseConfig(fmt.Sprintf("user=%s password=%s dbname=%s sslmode=disable",
		c.user, c.password, c.dbname))
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	poolConfig.ConnConfig.DialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
		conn, err := dialer.Dial(ctx, c.instanceConnectionName)
		if err != nil {
			return nil, fmt.Errorf("failed to dial Cloud SQL instance: %w", err)
		}
		return conn, nil
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: stdlib.OpenDB(*poolConfig.ConnConfig),
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gorm with pgx connection: %w", err)
	}
	return gormDB, nil
}

// CreateDBConnector returns the appropriate DBConnector for a shard config.
func CreateDBConnector(shard config.ShardConfig) (DBConnector, error) {
	switch shard.Driver {
	case "sqlite":
		return NewSQLiteConnector(shard.Path), nil
	case "postgres":
		return &PostgresConnector{
			dsn:                    shard.DSN,
			instanceConnectionName: shard.InstanceConnectionName,
			user:                   shard.User,
			password:               shard.Password,
			dbname:                 shard.Database,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported shard driver: %q", shard.Driver)
	}
}

// ShardPool resolves shard identifiers to open database handles, opening
// each shard at most once.
type ShardPool struct {
	shards map[string]config.ShardConfig
	mu     sync.Mutex
	open   map[string]*gorm.DB
}

// NewShardPool creates a ShardPool over the configured shards.
func NewShardPool(shards map[string]config.ShardConfig) *ShardPool {
	return &ShardPool{
		shards: shards,
		open:   make(map[string]*gorm.DB),
	}
}

// Get returns the database handle for the shard, connecting on first use.
func (p *ShardPool) Get(ctx context.Context, shardID string) (*gorm.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.open[shardID]; ok {
		return db, nil
	}

	shard, ok := p.shards[shardID]
	if !ok {
		return nil, fmt.Errorf("shard %q is not configured", shardID)
	}

	connector, err := CreateDBConnector(shard)
	if err != nil {
		return nil, err
	}
	db, err := connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to shard %q: %w", shardID, err)
	}
	p.open[shardID] = db
	return db, nil
}

// Put registers an already-open handle for a shard. Tests use this to seed
// in-memory databases.
func (p *ShardPool) Put(shardID string, db *gorm.DB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open[shardID] = db
}

// Each invokes fn for every configured shard. Used by migrations.
func (p *ShardPool) Each(ctx context.Context, fn func(shardID string, db *gorm.DB) error) error {
	for shardID := range p.shards {
		db, err := p.Get(ctx, shardID)
		if err != nil {
			return err
		}
		if err := fn(shardID, db); err != nil {
			return fmt.Errorf("shard %q: %w", shardID, err)
		}
	}
	return nil
}
