// Package db persists scans and findings under strict tenant isolation.
// Every write is routed to the tenant's assigned shard, sensitive finding
// fields are sealed with the tenant's key before they reach the database,
// and every read path requires the caller's tenant as a mandatory predicate.
// There is no read-across-all-tenants primitive.
package db

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/modelguard/modelguard/internal/crypto"
	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/log"
	"github.com/modelguard/modelguard/internal/sql"
	"github.com/modelguard/modelguard/internal/tenant"
)

// ErrScanNotFound is returned when no scan matches the tenant and id. A scan
// owned by a different tenant is indistinguishable from a missing one.
var ErrScanNotFound = errors.New("scan not found")

// ErrPersistence wraps shard or encryption failures; it is fatal to the scan.
var ErrPersistence = errors.New("persistence failure")

// ListFilter narrows ListScans results.
type ListFilter struct {
	Kind   model.ScanKind
	Status model.ScanStatus
	Limit  int
}

// ScanManager defines the interface for managing scans in the database.
type ScanManager interface {
	// CommitScan writes the scan and all its findings as one atomic unit on
	// the tenant's shard.
	CommitScan(ctx context.Context, scan *model.Scan, findings []model.Finding) error
	// GetScan retrieves a scan and its findings for the given tenant.
	GetScan(ctx context.Context, tenantID, scanID string) (*model.Scan, error)
	// ListScans retrieves the tenant's scans without findings.
	ListScans(ctx context.Context, tenantID string, filter ListFilter) ([]model.Scan, error)
}

// GormScanManager implements ScanManager using GORM over sharded databases.
type GormScanManager struct {
	pool      *sql.ShardPool
	directory tenant.Directory
}

// NewGormScanManager creates a new GormScanManager.
func NewGormScanManager(pool *sql.ShardPool, directory tenant.Directory) (*GormScanManager, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if directory == nil {
		return nil, fmt.Errorf("directory cannot be nil")
	}
	return &GormScanManager{pool: pool, directory: directory}, nil
}

// shardFor resolves the tenant's shard handle.
func (m *GormScanManager) shardFor(ctx context.Context, tenantID string) (*gorm.DB, error) {
	shardID, err := m.directory.ShardFor(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	db, err := m.pool.Get(ctx, shardID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return db, nil
}

// cipherFor builds the tenant's field cipher from its current key.
func (m *GormScanManager) cipherFor(ctx context.Context, tenantID string) (*crypto.FieldCipher, error) {
	key, err := m.directory.KeyFor(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	cipher, err := crypto.NewFieldCipher(key.Material, key.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return cipher, nil
}

// CommitScan writes the scan and all its findings as one atomic unit scoped
// to the tenant's shard: either all rows become visible or none do.
func (m *GormScanManager) CommitScan(ctx context.Context, scan *model.Scan, findings []model.Finding) error {
	if scan == nil {
		return fmt.Errorf("scan cannot be nil")
	}
	logger := log.NewLogger(ctx)
	logger.Debug("CommitScan",
		zap.String("scan_id", scan.ID),
		zap.String("tenant_id", scan.TenantID),
		zap.Int("findings", len(findings)))

	db, err := m.shardFor(ctx, scan.TenantID)
	if err != nil {
		return err
	}
	cipher, err := m.cipherFor(ctx, scan.TenantID)
	if err != nil {
		return err
	}

	sealed := make([]model.Finding, len(findings))
	for i, finding := range findings {
		if finding.TenantID != scan.TenantID {
			return fmt.Errorf("%w: finding %s tenant %q does not match scan tenant %q",
				ErrPersistence, finding.ID, finding.TenantID, scan.TenantID)
		}
		sealed[i] = finding
		sealed[i].Message, err = cipher.Seal(finding.Message)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		sealed[i].Evidence, err = cipher.Seal(finding.Evidence)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(scan).Error; err != nil {
			return fmt.Errorf("error creating scan: %w", err)
		}
		if len(sealed) > 0 {
			if err := tx.Create(&sealed).Error; err != nil {
				return fmt.Errorf("error creating findings: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// GetScan retrieves a scan and its findings. The tenant predicate is
// mandatory: a scan id belonging to another tenant yields ErrScanNotFound,
// never the other tenant's data.
func (m *GormScanManager) GetScan(ctx context.Context, tenantID, scanID string) (*model.Scan, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID cannot be empty")
	}
	logger := log.NewLogger(ctx)
	logger.Debug("GetScan", zap.String("tenant_id", tenantID), zap.String("scan_id", scanID))

	db, err := m.shardFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var scan model.Scan
	err = db.WithContext(ctx).
		Preload("Findings", "tenant_id = ?", tenantID).
		Where("id = ? AND tenant_id = ?", scanID, tenantID).
		First(&scan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	cipher, err := m.cipherFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range scan.Findings {
		scan.Findings[i].Message, err = cipher.Open(scan.Findings[i].Message)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		scan.Findings[i].Evidence, err = cipher.Open(scan.Findings[i].Evidence)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}
	return &scan, nil
}

// ListScans retrieves the tenant's scans, most recent first, without findings.
func (m *GormScanManager) ListScans(ctx context.Context, tenantID string, filter ListFilter) ([]model.Scan, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID cannot be empty")
	}

	db, err := m.shardFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	query := db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC")
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var scans []model.Scan
	if err := query.Find(&scans).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return scans, nil
}

// AutoMigrate creates the scan and finding tables on every configured shard.
func AutoMigrate(ctx context.Context, pool *sql.ShardPool) error {
	return pool.Each(ctx, func(_ string, db *gorm.DB) error {
		if err := db.WithContext(ctx).AutoMigrate(&model.Scan{}, &model.Finding{}); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		return nil
	})
}
