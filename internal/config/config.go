// Package config loads the engine configuration from YAML with environment
// overrides. Configuration is an explicitly injected value: the host process
// loads it at startup and passes it into the validator, scanners, and
// persistence layer.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/modelguard/modelguard/internal/policy"
)

// ShardConfig describes one data shard.
type ShardConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// Path is the database file path for sqlite shards.
	Path string `yaml:"path"`
	// DSN is the connection string for postgres shards.
	DSN string `yaml:"dsn"`
	// InstanceConnectionName selects a Cloud SQL instance; when set the
	// shard dials through the Cloud SQL connector instead of the DSN host.
	InstanceConnectionName string `yaml:"instance_connection_name"`
	User                   string `yaml:"user"`
	Password               string `yaml:"password"`
	Database               string `yaml:"database"`
}

// TenantConfig provisions one tenant for single-node deployments, where
// tenant state comes from configuration rather than a management service.
type TenantConfig struct {
	// Shard is the shard identifier the tenant's data lives on.
	Shard string `yaml:"shard"`
	// Key is the tenant's base64-encoded 32-byte encryption key.
	Key string `yaml:"key"`
	// KeyVersion is the key's rotation version.
	KeyVersion uint8 `yaml:"key_version"`
	// Thresholds override the default gate thresholds when set.
	Thresholds *policy.Thresholds `yaml:"thresholds"`
}

// ObjectStoreConfig configures the optional manifest object store.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Config is the engine configuration.
type Config struct {
	// AllowedRoots are the local filesystem roots scan targets must resolve under.
	AllowedRoots []string `yaml:"allowed_roots"`
	// ModelHosts is the scheme+domain allowlist for remote model references.
	ModelHosts []string `yaml:"model_hosts"`
	// RepoHosts is the distinct allowlist of repository hosts that
	// configuration bundles may be auto-fetched from.
	RepoHosts []string `yaml:"repo_hosts"`
	// Aliases maps shorthand reference schemes to canonical hosts,
	// e.g. hf -> huggingface.co.
	Aliases map[string]string `yaml:"aliases"`

	// ModelAuditBin is the external model auditing binary.
	ModelAuditBin string `yaml:"model_audit_bin"`
	// MinToolVersion is the minimum accepted model audit tool version.
	MinToolVersion string `yaml:"min_tool_version"`
	// WritableDir is a provisioned writable directory handed to scanner
	// child processes as HOME/cache/tmp. Required when the host filesystem
	// is read-only outside explicitly provisioned volumes.
	WritableDir string `yaml:"writable_dir"`
	// ScanTimeout bounds each adapter invocation.
	ScanTimeout time.Duration `yaml:"scan_timeout"`
	// Workers bounds the sub-scanner fan-out; zero means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// DefaultThresholds gate scans for tenants without their own policy.
	DefaultThresholds policy.Thresholds `yaml:"default_thresholds"`

	// Shards maps shard identifiers to their connection settings.
	Shards map[string]ShardConfig `yaml:"shards"`

	// Tenants provisions tenant state for single-node deployments.
	Tenants map[string]TenantConfig `yaml:"tenants"`

	// ObjectStore is the optional manifest store; empty endpoint disables it.
	ObjectStore ObjectStoreConfig `yaml:"object_store"`

	// RepoToken authorizes repository-host bundle fetches.
	RepoToken string `yaml:"-"`
}

// Default returns a configuration with conservative defaults.
func Default() *Config {
	return &Config{
		ModelHosts:        []string{"huggingface.co"},
		Aliases:           map[string]string{"hf": "huggingface.co"},
		ModelAuditBin:     "modelaudit",
		ScanTimeout:       5 * time.Minute,
		Workers:           runtime.NumCPU(),
		DefaultThresholds: policy.DefaultThresholds(),
	}
}

// Load reads the YAML config at path and applies environment overrides.
// A missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	_ = godotenv.Load() //nolint:errcheck

	if v := os.Getenv("MODELGUARD_WRITABLE_DIR"); v != "" {
		cfg.WritableDir = v
	}
	if v := os.Getenv("MODELGUARD_AUDIT_BIN"); v != "" {
		cfg.ModelAuditBin = v
	}
	if v := os.Getenv("MODELGUARD_REPO_TOKEN"); v != "" {
		cfg.RepoToken = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.ModelHosts) == 0 {
		return fmt.Errorf("at least one allowed model host is required")
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be positive")
	}
	for id, shard := range c.Shards {
		switch shard.Driver {
		case "sqlite":
			if shard.Path == "" {
				return fmt.Errorf("shard %s: sqlite shard requires a path", id)
			}
		case "postgres":
			if shard.DSN == "" && shard.InstanceConnectionName == "" {
				return fmt.Errorf("shard %s: postgres shard requires a dsn or instance connection name", id)
			}
		default:
			return fmt.Errorf("shard %s: unsupported driver %q", id, shard.Driver)
		}
	}
	for id, t := range c.Tenants {
		if _, ok := c.Shards[t.Shard]; !ok {
			return fmt.Errorf("tenant %s: shard %q is not configured", id, t.Shard)
		}
		if t.Key == "" {
			return fmt.Errorf("tenant %s: encryption key is required", id)
		}
	}
	return nil
}
