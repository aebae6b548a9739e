package ctxbudget

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/youssefsiam38/ctxbudget/analyzer"
	"github.com/youssefsiam38/ctxbudget/budget"
	"github.com/youssefsiam38/ctxbudget/checkpoint"
	"github.com/youssefsiam38/ctxbudget/compaction"
	"github.com/youssefsiam38/ctxbudget/optimizer"
	"github.com/youssefsiam38/ctxbudget/tokens"
	"github.com/youssefsiam38/ctxbudget/types"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Default maintenance intervals.
const (
	DefaultWatchInterval     = 30 * time.Second
	DefaultRetentionInterval = time.Hour
	DefaultRetentionMaxAge   = 7 * 24 * time.Hour
)

// StorageConfig selects the checkpoint backend.
type StorageConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	// Default: "memory"
	Driver string `yaml:"driver" toml:"driver"`

	// Path is the SQLite database file.
	Path string `yaml:"path" toml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn" toml:"dsn"`

	// PoolSize bounds SQLite connections.
	// Default: 4
	PoolSize int `yaml:"pool_size" toml:"pool_size"`
}

// RetentionConfig controls background checkpoint pruning.
type RetentionConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Default: 1h
	Interval types.Duration `yaml:"interval" toml:"interval"`

	// Default: 168h
	MaxAge types.Duration `yaml:"max_age" toml:"max_age"`
}

// Config aggregates the configuration of every component. The zero value
// of any section means "use that component's defaults".
//
// Example YAML:
//
//	budget:
//	  total: 100000
//	  system: 0
//	  conversation: 80000
//	  tool_results: 5000
//	  reserve: 15000
//	optimizer:
//	  default_strategy: balanced
//	  auto_checkpoint: true
//	storage:
//	  driver: sqlite
//	  path: ~/.ctxbudget/checkpoints.db
type Config struct {
	Tokens     tokens.Config     `yaml:"tokens" toml:"tokens"`
	Analyzer   analyzer.Config   `yaml:"analyzer" toml:"analyzer"`
	Compaction compaction.Config `yaml:"compaction" toml:"compaction"`
	Budget     budget.Config     `yaml:"budget" toml:"budget"`
	Checkpoint checkpoint.Config `yaml:"checkpoint" toml:"checkpoint"`
	Optimizer  optimizer.Config  `yaml:"optimizer" toml:"optimizer"`
	Storage    StorageConfig     `yaml:"storage" toml:"storage"`
	Retention  RetentionConfig   `yaml:"retention" toml:"retention"`

	// WatchInterval is how often the budget level is sampled once the
	// client is started.
	// Default: 30s
	WatchInterval types.Duration `yaml:"watch_interval" toml:"watch_interval"`
}

// DefaultConfig returns the configuration every component defaults to.
func DefaultConfig() *Config {
	c := baseConfig()
	c.ApplyDefaults()
	return c
}

// baseConfig holds component defaults with the derived fields left zero so
// ApplyDefaults can fill them from the budget section.
func baseConfig() *Config {
	c := &Config{
		Tokens:     *tokens.DefaultConfig(),
		Compaction: *compaction.DefaultConfig(),
		Budget:     *budget.DefaultConfig(),
		Checkpoint: *checkpoint.DefaultConfig(),
		Optimizer:  *optimizer.DefaultConfig(),
	}
	c.Optimizer.BudgetLimit = 0
	return c
}

// ApplyDefaults fills in zero values with defaults. The budget total, when
// set, also becomes the optimizer's limit and the analyzer inherits the
// budget thresholds, so one budget section configures all three.
func (c *Config) ApplyDefaults() {
	c.Tokens.ApplyDefaults()
	c.Budget.ApplyDefaults()
	c.Compaction.ApplyDefaults()
	c.Checkpoint.ApplyDefaults()

	if c.Analyzer.WarningThreshold == 0 {
		c.Analyzer.WarningThreshold = c.Budget.WarningThreshold
	}
	if c.Analyzer.CriticalThreshold == 0 {
		c.Analyzer.CriticalThreshold = c.Budget.CriticalThreshold
	}
	c.Analyzer.ApplyDefaults()

	if c.Optimizer.BudgetLimit == 0 {
		c.Optimizer.BudgetLimit = c.Budget.Total
	}
	c.Optimizer.ApplyDefaults()

	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Retention.Interval == 0 {
		c.Retention.Interval = types.Duration(DefaultRetentionInterval)
	}
	if c.Retention.MaxAge == 0 {
		c.Retention.MaxAge = types.Duration(DefaultRetentionMaxAge)
	}
	if c.WatchInterval == 0 {
		c.WatchInterval = types.Duration(DefaultWatchInterval)
	}
}

// Validate checks every section. Errors wrap ErrInvalidConfig as well as
// the component's own sentinel, if it has one.
func (c *Config) Validate() error {
	checks := []struct {
		section string
		err     error
	}{
		{"tokens", c.Tokens.Validate()},
		{"analyzer", c.Analyzer.Validate()},
		{"compaction", c.Compaction.Validate()},
		{"budget", c.Budget.Validate()},
		{"checkpoint", c.Checkpoint.Validate()},
		{"optimizer", c.Optimizer.Validate()},
		{"storage", c.Storage.validate()},
	}
	for _, check := range checks {
		if check.err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, check.section, check.err)
		}
	}
	if c.Retention.Interval < 0 || c.Retention.MaxAge < 0 || c.WatchInterval < 0 {
		return fmt.Errorf("%w: intervals must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c *StorageConfig) validate() error {
	switch c.Driver {
	case StorageMemory:
	case StorageSQLite:
		if c.Path == "" {
			return fmt.Errorf("sqlite storage requires a path")
		}
	case StoragePostgres:
		if c.DSN == "" {
			return fmt.Errorf("postgres storage requires a dsn")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorageDriver, c.Driver)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("pool_size must not be negative")
	}
	return nil
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file over the
// defaults and validates the result. Budget caps not named in the file keep
// their defaults, so a file that lowers the total usually sets all four.
// A leading ~ in storage.path is expanded to the home directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	config := baseConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".toml":
		err = toml.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("%w: unsupported config file extension %q", ErrInvalidConfig, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}

	config.Storage.Path = expandPath(config.Storage.Path)
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return path
	}
	trimmed := strings.TrimPrefix(path, "~")
	trimmed = strings.TrimPrefix(trimmed, string(os.PathSeparator))
	return filepath.Join(home, trimmed)
}
