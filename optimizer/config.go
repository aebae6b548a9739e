package optimizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/youssefsiam38/ctxbudget/types"
)

// ErrInvalidConfig indicates invalid optimizer configuration.
var ErrInvalidConfig = errors.New("invalid optimizer configuration")

// Default configuration values.
const (
	DefaultBudgetLimit      = 200000
	DefaultMinSectionTokens = 50
	DefaultSummarizeTimeout = 30 * time.Second
)

// Config holds optimizer configuration.
type Config struct {
	// DefaultStrategy is used when Optimize is called without a strategy.
	// Default: balanced
	DefaultStrategy types.Strategy `yaml:"default_strategy" toml:"default_strategy"`

	// TriggerLevel is the lowest warning level at which Optimize compresses.
	// Below it the snapshot is returned unchanged.
	// Default: warning
	TriggerLevel types.WarningLevel `yaml:"trigger_level" toml:"trigger_level"`

	// BudgetLimit is the token ceiling the warning level is measured against.
	// Default: 200000
	BudgetLimit int `yaml:"budget_limit" toml:"budget_limit"`

	// AutoCheckpoint stores a checkpoint before and after every optimization
	// that compresses.
	AutoCheckpoint bool `yaml:"auto_checkpoint" toml:"auto_checkpoint"`

	// CheckpointOnPhaseBoundary enables CheckpointPhase.
	CheckpointOnPhaseBoundary bool `yaml:"checkpoint_on_phase_boundary" toml:"checkpoint_on_phase_boundary"`

	// ProtectedKinds are never compressed.
	// Default: [system]
	ProtectedKinds []types.SectionKind `yaml:"protected_kinds" toml:"protected_kinds"`

	// MinSectionTokens skips sections smaller than this.
	// Default: 50
	MinSectionTokens int `yaml:"min_section_tokens" toml:"min_section_tokens"`

	// SummarizeKinds are additionally passed through the summarizer after the
	// strategy runs. Empty disables summarization.
	SummarizeKinds []types.SectionKind `yaml:"summarize_kinds" toml:"summarize_kinds"`

	// SummarizeTimeout bounds each summarizer call.
	// Default: 30s
	SummarizeTimeout types.Duration `yaml:"summarize_timeout" toml:"summarize_timeout"`
}

// DefaultConfig returns the default optimizer configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultStrategy:  types.StrategyBalanced,
		TriggerLevel:     types.WarningWarning,
		BudgetLimit:      DefaultBudgetLimit,
		ProtectedKinds:   []types.SectionKind{types.SectionSystem},
		MinSectionTokens: DefaultMinSectionTokens,
		SummarizeTimeout: types.Duration(DefaultSummarizeTimeout),
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.DefaultStrategy == "" {
		c.DefaultStrategy = defaults.DefaultStrategy
	}
	if c.TriggerLevel == "" {
		c.TriggerLevel = defaults.TriggerLevel
	}
	if c.BudgetLimit == 0 {
		c.BudgetLimit = defaults.BudgetLimit
	}
	if c.ProtectedKinds == nil {
		c.ProtectedKinds = defaults.ProtectedKinds
	}
	if c.MinSectionTokens == 0 {
		c.MinSectionTokens = defaults.MinSectionTokens
	}
	if c.SummarizeTimeout == 0 {
		c.SummarizeTimeout = defaults.SummarizeTimeout
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if !c.DefaultStrategy.Valid() {
		return fmt.Errorf("%w: unknown default strategy %q", ErrInvalidConfig, c.DefaultStrategy)
	}
	if !c.TriggerLevel.Valid() {
		return fmt.Errorf("%w: unknown trigger level %q", ErrInvalidConfig, c.TriggerLevel)
	}
	if c.BudgetLimit <= 0 {
		return fmt.Errorf("%w: budget limit must be positive", ErrInvalidConfig)
	}
	if c.MinSectionTokens < 0 {
		return fmt.Errorf("%w: min section tokens must not be negative", ErrInvalidConfig)
	}
	if c.SummarizeTimeout < 0 {
		return fmt.Errorf("%w: summarize timeout must not be negative", ErrInvalidConfig)
	}
	for _, kind := range c.ProtectedKinds {
		if !kind.Valid() {
			return fmt.Errorf("%w: unknown protected kind %q", ErrInvalidConfig, kind)
		}
	}
	for _, kind := range c.SummarizeKinds {
		if !kind.Valid() {
			return fmt.Errorf("%w: unknown summarize kind %q", ErrInvalidConfig, kind)
		}
	}
	return nil
}
