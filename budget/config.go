package budget

import (
	"errors"
	"fmt"

	"github.com/youssefsiam38/ctxbudget/types"
)

// ErrInvalidConfig indicates a budget configuration that violates the cap
// sum or threshold ordering rules.
var ErrInvalidConfig = errors.New("invalid budget configuration")

// Section names one budget pool.
type Section string

const (
	SectionSystem       Section = "system"
	SectionConversation Section = "conversation"
	SectionToolResults  Section = "toolResults"
	SectionReserve      Section = "reserve"
)

// Sections lists the pools in display order.
var Sections = []Section{SectionSystem, SectionConversation, SectionToolResults, SectionReserve}

// Valid reports whether s is a known section.
func (s Section) Valid() bool {
	switch s {
	case SectionSystem, SectionConversation, SectionToolResults, SectionReserve:
		return true
	}
	return false
}

// Default configuration values.
const (
	DefaultTotal              = 200000
	DefaultSystem             = 20000
	DefaultConversation       = 100000
	DefaultToolResults        = 50000
	DefaultReserve            = 30000
	DefaultReallocationBuffer = 0.10
)

// Config is the budget ceiling and the cap of each section.
type Config struct {
	// Total is the global ceiling.
	// Default: 200000
	Total int `yaml:"total" toml:"total"`

	System       int `yaml:"system" toml:"system"`
	Conversation int `yaml:"conversation" toml:"conversation"`
	ToolResults  int `yaml:"tool_results" toml:"tool_results"`

	// Reserve is the pool other sections borrow from once they exceed
	// their own cap.
	Reserve int `yaml:"reserve" toml:"reserve"`

	// WarningThreshold is the usage percent at which the level becomes warning.
	// Default: 75
	WarningThreshold float64 `yaml:"warning_threshold" toml:"warning_threshold"`

	// CriticalThreshold is the usage percent at which the level becomes critical.
	// Default: 90
	CriticalThreshold float64 `yaml:"critical_threshold" toml:"critical_threshold"`

	// ReallocationBuffer is the headroom share withheld from reallocation
	// suggestions.
	// Default: 0.10
	ReallocationBuffer float64 `yaml:"reallocation_buffer" toml:"reallocation_buffer"`
}

// DefaultConfig returns a 200K budget split across the four sections.
func DefaultConfig() *Config {
	return &Config{
		Total:              DefaultTotal,
		System:             DefaultSystem,
		Conversation:       DefaultConversation,
		ToolResults:        DefaultToolResults,
		Reserve:            DefaultReserve,
		WarningThreshold:   types.DefaultWarningThreshold,
		CriticalThreshold:  types.DefaultCriticalThreshold,
		ReallocationBuffer: DefaultReallocationBuffer,
	}
}

// ApplyDefaults fills in zero thresholds and buffer. Caps are left alone:
// a zero cap is a valid choice.
func (c *Config) ApplyDefaults() {
	if c.WarningThreshold == 0 {
		c.WarningThreshold = types.DefaultWarningThreshold
	}
	if c.CriticalThreshold == 0 {
		c.CriticalThreshold = types.DefaultCriticalThreshold
	}
	if c.ReallocationBuffer == 0 {
		c.ReallocationBuffer = DefaultReallocationBuffer
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Total <= 0 {
		return fmt.Errorf("%w: total must be positive, got %d", ErrInvalidConfig, c.Total)
	}

	for _, s := range Sections {
		if n := c.Cap(s); n < 0 {
			return fmt.Errorf("%w: %s cap must be non-negative, got %d", ErrInvalidConfig, s, n)
		}
	}

	if sum := c.Allocated(); sum > c.Total {
		return fmt.Errorf("%w: section caps sum to %d, exceeding total %d", ErrInvalidConfig, sum, c.Total)
	}

	if c.WarningThreshold <= 0 || c.WarningThreshold >= 100 {
		return fmt.Errorf("%w: warning_threshold must be in (0,100), got %f", ErrInvalidConfig, c.WarningThreshold)
	}

	if c.CriticalThreshold <= 0 || c.CriticalThreshold >= 100 {
		return fmt.Errorf("%w: critical_threshold must be in (0,100), got %f", ErrInvalidConfig, c.CriticalThreshold)
	}

	if c.WarningThreshold >= c.CriticalThreshold {
		return fmt.Errorf("%w: warning_threshold (%f) must be less than critical_threshold (%f)",
			ErrInvalidConfig, c.WarningThreshold, c.CriticalThreshold)
	}

	if c.ReallocationBuffer < 0 || c.ReallocationBuffer >= 1 {
		return fmt.Errorf("%w: reallocation_buffer must be in [0,1), got %f", ErrInvalidConfig, c.ReallocationBuffer)
	}

	return nil
}

// Cap returns the configured cap of a section, or 0 for unknown sections.
func (c *Config) Cap(s Section) int {
	switch s {
	case SectionSystem:
		return c.System
	case SectionConversation:
		return c.Conversation
	case SectionToolResults:
		return c.ToolResults
	case SectionReserve:
		return c.Reserve
	default:
		return 0
	}
}

// SetCap sets the cap of a section. Unknown sections are ignored.
func (c *Config) SetCap(s Section, n int) {
	switch s {
	case SectionSystem:
		c.System = n
	case SectionConversation:
		c.Conversation = n
	case SectionToolResults:
		c.ToolResults = n
	case SectionReserve:
		c.Reserve = n
	}
}

// Allocated returns the sum of the four caps.
func (c *Config) Allocated() int {
	return c.System + c.Conversation + c.ToolResults + c.Reserve
}
