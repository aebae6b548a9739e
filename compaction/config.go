package compaction

import (
	"fmt"
)

// Quality scores per algorithm.
const (
	QualityMinify      = 0.95
	QualityDeduplicate = 0.9
	QualityReference   = 1.0
	QualityTruncate    = 0.5
	QualitySummarize   = 0.7
)

// Quality scores per strategy. They override the per-algorithm scores.
const (
	QualityConservative = 0.95
	QualityBalanced     = 0.8
	QualityAggressive   = 0.6
)

// Default configuration values.
const (
	DefaultMinDuplicateLineLength = 20
	DefaultTruncateKeepRatio      = 0.3
	DefaultSummarizerModel        = "claude-3-5-haiku-20241022"
	DefaultSummarizerMaxTokens    = 4096
)

// Config holds compressor configuration.
type Config struct {
	// MinDuplicateLineLength is the shortest line deduplicate will replace.
	// Shorter lines are never deduplicated.
	// Default: 20
	MinDuplicateLineLength int `yaml:"min_duplicate_line_length" toml:"min_duplicate_line_length"`

	// TruncateKeepRatio is the share of lines truncate keeps at each end.
	// Default: 0.3
	TruncateKeepRatio float64 `yaml:"truncate_keep_ratio" toml:"truncate_keep_ratio"`

	// SummarizerModel is the Claude model used by AnthropicSummarizer.
	// Default: "claude-3-5-haiku-20241022"
	SummarizerModel string `yaml:"summarizer_model" toml:"summarizer_model"`

	// SummarizerMaxTokens is the maximum tokens for the summarization response.
	// Default: 4096
	SummarizerMaxTokens int `yaml:"summarizer_max_tokens" toml:"summarizer_max_tokens"`
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		MinDuplicateLineLength: DefaultMinDuplicateLineLength,
		TruncateKeepRatio:      DefaultTruncateKeepRatio,
		SummarizerModel:        DefaultSummarizerModel,
		SummarizerMaxTokens:    DefaultSummarizerMaxTokens,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.MinDuplicateLineLength <= 0 {
		return fmt.Errorf("%w: min_duplicate_line_length must be positive, got %d",
			ErrInvalidConfig, c.MinDuplicateLineLength)
	}

	if c.TruncateKeepRatio <= 0 || c.TruncateKeepRatio >= 0.5 {
		return fmt.Errorf("%w: truncate_keep_ratio must be in (0, 0.5), got %f",
			ErrInvalidConfig, c.TruncateKeepRatio)
	}

	if c.SummarizerModel == "" {
		return fmt.Errorf("%w: summarizer_model is required", ErrInvalidConfig)
	}

	if c.SummarizerMaxTokens <= 0 {
		return fmt.Errorf("%w: summarizer_max_tokens must be positive, got %d",
			ErrInvalidConfig, c.SummarizerMaxTokens)
	}

	return nil
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.MinDuplicateLineLength == 0 {
		c.MinDuplicateLineLength = DefaultMinDuplicateLineLength
	}
	if c.TruncateKeepRatio == 0 {
		c.TruncateKeepRatio = DefaultTruncateKeepRatio
	}
	if c.SummarizerModel == "" {
		c.SummarizerModel = DefaultSummarizerModel
	}
	if c.SummarizerMaxTokens == 0 {
		c.SummarizerMaxTokens = DefaultSummarizerMaxTokens
	}
}
