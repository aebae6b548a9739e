package checkpoint

import (
	"fmt"

	"github.com/youssefsiam38/ctxbudget/internal/codec"
)

// Default configuration values.
const (
	DefaultKeyframeInterval = 10
	DefaultCompression      = "zstd"
)

// Config holds checkpoint store configuration.
type Config struct {
	// KeyframeInterval bounds delta chains: once a new checkpoint would sit
	// this many deltas away from a full node, a full node is stored instead.
	// Default: 10
	KeyframeInterval int `yaml:"keyframe_interval" toml:"keyframe_interval"`

	// Compression is the payload compression: "zstd", "lz4" or "none".
	// Default: "zstd"
	Compression string `yaml:"compression" toml:"compression"`
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		KeyframeInterval: DefaultKeyframeInterval,
		Compression:      DefaultCompression,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.KeyframeInterval == 0 {
		c.KeyframeInterval = DefaultKeyframeInterval
	}
	if c.Compression == "" {
		c.Compression = DefaultCompression
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.KeyframeInterval < 1 {
		return fmt.Errorf("%w: keyframe_interval must be at least 1", ErrInvalidConfig)
	}
	if _, err := codec.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) compression() codec.Compression {
	compression, err := codec.ParseCompression(c.Compression)
	if err != nil {
		return codec.CompressionZstd
	}
	return compression
}
