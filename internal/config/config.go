package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/23skdu/longbow-restyle/internal/legacy"
)

type Config struct {
	InputPath    string
	OutputPath   string
	ManifestPath string
	MetricsFile  string

	// Zero means inferred from the EMA generator.
	Size     int
	StyleDim int
	NMLP     int

	ChannelMultiplier int
	Seed              uint64
	MinLegacyVersion  int
	TensorType        string

	EmitGenerator     bool
	EmitDiscriminator bool

	LogLevel  string
	LogFormat string
}

// Defaults used when shape inference finds nothing.
const (
	FallbackSize     = 512
	FallbackStyleDim = 512
	FallbackNMLP     = 8
)

func Default() Config {
	return Config{
		ChannelMultiplier: 2,
		Seed:              42,
		MinLegacyVersion:  legacy.MinVersion,
		TensorType:        "f32",
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

func (c *Config) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("missing input path")
	}
	if c.Size != 0 && (c.Size < 8 || c.Size > 1024 || c.Size&(c.Size-1) != 0) {
		return fmt.Errorf("invalid size: %d (must be a power of two in [8, 1024])", c.Size)
	}
	if c.StyleDim < 0 {
		return fmt.Errorf("invalid style_dim: %d (must be non-negative)", c.StyleDim)
	}
	if c.NMLP < 0 {
		return fmt.Errorf("invalid n_mlp: %d (must be non-negative)", c.NMLP)
	}
	if c.ChannelMultiplier <= 0 {
		return fmt.Errorf("invalid channel_multiplier: %d (must be positive)", c.ChannelMultiplier)
	}
	if c.MinLegacyVersion < legacy.MinVersion {
		return fmt.Errorf("invalid min_legacy_version: %d (layer naming needs >= %d)", c.MinLegacyVersion, legacy.MinVersion)
	}
	switch strings.ToLower(c.TensorType) {
	case "f32", "f16":
	default:
		return fmt.Errorf("invalid tensor_type: %q (must be f32 or f16)", c.TensorType)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	return nil
}

// Stem is the input file name without directory and extension.
func (c *Config) Stem() string {
	base := filepath.Base(c.InputPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ResolveOutputPath returns OutputPath, or "<stem>.gguf" in the working
// directory when it is unset.
func (c *Config) ResolveOutputPath() string {
	if c.OutputPath != "" {
		return c.OutputPath
	}
	return c.Stem() + ".gguf"
}
