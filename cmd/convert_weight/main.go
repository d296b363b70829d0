package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/23skdu/longbow-restyle/internal/config"
	"github.com/23skdu/longbow-restyle/internal/convert"
	"github.com/23skdu/longbow-restyle/internal/logger"
)

func parseFlags(args []string, stderr io.Writer) (config.Config, error) {
	cfg := config.Default()
	fs := flag.NewFlagSet("convert_weight", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.InputPath, "path", "", "Path to the legacy network snapshot pickle")
	fs.BoolVar(&cfg.EmitGenerator, "gen", false, "Also convert the training generator G")
	fs.BoolVar(&cfg.EmitDiscriminator, "disc", false, "Also convert the discriminator D")
	fs.IntVar(&cfg.ChannelMultiplier, "channel_multiplier", cfg.ChannelMultiplier, "Channel multiplier of the network")
	fs.IntVar(&cfg.Size, "size", 0, "Output resolution (0 = infer from the snapshot)")
	fs.IntVar(&cfg.NMLP, "n_mlp", 0, "Mapping network depth (0 = infer)")
	fs.IntVar(&cfg.StyleDim, "style_dim", 0, "Latent width (0 = infer)")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Seed for parameters the snapshot does not provide")
	fs.IntVar(&cfg.MinLegacyVersion, "min_version", cfg.MinLegacyVersion, "Oldest accepted network pickle version (at least 4)")
	fs.StringVar(&cfg.TensorType, "dtype", cfg.TensorType, "Stored tensor type: f32 or f16")
	fs.StringVar(&cfg.OutputPath, "out", "", "Output checkpoint path (default <input stem>.gguf)")
	fs.StringVar(&cfg.ManifestPath, "manifest", "", "Write an Arrow IPC tensor manifest to this path")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: console or json")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	res, err := convert.Run(cfg)
	if err != nil {
		logger.Log.Error("Conversion failed", "input", cfg.InputPath, "error", err.Error())
		os.Exit(1)
	}
	fmt.Printf("Wrote %s (%d tensors, %d bytes)\n", res.OutputPath, res.Tensors, res.Bytes)
}
