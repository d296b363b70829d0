package convert

import (
	"fmt"
	"time"

	"github.com/23skdu/longbow-restyle/internal/arch"
	"github.com/23skdu/longbow-restyle/internal/checkpoint"
	"github.com/23skdu/longbow-restyle/internal/config"
	"github.com/23skdu/longbow-restyle/internal/gguf"
	"github.com/23skdu/longbow-restyle/internal/legacy"
	"github.com/23skdu/longbow-restyle/internal/logger"
	"github.com/23skdu/longbow-restyle/internal/manifest"
	"github.com/23skdu/longbow-restyle/internal/metrics"
)

// Result summarises a completed conversion.
type Result struct {
	OutputPath string
	Arch       arch.Config
	Sections   []string
	Tensors    int
	Bytes      uint64
}

// ResolveArch fills the zero shape fields of cfg from what InferShape found,
// falling back to the standard 512x512, 8-layer mapping configuration.
func ResolveArch(cfg config.Config, inferred Shape) arch.Config {
	pick := func(set, found, fallback int) int {
		switch {
		case set > 0:
			return set
		case found > 0:
			return found
		default:
			return fallback
		}
	}
	return arch.Config{
		Size:              pick(cfg.Size, inferred.Size, config.FallbackSize),
		StyleDim:          pick(cfg.StyleDim, inferred.StyleDim, config.FallbackStyleDim),
		NMLP:              pick(cfg.NMLP, inferred.NMLP, config.FallbackNMLP),
		ChannelMultiplier: cfg.ChannelMultiplier,
		MaxChannels:       inferred.MaxChannels,
		Seed:              cfg.Seed,
	}
}

func collect(label string, net *legacy.Network, minVersion int) (legacy.Store, error) {
	store, err := legacy.Collect(label, net, minVersion)
	if err != nil {
		return nil, err
	}
	metrics.RecordLegacyVariables(label, len(store))
	logger.Log.Debug("Collected legacy network", "network", label, "variables", len(store))
	return store, nil
}

// Run converts the snapshot named by cfg and writes the checkpoint. Nothing
// is written unless every requested section converts cleanly.
func Run(cfg config.Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	typ, err := gguf.ParseType(cfg.TensorType)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	snap, err := legacy.LoadFile(cfg.InputPath)
	if err != nil {
		return nil, err
	}
	for _, n := range snap.Networks() {
		if err := legacy.CheckVersion(n.Label, n.Net, cfg.MinLegacyVersion); err != nil {
			metrics.RecordValidationError("load", "version")
			return nil, err
		}
	}

	gs, err := collect("Gs", snap.Gs, cfg.MinLegacyVersion)
	if err != nil {
		return nil, err
	}
	ac := ResolveArch(cfg, InferShape(gs))
	if err := ac.Validate(); err != nil {
		metrics.RecordValidationError("arch", "config")
		return nil, err
	}
	logger.Log.Info("Converting checkpoint",
		"input", cfg.InputPath,
		"size", ac.Size,
		"style_dim", ac.StyleDim,
		"n_mlp", ac.NMLP,
		"channel_multiplier", ac.ChannelMultiplier)

	ckpt := checkpoint.New(checkpoint.Meta{
		Name:              cfg.Stem(),
		Size:              ac.Size,
		StyleDim:          ac.StyleDim,
		NMLP:              ac.NMLP,
		ChannelMultiplier: ac.ChannelMultiplier,
	})

	gEma, err := arch.NewGenerator("g_ema", ac)
	if err != nil {
		return nil, err
	}
	if err := FillGenerator(gEma, gs, ac.Size, ac.NMLP); err != nil {
		return nil, err
	}
	ckpt.AddState("g_ema", gEma)

	latent, err := lookup(gs, "dlatent_avg")
	if err != nil {
		metrics.RecordValidationError("convert", errorType(err))
		return nil, err
	}
	ckpt.LatentAvg = latent.Clone()

	if cfg.EmitGenerator {
		store, err := collect("G", snap.G, cfg.MinLegacyVersion)
		if err != nil {
			return nil, err
		}
		g, err := arch.NewGenerator("g", ac)
		if err != nil {
			return nil, err
		}
		if err := FillGenerator(g, store, ac.Size, ac.NMLP); err != nil {
			return nil, err
		}
		ckpt.AddState("g", g)
	}

	if cfg.EmitDiscriminator {
		store, err := collect("D", snap.D, cfg.MinLegacyVersion)
		if err != nil {
			return nil, err
		}
		d, err := arch.NewDiscriminator("d", ac)
		if err != nil {
			return nil, err
		}
		if err := FillDiscriminator(d, store, ac.Size); err != nil {
			return nil, err
		}
		ckpt.AddState("d", d)
	}

	out := cfg.ResolveOutputPath()
	n, err := ckpt.Save(out, typ)
	if err != nil {
		return nil, err
	}
	metrics.RecordCheckpointBytes(n)

	if cfg.ManifestPath != "" {
		if err := manifest.WriteFile(cfg.ManifestPath, ckpt); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
	}

	res := &Result{
		OutputPath: out,
		Arch:       ac,
		Sections:   ckpt.SectionNames(),
		Tensors:    len(ckpt.Tensors()),
		Bytes:      n,
	}
	logger.Log.Info("Checkpoint written",
		"path", out,
		"sections", res.Sections,
		"tensors", res.Tensors,
		"tensors_converted", metrics.TotalTensors(),
		"bytes", n,
		"duration", time.Since(start).String())

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}
	return res, nil
}
