package convert

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/23skdu/longbow-restyle/internal/logger"
	"github.com/23skdu/longbow-restyle/internal/metrics"
	"github.com/23skdu/longbow-restyle/internal/state"
	"github.com/23skdu/longbow-restyle/internal/tensor"
)

// errorType classifies err for the validation error counter.
func errorType(err error) string {
	var (
		notFound *state.KeyNotFoundError
		mismatch *state.ShapeMismatchError
		missing  *MissingKeyError
	)
	switch {
	case errors.As(err, &notFound):
		return "key_not_found"
	case errors.As(err, &mismatch):
		return "shape_mismatch"
	case errors.As(err, &missing):
		return "missing_legacy_key"
	default:
		return "other"
	}
}

// Fill converts every layer from src and writes it into st, in order. The
// first failure stops the fill; layers already written stay written.
func Fill(st *state.State, src Source, layers []Layer) error {
	log := logger.Log.With("section", st.Name())
	start := time.Now()

	for _, l := range layers {
		entries, err := Apply(src, l)
		if err != nil {
			metrics.RecordValidationError("convert", errorType(err))
			return fmt.Errorf("%s: convert %s: %w", st.Name(), l.Source, err)
		}
		if err := st.Update(entries); err != nil {
			metrics.RecordValidationError("update", errorType(err))
			return fmt.Errorf("%s -> %s: %w", l.Source, l.Target, err)
		}

		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t := entries[k]
			metrics.RecordTensorConverted(l.Kind.String(), t.Numel())
			checkFinite(log, st.Name()+"."+k, t)
		}
		log.Debug("Converted layer",
			"source", l.Source,
			"target", l.Target,
			"kind", l.Kind.String(),
			"resolution", l.Resolution,
			"tensors", len(entries))
	}

	elapsed := time.Since(start)
	untouched := st.Untouched()
	metrics.RecordUntouched(st.Name(), len(untouched))
	metrics.RecordConversionDuration(st.Name(), elapsed)
	log.Info("Filled state",
		"layers", len(layers),
		"written", len(st.Written()),
		"untouched", len(untouched),
		"duration", elapsed.String())
	return nil
}

func checkFinite(log *logger.Logger, name string, t *tensor.Tensor) {
	s := t.Stats()
	if !s.HasNonFinite() {
		return
	}
	metrics.RecordNumericalInstability(name, s.NaN, s.Inf)
	log.Warn("Non-finite values in converted tensor", "tensor", name, "nan", s.NaN, "inf", s.Inf)
}

// FillGenerator fills a generator state from a flattened generator network.
func FillGenerator(st *state.State, src Source, size, nMLP int) error {
	return Fill(st, src, GeneratorLayers(size, nMLP))
}

// FillDiscriminator fills a discriminator state from a flattened
// discriminator network.
func FillDiscriminator(st *state.State, src Source, size int) error {
	return Fill(st, src, DiscriminatorLayers(size))
}
