// Package convert maps legacy network variables onto the parameter layout of
// the StyleGAN2 module tree.
package convert

import (
	"fmt"

	"github.com/23skdu/longbow-restyle/internal/tensor"
)

// Kind selects the conversion applied to one legacy layer.
type Kind int

const (
	KindModConv Kind = iota
	KindConv
	KindToRGB
	KindDense
	KindConst
	KindNoise
)

func (k Kind) String() string {
	switch k {
	case KindModConv:
		return "modconv"
	case KindConv:
		return "conv"
	case KindToRGB:
		return "torgb"
	case KindDense:
		return "dense"
	case KindConst:
		return "const"
	case KindNoise:
		return "noise"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Layer describes one legacy layer and where its variables land.
type Layer struct {
	Resolution int
	Kind       Kind
	Source     string // legacy path prefix, or the full variable path for const/noise
	Target     string // target key prefix, or the full key for const/noise
	Flip       bool
	Start      int
	Bias       bool
}

// Source is a read-only view of legacy variables.
type Source interface {
	Lookup(key string) (*tensor.Tensor, bool)
}

// MissingKeyError reports a legacy variable the layer mapping requires but
// the network does not have.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("legacy variable %s is not found", e.Key)
}

// convPerm turns [kh, kw, in, out] into [out, in, kh, kw].
var convPerm = []int{3, 2, 0, 1}

func lookup(src Source, key string) (*tensor.Tensor, error) {
	t, ok := src.Lookup(key)
	if !ok || t == nil {
		return nil, &MissingKeyError{Key: key}
	}
	return t, nil
}

// modulated converts the weight and modulation of a modulated conv.
func modulated(src Source, source, target string, flip bool, out map[string]*tensor.Tensor) error {
	w, err := lookup(src, source+"/weight")
	if err != nil {
		return err
	}
	modW, err := lookup(src, source+"/mod_weight")
	if err != nil {
		return err
	}
	modB, err := lookup(src, source+"/mod_bias")
	if err != nil {
		return err
	}

	conv, err := w.Permute(convPerm...)
	if err != nil {
		return fmt.Errorf("%s/weight: %w", source, err)
	}
	if conv, err = conv.ExpandDims(0); err != nil {
		return err
	}
	if flip {
		if conv, err = conv.Flip(3, 4); err != nil {
			return fmt.Errorf("%s/weight: %w", source, err)
		}
	}
	mw, err := modW.Transpose()
	if err != nil {
		return fmt.Errorf("%s/mod_weight: %w", source, err)
	}

	out[target+".conv.weight"] = conv
	out[target+".conv.modulation.weight"] = mw
	out[target+".conv.modulation.bias"] = modB.AddScalar(1)
	return nil
}

// ConvertModConv converts a styled conv layer: modulated weight, noise
// strength and activation bias. flip mirrors the kernel spatially, which
// upsampling layers need.
func ConvertModConv(src Source, source, target string, flip bool) (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, 5)
	if err := modulated(src, source, target, flip, out); err != nil {
		return nil, err
	}

	ns, err := lookup(src, source+"/noise_strength")
	if err != nil {
		return nil, err
	}
	if out[target+".noise.weight"], err = ns.Reshape(1); err != nil {
		return nil, fmt.Errorf("%s/noise_strength: %w", source, err)
	}

	b, err := lookup(src, source+"/bias")
	if err != nil {
		return nil, err
	}
	out[target+".activate.bias"] = b.Clone()
	return out, nil
}

// ConvertToRGB converts a ToRGB layer. The bias becomes (1, C, 1, 1).
func ConvertToRGB(src Source, source, target string) (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, 4)
	if err := modulated(src, source, target, false, out); err != nil {
		return nil, err
	}

	b, err := lookup(src, source+"/bias")
	if err != nil {
		return nil, err
	}
	if out[target+".bias"], err = b.Reshape(1, b.Numel(), 1, 1); err != nil {
		return nil, fmt.Errorf("%s/bias: %w", source, err)
	}
	return out, nil
}

// ConvertConv converts a plain conv into Sequential slots start (weight) and
// start+1 (bias).
func ConvertConv(src Source, source, target string, bias bool, start int) (map[string]*tensor.Tensor, error) {
	w, err := lookup(src, source+"/weight")
	if err != nil {
		return nil, err
	}
	conv, err := w.Permute(convPerm...)
	if err != nil {
		return nil, fmt.Errorf("%s/weight: %w", source, err)
	}

	out := map[string]*tensor.Tensor{
		fmt.Sprintf("%s.%d.weight", target, start): conv,
	}
	if bias {
		b, err := lookup(src, source+"/bias")
		if err != nil {
			return nil, err
		}
		out[fmt.Sprintf("%s.%d.bias", target, start+1)] = b.Clone()
	}
	return out, nil
}

// ConvertDense converts a fully connected layer.
func ConvertDense(src Source, source, target string) (map[string]*tensor.Tensor, error) {
	w, err := lookup(src, source+"/weight")
	if err != nil {
		return nil, err
	}
	b, err := lookup(src, source+"/bias")
	if err != nil {
		return nil, err
	}
	wt, err := w.Transpose()
	if err != nil {
		return nil, fmt.Errorf("%s/weight: %w", source, err)
	}
	return map[string]*tensor.Tensor{
		target + ".weight": wt,
		target + ".bias":   b.Clone(),
	}, nil
}

// Copy renames a single variable without changing its values.
func Copy(src Source, source, target string) (map[string]*tensor.Tensor, error) {
	t, err := lookup(src, source)
	if err != nil {
		return nil, err
	}
	return map[string]*tensor.Tensor{target: t.Clone()}, nil
}

// Apply runs the conversion for l's kind.
func Apply(src Source, l Layer) (map[string]*tensor.Tensor, error) {
	switch l.Kind {
	case KindModConv:
		return ConvertModConv(src, l.Source, l.Target, l.Flip)
	case KindConv:
		return ConvertConv(src, l.Source, l.Target, l.Bias, l.Start)
	case KindToRGB:
		return ConvertToRGB(src, l.Source, l.Target)
	case KindDense:
		return ConvertDense(src, l.Source, l.Target)
	case KindConst, KindNoise:
		return Copy(src, l.Source, l.Target)
	default:
		return nil, fmt.Errorf("unknown layer kind %v", l.Kind)
	}
}
