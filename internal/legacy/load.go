package legacy

import (
	"fmt"
	"io"
	"os"

	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"
)

// FormatError reports input that does not match the expected pickle layout.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "legacy format: " + e.Reason
}

// VersionError reports a network pickled with an older naming convention.
type VersionError struct {
	Network string
	Version int
	Min     int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("legacy format: network %s has version %d, need >= %d", e.Network, e.Version, e.Min)
}

// UnknownGlobalError reports a class or function outside the set a network
// snapshot is built from.
type UnknownGlobalError struct {
	Module, Name string
}

func (e *UnknownGlobalError) Error() string {
	return fmt.Sprintf("legacy format: unknown global %s.%s", e.Module, e.Name)
}

// Pickle holds the three networks of a training snapshot.
type Pickle struct {
	G  *Network // training generator
	D  *Network // discriminator
	Gs *Network // moving-average generator
}

// Networks returns the networks paired with their conventional labels.
func (p *Pickle) Networks() []struct {
	Label string
	Net   *Network
} {
	return []struct {
		Label string
		Net   *Network
	}{{"G", p.G}, {"D", p.D}, {"Gs", p.Gs}}
}

// Resolve accepts only the classes a network snapshot is built from.
func Resolve(module, name string) (any, error) {
	switch module + "." + name {
	case "dnnlib.tflib.network.Network":
		return networkClass{}, nil
	case "numpy.core.multiarray._reconstruct", "numpy._core.multiarray._reconstruct":
		return reconstructFunc{}, nil
	case "numpy.core.multiarray.scalar", "numpy._core.multiarray.scalar":
		return scalarFunc{}, nil
	case "numpy.ndarray":
		return ndarrayClass{}, nil
	case "numpy.dtype":
		return dtypeClass{}, nil
	case "_codecs.encode":
		return codecsEncode{}, nil
	case "collections.OrderedDict", "dnnlib.util.EasyDict", "builtins.dict":
		return dictClass{}, nil
	}
	return nil, &UnknownGlobalError{Module: module, Name: name}
}

// dictClass builds plain dicts for dict subclasses.
type dictClass struct{}

func (dictClass) PyNew(args ...any) (any, error) { return types.NewDict(), nil }
func (dictClass) Call(args ...any) (any, error)  { return types.NewDict(), nil }

// unpickle runs the pickle machine over r with Resolve as the class lookup.
// A rejected global is reported as *UnknownGlobalError whatever the machine
// wraps it in.
func unpickle(r io.Reader) (any, error) {
	var rejected error
	u := pickle.NewUnpickler(r)
	u.FindClass = func(module, name string) (any, error) {
		v, err := Resolve(module, name)
		if err != nil && rejected == nil {
			rejected = err
		}
		return v, err
	}
	v, err := u.Load()
	if err != nil {
		if rejected != nil {
			return nil, rejected
		}
		return nil, err
	}
	return v, nil
}

// Decode reads a (G, D, Gs) snapshot from r.
func Decode(r io.Reader) (*Pickle, error) {
	v, err := unpickle(r)
	if err != nil {
		return nil, err
	}
	tup, ok := v.(*types.Tuple)
	if !ok || tup.Len() != 3 {
		return nil, &FormatError{Reason: fmt.Sprintf("top-level object is %T, want a 3-tuple of networks", v)}
	}
	nets := make([]*Network, 3)
	for i := range nets {
		item := tup.Get(i)
		n, ok := item.(*Network)
		if !ok {
			return nil, &FormatError{Reason: fmt.Sprintf("tuple element %d is %T, want network", i, item)}
		}
		nets[i] = n
	}
	return &Pickle{G: nets[0], D: nets[1], Gs: nets[2]}, nil
}

// LoadFile decodes the snapshot at path.
func LoadFile(path string) (*Pickle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return p, nil
}
