package legacy

import (
	"fmt"
	"sort"

	"github.com/nlpodyssey/gopickle/types"

	"github.com/23skdu/longbow-restyle/internal/tensor"
)

// MinVersion is the oldest network pickle version whose variable naming
// matches the layer mapping.
const MinVersion = 4

// Network is the decoded form of a pickled dnnlib.tflib.network.Network.
type Network struct {
	Name         string
	Version      int
	Variables    map[string]*tensor.Tensor
	Components   map[string]*Network
	StaticKwargs map[string]any
}

func newNetwork() *Network {
	return &Network{
		Variables:    make(map[string]*tensor.Tensor),
		Components:   make(map[string]*Network),
		StaticKwargs: make(map[string]any),
	}
}

type networkClass struct{}

var (
	_ types.PyNewable       = networkClass{}
	_ types.PyStateSettable = (*Network)(nil)
	_ types.PyStateSettable = (*ndarray)(nil)
	_ types.PyStateSettable = (*dtype)(nil)
	_ types.Callable        = reconstructFunc{}
	_ types.Callable        = scalarFunc{}
	_ types.Callable        = codecsEncode{}
)

func (networkClass) PyNew(args ...any) (any, error) { return newNetwork(), nil }
func (networkClass) Call(args ...any) (any, error)  { return newNetwork(), nil }

// dict is the read side of the pickle machine's dict types.
type dict interface {
	Get(key any) (any, bool)
	Keys() []any
}

// PySetState decodes the dict produced by Network.__getstate__.
func (n *Network) PySetState(state any) error {
	st, ok := state.(dict)
	if !ok {
		return &FormatError{Reason: fmt.Sprintf("network state is %T, want dict", state)}
	}

	if v, ok := st.Get("version"); ok {
		ver, ok := asInt(v)
		if !ok {
			return &FormatError{Reason: fmt.Sprintf("network version is %T", v)}
		}
		n.Version = ver
	}
	if v, ok := st.Get("name"); ok {
		n.Name, _ = v.(string)
	}

	if v, ok := st.Get("variables"); ok {
		if err := n.setVariables(v); err != nil {
			return err
		}
	}
	if v, ok := st.Get("components"); ok {
		if err := n.setComponents(v); err != nil {
			return err
		}
	}
	if v, ok := st.Get("static_kwargs"); ok {
		if kw, ok := v.(dict); ok {
			for _, k := range kw.Keys() {
				if name, ok := k.(string); ok {
					n.StaticKwargs[name], _ = kw.Get(k)
				}
			}
		}
	}
	return nil
}

func (n *Network) setVariables(v any) error {
	list, ok := v.(*types.List)
	if !ok {
		return &FormatError{Reason: fmt.Sprintf("network %q variables are %T, want list", n.Name, v)}
	}
	for i := 0; i < list.Len(); i++ {
		item := list.Get(i)
		pair, ok := item.(*types.Tuple)
		if !ok || pair.Len() != 2 {
			return &FormatError{Reason: fmt.Sprintf("network %q variable entry is %T", n.Name, item)}
		}
		name, ok := pair.Get(0).(string)
		if !ok {
			return &FormatError{Reason: fmt.Sprintf("network %q variable name is %T", n.Name, pair.Get(0))}
		}
		arr, ok := pair.Get(1).(*ndarray)
		if !ok || arr.t == nil {
			return &FormatError{Reason: fmt.Sprintf("variable %q is %T, want float array", name, pair.Get(1))}
		}
		n.Variables[name] = arr.t
	}
	return nil
}

func (n *Network) setComponents(v any) error {
	comps, ok := v.(dict)
	if !ok {
		return &FormatError{Reason: fmt.Sprintf("network %q components are %T, want dict", n.Name, v)}
	}
	for _, k := range comps.Keys() {
		name, ok := k.(string)
		if !ok {
			return &FormatError{Reason: fmt.Sprintf("component key %v is not a string", k)}
		}
		c, _ := comps.Get(k)
		sub, ok := c.(*Network)
		if !ok {
			return &FormatError{Reason: fmt.Sprintf("component %q is %T, want network", name, c)}
		}
		n.Components[name] = sub
	}
	return nil
}

// Store is the flattened variable mapping of one network, keyed by
// slash-delimited path.
type Store map[string]*tensor.Tensor

// Lookup returns the array stored under key.
func (s Store) Lookup(key string) (*tensor.Tensor, bool) {
	t, ok := s[key]
	return t, ok
}

// Keys returns the variable paths in sorted order.
func (s Store) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CheckVersion fails with *VersionError when the network predates min.
func CheckVersion(label string, n *Network, min int) error {
	if n.Version < min {
		return &VersionError{Network: label, Version: n.Version, Min: min}
	}
	return nil
}

// Collect flattens net into a Store after checking its version.
func Collect(label string, net *Network, min int) (Store, error) {
	if err := CheckVersion(label, net, min); err != nil {
		return nil, err
	}
	store := make(Store)
	collect(store, "", net)
	return store, nil
}

func collect(store Store, prefix string, net *Network) {
	for name, v := range net.Variables {
		store[prefix+name] = v
	}
	for name, c := range net.Components {
		collect(store, prefix+name+"/", c)
	}
}
