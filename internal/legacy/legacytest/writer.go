// Package legacytest writes network snapshots in the pickle layout the legacy
// loader reads, for tests and fixtures.
package legacytest

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/23skdu/longbow-restyle/internal/tensor"
)

// Var is one named variable of a network.
type Var struct {
	Name string
	T    *tensor.Tensor
}

// Component is a named sub-network.
type Component struct {
	Name string
	Net  *Net
}

// Net is the writer-side description of a network. Order is preserved.
type Net struct {
	Name       string
	Version    int
	Vars       []Var
	Components []Component
}

func (n *Net) Add(name string, t *tensor.Tensor) {
	n.Vars = append(n.Vars, Var{Name: name, T: t})
}

func (n *Net) Component(name string) *Net {
	for _, c := range n.Components {
		if c.Name == name {
			return c.Net
		}
	}
	return nil
}

// Find returns the variable at a slash-delimited path.
func (n *Net) Find(path string) *tensor.Tensor {
	for _, v := range n.Vars {
		if v.Name == path {
			return v.T
		}
	}
	for _, c := range n.Components {
		p := c.Name + "/"
		if len(path) > len(p) && path[:len(p)] == p {
			if t := c.Net.Find(path[len(p):]); t != nil {
				return t
			}
		}
	}
	return nil
}

type encoder struct {
	bytes.Buffer
}

func (e *encoder) global(module, name string) {
	e.WriteByte('c')
	e.WriteString(module + "\n" + name + "\n")
}

func (e *encoder) str(s string) {
	e.WriteByte('X')
	_ = binary.Write(&e.Buffer, binary.LittleEndian, uint32(len(s)))
	e.WriteString(s)
}

func (e *encoder) integer(v int) {
	if v >= 0 && v < 256 {
		e.WriteByte('K')
		e.WriteByte(byte(v))
		return
	}
	e.WriteByte('J')
	_ = binary.Write(&e.Buffer, binary.LittleEndian, int32(v))
}

func (e *encoder) dtype() {
	e.global("numpy", "dtype")
	e.str("f4")
	e.Write([]byte{0x89, 0x88, 0x87, 'R'}) // False, True, TUPLE3, REDUCE
	e.WriteByte('(')
	e.integer(3)
	e.str("<")
	e.Write([]byte{'N', 'N', 'N'})
	e.integer(-1)
	e.integer(-1)
	e.integer(0)
	e.Write([]byte{'t', 'b'})
}

func (e *encoder) ndarray(t *tensor.Tensor) {
	e.global("numpy.core.multiarray", "_reconstruct")
	e.global("numpy", "ndarray")
	e.integer(0)
	e.WriteByte(0x85)
	e.Write([]byte{'C', 1, 'b'})
	e.Write([]byte{0x87, 'R'})

	e.WriteByte('(')
	e.integer(1)
	e.WriteByte('(')
	for _, d := range t.Shape {
		e.integer(d)
	}
	e.WriteByte('t')
	e.dtype()
	e.WriteByte(0x89)
	raw := t.Bytes()
	e.WriteByte('B')
	_ = binary.Write(&e.Buffer, binary.LittleEndian, uint32(len(raw)))
	e.Write(raw)
	e.Write([]byte{'t', 'b'})
}

func (e *encoder) network(n *Net) {
	e.global("dnnlib.tflib.network", "Network")
	e.Write([]byte{')', 0x81})

	e.Write([]byte{'}', '('})
	e.str("version")
	e.integer(n.Version)
	e.str("name")
	e.str(n.Name)

	e.str("variables")
	e.WriteByte(']')
	if len(n.Vars) > 0 {
		e.WriteByte('(')
		for _, v := range n.Vars {
			e.str(v.Name)
			e.ndarray(v.T)
			e.WriteByte(0x86)
		}
		e.WriteByte('e')
	}

	e.str("components")
	e.WriteByte('}')
	if len(n.Components) > 0 {
		e.WriteByte('(')
		for _, c := range n.Components {
			e.str(c.Name)
			e.network(c.Net)
		}
		e.WriteByte('u')
	}

	e.str("static_kwargs")
	e.WriteByte('}')
	e.Write([]byte{'u', 'b'})
}

// Encode serializes (g, d, gs) as a protocol 3 pickle.
func Encode(g, d, gs *Net) []byte {
	e := &encoder{}
	e.Write([]byte{0x80, 3})
	e.network(g)
	e.network(d)
	e.network(gs)
	e.Write([]byte{0x87, '.'})
	return e.Bytes()
}

// WriteFile encodes the snapshot to path.
func WriteFile(path string, g, d, gs *Net) error {
	return os.WriteFile(path, Encode(g, d, gs), 0o644)
}
