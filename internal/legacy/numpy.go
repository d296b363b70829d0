package legacy

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/nlpodyssey/gopickle/types"

	"github.com/23skdu/longbow-restyle/internal/tensor"
)

// dtype mirrors the subset of numpy.dtype state needed to decode raw buffers.
type dtype struct {
	kind      byte // 'f' only
	size      int
	bigEndian bool
}

type dtypeClass struct{}

// Call handles numpy.dtype(descr, align, copy).
func (dtypeClass) Call(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, &FormatError{Reason: "numpy.dtype called without a type code"}
	}
	code, ok := args[0].(string)
	if !ok {
		return nil, &FormatError{Reason: fmt.Sprintf("numpy.dtype type code is %T", args[0])}
	}
	return parseDtype(code)
}

func parseDtype(code string) (*dtype, error) {
	dt := &dtype{}
	if len(code) > 0 {
		switch code[0] {
		case '<', '=', '|':
			code = code[1:]
		case '>':
			dt.bigEndian = true
			code = code[1:]
		}
	}
	switch code {
	case "f2":
		dt.kind, dt.size = 'f', 2
	case "f4":
		dt.kind, dt.size = 'f', 4
	case "f8":
		dt.kind, dt.size = 'f', 8
	default:
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported array dtype %q", code)}
	}
	return dt, nil
}

// PySetState applies (version, byteorder, subarray, names, fields, elsize, alignment, flags).
func (dt *dtype) PySetState(state any) error {
	st, ok := state.(*types.Tuple)
	if !ok || st.Len() < 2 {
		return &FormatError{Reason: fmt.Sprintf("bad numpy.dtype state %T", state)}
	}
	order, ok := st.Get(1).(string)
	if !ok {
		return &FormatError{Reason: "numpy.dtype byte order is not a string"}
	}
	switch order {
	case "<", "=", "|":
		dt.bigEndian = false
	case ">":
		dt.bigEndian = true
	default:
		return &FormatError{Reason: fmt.Sprintf("unknown byte order %q", order)}
	}
	return nil
}

func (dt *dtype) order() binary.ByteOrder {
	if dt.bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// decode widens or narrows every element to float32.
func (dt *dtype) decode(raw []byte, n int) ([]float32, error) {
	if len(raw) != n*dt.size {
		return nil, &FormatError{Reason: fmt.Sprintf("array buffer has %d bytes, want %d", len(raw), n*dt.size)}
	}
	bo := dt.order()
	out := make([]float32, n)
	for i := range out {
		b := raw[i*dt.size:]
		switch dt.size {
		case 2:
			out[i] = tensor.HalfToFloat32(bo.Uint16(b))
		case 4:
			out[i] = math.Float32frombits(bo.Uint32(b))
		case 8:
			out[i] = float32(math.Float64frombits(bo.Uint64(b)))
		}
	}
	return out, nil
}

// ndarray is filled in by BUILD after numpy's _reconstruct.
type ndarray struct {
	t *tensor.Tensor
}

type ndarrayClass struct{}

type reconstructFunc struct{}

// Call handles numpy.core.multiarray._reconstruct(ndarray, (0,), b'b').
func (reconstructFunc) Call(args ...any) (any, error) {
	if len(args) < 1 {
		return nil, &FormatError{Reason: "_reconstruct called without a class"}
	}
	if _, ok := args[0].(ndarrayClass); !ok {
		return nil, &FormatError{Reason: fmt.Sprintf("_reconstruct of %T", args[0])}
	}
	return &ndarray{}, nil
}

// PySetState handles (version, shape, dtype, is_fortran, rawdata) and the
// older four-element form without the version.
func (a *ndarray) PySetState(state any) error {
	tup, ok := state.(*types.Tuple)
	if !ok {
		return &FormatError{Reason: fmt.Sprintf("ndarray state is %T", state)}
	}
	st := []any(*tup)
	if len(st) == 5 {
		st = st[1:]
	}
	if len(st) != 4 {
		return &FormatError{Reason: fmt.Sprintf("ndarray state has %d fields", len(st))}
	}

	shape, err := intTuple(st[0])
	if err != nil {
		return err
	}
	dt, ok := st[1].(*dtype)
	if !ok {
		return &FormatError{Reason: fmt.Sprintf("ndarray dtype is %T", st[1])}
	}
	fortran, ok := st[2].(bool)
	if !ok {
		return &FormatError{Reason: "ndarray fortran flag is not a bool"}
	}
	raw, err := rawBytes(st[3])
	if err != nil {
		return err
	}

	if !fortran {
		data, err := dt.decode(raw, tensor.Numel(shape))
		if err != nil {
			return err
		}
		a.t, err = tensor.New(shape, data)
		return err
	}

	// Column-major buffers are the row-major layout of the reversed shape.
	rev := make([]int, len(shape))
	perm := make([]int, len(shape))
	for i := range shape {
		rev[i] = shape[len(shape)-1-i]
		perm[i] = len(shape) - 1 - i
	}
	data, err := dt.decode(raw, tensor.Numel(shape))
	if err != nil {
		return err
	}
	t, err := tensor.New(rev, data)
	if err != nil {
		return err
	}
	a.t, err = t.Permute(perm...)
	return err
}

type scalarFunc struct{}

// Call handles numpy.core.multiarray.scalar(dtype, rawbytes).
func (scalarFunc) Call(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, &FormatError{Reason: fmt.Sprintf("numpy scalar called with %d args", len(args))}
	}
	dt, ok := args[0].(*dtype)
	if !ok {
		return nil, &FormatError{Reason: fmt.Sprintf("numpy scalar dtype is %T", args[0])}
	}
	raw, err := rawBytes(args[1])
	if err != nil {
		return nil, err
	}
	data, err := dt.decode(raw, 1)
	if err != nil {
		return nil, err
	}
	return &ndarray{t: tensor.Scalar(data[0])}, nil
}

// codecsEncode handles _codecs.encode(text, 'latin1'), which protocol 2 uses
// for bytes objects.
type codecsEncode struct{}

func (codecsEncode) Call(args ...any) (any, error) {
	if len(args) < 1 {
		return nil, &FormatError{Reason: "_codecs.encode called without text"}
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, &FormatError{Reason: fmt.Sprintf("_codecs.encode of %T", args[0])}
	}
	if len(args) > 1 {
		if enc, _ := args[1].(string); enc != "latin1" && enc != "latin-1" {
			return nil, &FormatError{Reason: fmt.Sprintf("unsupported text encoding %q", enc)}
		}
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return nil, &FormatError{Reason: "latin1 text contains a code point above 0xff"}
		}
		out = append(out, byte(r))
	}
	return out, nil
}

func rawBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, &FormatError{Reason: fmt.Sprintf("array buffer is %T", v)}
	}
}

func intTuple(v any) ([]int, error) {
	t, ok := v.(*types.Tuple)
	if !ok {
		return nil, &FormatError{Reason: fmt.Sprintf("shape is %T, want tuple", v)}
	}
	out := make([]int, t.Len())
	for i := range out {
		n, ok := asInt(t.Get(i))
		if !ok || n < 0 {
			return nil, &FormatError{Reason: fmt.Sprintf("bad dimension %v", t.Get(i))}
		}
		out[i] = n
	}
	return out, nil
}

// asInt accepts every integer form the pickle machine produces.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case *big.Int:
		if n.IsInt64() {
			return int(n.Int64()), true
		}
	}
	return 0, false
}
