package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a dense row-major float32 array. A scalar has an empty shape and
// exactly one element.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New wraps data with the given shape. The element count must match.
func New(shape []int, data []float32) (*Tensor, error) {
	if n := Numel(shape); n != len(data) {
		return nil, fmt.Errorf("shape %s needs %d elements, got %d", ShapeString(shape), n, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, Numel(shape))}
}

// Full allocates a tensor with every element set to v.
func Full(v float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Scalar returns a rank-0 tensor.
func Scalar(v float32) *Tensor {
	return &Tensor{Shape: []int{}, Data: []float32{v}}
}

// Numel returns the number of elements a shape describes.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ShapeString formats a shape as (d0, d1, ...).
func ShapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (t *Tensor) Rank() int  { return len(t.Shape) }
func (t *Tensor) Numel() int { return len(t.Data) }

func (t *Tensor) String() string {
	return "Tensor" + ShapeString(t.Shape)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// Equal reports bitwise equality of shape and contents.
func (t *Tensor) Equal(o *Tensor) bool {
	if o == nil || !SameShape(t.Shape, o.Shape) || len(t.Data) != len(o.Data) {
		return false
	}
	for i := range t.Data {
		if math.Float32bits(t.Data[i]) != math.Float32bits(o.Data[i]) {
			return false
		}
	}
	return true
}

// strides returns row-major element strides for shape.
func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// Permute reorders axes so that output axis i is input axis perm[i].
func (t *Tensor) Permute(perm ...int) (*Tensor, error) {
	if len(perm) != t.Rank() {
		return nil, fmt.Errorf("permute: got %d axes for rank-%d tensor", len(perm), t.Rank())
	}
	seen := make([]bool, len(perm))
	for _, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return nil, fmt.Errorf("permute: invalid permutation %v", perm)
		}
		seen[p] = true
	}

	outShape := make([]int, len(perm))
	for i, p := range perm {
		outShape[i] = t.Shape[p]
	}
	out := Zeros(outShape...)
	if out.Numel() == 0 {
		return out, nil
	}

	inStrides := strides(t.Shape)
	// srcStride[i] is how far the input index moves when output axis i advances.
	srcStride := make([]int, len(perm))
	for i, p := range perm {
		srcStride[i] = inStrides[p]
	}

	idx := make([]int, len(outShape))
	src := 0
	for dst := range out.Data {
		out.Data[dst] = t.Data[src]
		for ax := len(idx) - 1; ax >= 0; ax-- {
			idx[ax]++
			src += srcStride[ax]
			if idx[ax] < outShape[ax] {
				break
			}
			src -= srcStride[ax] * idx[ax]
			idx[ax] = 0
		}
	}
	return out, nil
}

// Transpose swaps the two axes of a rank-2 tensor.
func (t *Tensor) Transpose() (*Tensor, error) {
	if t.Rank() != 2 {
		return nil, fmt.Errorf("transpose: need rank 2, got shape %s", ShapeString(t.Shape))
	}
	rows, cols := t.Shape[0], t.Shape[1]
	if rows == 0 || cols == 0 {
		return Zeros(cols, rows), nil
	}

	f := make([]float64, len(t.Data))
	for i, v := range t.Data {
		f[i] = float64(v)
	}
	tr := mat.DenseCopyOf(mat.NewDense(rows, cols, f).T())

	raw := tr.RawMatrix()
	out := Zeros(cols, rows)
	for r := 0; r < raw.Rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols]
		for c, v := range row {
			out.Data[r*rows+c] = float32(v)
		}
	}
	return out, nil
}

// ExpandDims inserts a singleton axis at position axis.
func (t *Tensor) ExpandDims(axis int) (*Tensor, error) {
	if axis < 0 || axis > t.Rank() {
		return nil, fmt.Errorf("expand dims: axis %d out of range for rank %d", axis, t.Rank())
	}
	shape := make([]int, 0, t.Rank()+1)
	shape = append(shape, t.Shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, t.Shape[axis:]...)
	return &Tensor{Shape: shape, Data: append([]float32(nil), t.Data...)}, nil
}

// Reshape returns a copy with a new shape of the same element count.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if Numel(shape) != t.Numel() {
		return nil, fmt.Errorf("reshape: cannot view %s as %s", ShapeString(t.Shape), ShapeString(shape))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: append([]float32(nil), t.Data...)}, nil
}

// Flip reverses the element order along each of the given axes.
func (t *Tensor) Flip(axes ...int) (*Tensor, error) {
	flip := make([]bool, t.Rank())
	for _, ax := range axes {
		if ax < 0 || ax >= t.Rank() {
			return nil, fmt.Errorf("flip: axis %d out of range for rank %d", ax, t.Rank())
		}
		flip[ax] = true
	}

	out := Zeros(t.Shape...)
	st := strides(t.Shape)
	idx := make([]int, t.Rank())
	for dst := range out.Data {
		src := 0
		for ax, i := range idx {
			if flip[ax] {
				i = t.Shape[ax] - 1 - i
			}
			src += i * st[ax]
		}
		out.Data[dst] = t.Data[src]

		for ax := len(idx) - 1; ax >= 0; ax-- {
			idx[ax]++
			if idx[ax] < t.Shape[ax] {
				break
			}
			idx[ax] = 0
		}
	}
	return out, nil
}

// AddScalar returns t + v element-wise.
func (t *Tensor) AddScalar(v float32) *Tensor {
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] += v
	}
	return out
}

// Bytes encodes the data as little-endian float32.
func (t *Tensor) Bytes() []byte {
	b := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// FromBytes decodes little-endian float32 data into a tensor of the given shape.
// The bytes are copied.
func FromBytes(shape []int, b []byte) (*Tensor, error) {
	n := Numel(shape)
	if len(b) < 4*n {
		return nil, fmt.Errorf("shape %s needs %d bytes, got %d", ShapeString(shape), 4*n, len(b))
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return New(shape, data)
}
