package gguf

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/23skdu/longbow-restyle/internal/tensor"
)

const (
	GGUFMagic   = 0x46554747 // "GGUF"
	GGUFVersion = 3

	DefaultAlignment = 32
)

type GGMLType uint32

const (
	GGMLTypeF32 GGMLType = 0
	GGMLTypeF16 GGMLType = 1
)

type GGUFMetadataValueType uint32

const (
	GGUFMetadataValueTypeUint8   GGUFMetadataValueType = 0
	GGUFMetadataValueTypeInt8    GGUFMetadataValueType = 1
	GGUFMetadataValueTypeUint16  GGUFMetadataValueType = 2
	GGUFMetadataValueTypeInt16   GGUFMetadataValueType = 3
	GGUFMetadataValueTypeUint32  GGUFMetadataValueType = 4
	GGUFMetadataValueTypeInt32   GGUFMetadataValueType = 5
	GGUFMetadataValueTypeFloat32 GGUFMetadataValueType = 6
	GGUFMetadataValueTypeBool    GGUFMetadataValueType = 7
	GGUFMetadataValueTypeString  GGUFMetadataValueType = 8
	GGUFMetadataValueTypeArray   GGUFMetadataValueType = 9
	GGUFMetadataValueTypeUint64  GGUFMetadataValueType = 10
	GGUFMetadataValueTypeInt64   GGUFMetadataValueType = 11
	GGUFMetadataValueTypeFloat64 GGUFMetadataValueType = 12
)

type TensorInfo struct {
	Name       string
	Dimensions []uint64 // ne, innermost dimension first
	Type       GGMLType
	Offset     uint64 // relative to data start
	Data       []byte // slice into the mapped file
}

func (t *TensorInfo) NumElements() uint64 {
	n := uint64(1)
	for _, d := range t.Dimensions {
		n *= d
	}
	return n
}

func (t *TensorInfo) SizeBytes() uint64 {
	switch t.Type {
	case GGMLTypeF32:
		return t.NumElements() * 4
	case GGMLTypeF16:
		return t.NumElements() * 2
	default:
		return 0
	}
}

// Shape returns the dimensions outermost first.
func (t *TensorInfo) Shape() []int {
	shape := make([]int, len(t.Dimensions))
	for i, d := range t.Dimensions {
		shape[len(shape)-1-i] = int(d)
	}
	return shape
}

// Tensor decodes the tensor data into a freshly allocated float32 tensor.
func (t *TensorInfo) Tensor() (*tensor.Tensor, error) {
	size := t.SizeBytes()
	if size == 0 && t.NumElements() > 0 {
		return nil, fmt.Errorf("tensor %s: unsupported type %s", t.Name, t.Type)
	}
	if uint64(len(t.Data)) < size {
		return nil, fmt.Errorf("tensor %s: data truncated (%d < %d bytes)", t.Name, len(t.Data), size)
	}

	n := int(t.NumElements())
	data := make([]float32, n)
	switch t.Type {
	case GGMLTypeF32:
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
		}
	case GGMLTypeF16:
		for i := range data {
			data[i] = tensor.HalfToFloat32(binary.LittleEndian.Uint16(t.Data[i*2:]))
		}
	}
	return tensor.New(t.Shape(), data)
}

type GGUFFile struct {
	Header     GGUFHeader
	KV         map[string]interface{}
	Tensors    []*TensorInfo
	Data       []byte // the mapped file
	DataOffset uint64 // where tensor data starts

	mapped bool
}

type GGUFHeader struct {
	Magic       uint32
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// Error types
type ErrInvalidMagic struct{ Magic uint32 }

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid GGUF magic: %x", e.Magic)
}

type ErrUnsupportedVersion struct{ Version uint32 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported GGUF version: %d", e.Version)
}

func (t GGMLType) String() string {
	switch t {
	case GGMLTypeF32:
		return "F32"
	case GGMLTypeF16:
		return "F16"
	default:
		return fmt.Sprintf("UNKNOWN_TYPE_%d", t)
	}
}

// ParseType maps "f32" / "f16" to a tensor type.
func ParseType(s string) (GGMLType, error) {
	switch s {
	case "f32", "F32", "":
		return GGMLTypeF32, nil
	case "f16", "F16":
		return GGMLTypeF16, nil
	default:
		return 0, fmt.Errorf("unsupported tensor type %q (want f32 or f16)", s)
	}
}
