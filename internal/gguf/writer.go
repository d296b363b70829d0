package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/23skdu/longbow-restyle/internal/tensor"
)

// Writer emits a GGUF stream piece by piece and tracks the byte position so
// it can pad to the alignment.
type Writer struct {
	w         io.Writer
	alignment uint64
	pos       uint64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:         w,
		alignment: DefaultAlignment,
	}
}

// Written returns the number of bytes emitted so far.
func (gw *Writer) Written() uint64 { return gw.pos }

func (gw *Writer) write(p []byte) error {
	n, err := gw.w.Write(p)
	gw.pos += uint64(n)
	return err
}

func (gw *Writer) put(v interface{}) error {
	if err := binary.Write(gw.w, binary.LittleEndian, v); err != nil {
		return err
	}
	gw.pos += uint64(binary.Size(v))
	return nil
}

func (gw *Writer) WriteHeader(kvCount, tensorCount uint64) error {
	if err := gw.put(uint32(GGUFMagic)); err != nil {
		return err
	}
	if err := gw.put(uint32(GGUFVersion)); err != nil {
		return err
	}
	if err := gw.put(tensorCount); err != nil {
		return err
	}
	return gw.put(kvCount)
}

func (gw *Writer) WriteString(s string) error {
	if err := gw.put(uint64(len(s))); err != nil {
		return err
	}
	return gw.write([]byte(s))
}

func (gw *Writer) WriteKV(key string, valType GGUFMetadataValueType, value interface{}) error {
	if err := gw.WriteString(key); err != nil {
		return err
	}
	if err := gw.put(uint32(valType)); err != nil {
		return err
	}
	return gw.writeValue(valType, value)
}

func (gw *Writer) writeValue(valType GGUFMetadataValueType, value interface{}) error {
	switch valType {
	case GGUFMetadataValueTypeUint8:
		return gw.put(value.(uint8))
	case GGUFMetadataValueTypeInt8:
		return gw.put(value.(int8))
	case GGUFMetadataValueTypeUint16:
		return gw.put(value.(uint16))
	case GGUFMetadataValueTypeInt16:
		return gw.put(value.(int16))
	case GGUFMetadataValueTypeUint32:
		return gw.put(value.(uint32))
	case GGUFMetadataValueTypeInt32:
		return gw.put(value.(int32))
	case GGUFMetadataValueTypeFloat32:
		return gw.put(value.(float32))
	case GGUFMetadataValueTypeUint64:
		return gw.put(value.(uint64))
	case GGUFMetadataValueTypeInt64:
		return gw.put(value.(int64))
	case GGUFMetadataValueTypeFloat64:
		return gw.put(value.(float64))
	case GGUFMetadataValueTypeBool:
		var b uint8
		if value.(bool) {
			b = 1
		}
		return gw.put(b)
	case GGUFMetadataValueTypeString:
		return gw.WriteString(value.(string))
	case GGUFMetadataValueTypeArray:
		strs, ok := value.([]string)
		if !ok {
			return fmt.Errorf("array metadata must be []string, got %T", value)
		}
		if err := gw.put(uint32(GGUFMetadataValueTypeString)); err != nil {
			return err
		}
		if err := gw.put(uint64(len(strs))); err != nil {
			return err
		}
		for _, s := range strs {
			if err := gw.WriteString(s); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported GGUF type: %v", valType)
	}
}

// WriteTensorInfo writes one descriptor. shape is outermost first; GGUF
// stores dimensions innermost first.
func (gw *Writer) WriteTensorInfo(name string, shape []int, ggmlType GGMLType, offset uint64) error {
	if err := gw.WriteString(name); err != nil {
		return err
	}
	rank := len(shape)
	if err := gw.put(uint32(rank)); err != nil {
		return err
	}
	for i := rank - 1; i >= 0; i-- {
		if err := gw.put(uint64(shape[i])); err != nil {
			return err
		}
	}
	if err := gw.put(uint32(ggmlType)); err != nil {
		return err
	}
	return gw.put(offset)
}

// Pad writes zero bytes up to the next alignment boundary.
func (gw *Writer) Pad() error {
	n := align(gw.pos, gw.alignment) - gw.pos
	if n == 0 {
		return nil
	}
	return gw.write(make([]byte, n))
}

// WriteTensorData encodes t little-endian in the requested type.
func (gw *Writer) WriteTensorData(t *tensor.Tensor, ggmlType GGMLType) error {
	const chunk = 16 << 10
	var width int
	switch ggmlType {
	case GGMLTypeF32:
		width = 4
	case GGMLTypeF16:
		width = 2
	default:
		return fmt.Errorf("cannot encode tensor as %s", ggmlType)
	}

	buf := make([]byte, 0, chunk*width)
	for start := 0; start < len(t.Data); start += chunk {
		end := min(start+chunk, len(t.Data))
		buf = buf[:(end-start)*width]
		for i, v := range t.Data[start:end] {
			if width == 4 {
				binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
			} else {
				binary.LittleEndian.PutUint16(buf[i*2:], tensor.Float32ToHalf(v))
			}
		}
		if err := gw.write(buf); err != nil {
			return err
		}
	}
	return nil
}

// KV is one metadata entry.
type KV struct {
	Key   string
	Type  GGUFMetadataValueType
	Value interface{}
}

// NamedTensor pairs a tensor with its stored name.
type NamedTensor struct {
	Name   string
	Tensor *tensor.Tensor
}

// Encode writes a complete GGUF image: header, metadata, descriptors, then
// aligned tensor data in the given order. It returns the bytes written.
func Encode(w io.Writer, kvs []KV, tensors []NamedTensor, ggmlType GGMLType) (uint64, error) {
	gw := NewWriter(w)
	if err := gw.WriteHeader(uint64(len(kvs)), uint64(len(tensors))); err != nil {
		return gw.pos, err
	}
	for _, kv := range kvs {
		if err := gw.WriteKV(kv.Key, kv.Type, kv.Value); err != nil {
			return gw.pos, fmt.Errorf("metadata %s: %w", kv.Key, err)
		}
	}

	info := &TensorInfo{Type: ggmlType}
	offset := uint64(0)
	for _, nt := range tensors {
		if err := gw.WriteTensorInfo(nt.Name, nt.Tensor.Shape, ggmlType, offset); err != nil {
			return gw.pos, err
		}
		info.Dimensions = info.Dimensions[:0]
		info.Dimensions = append(info.Dimensions, uint64(nt.Tensor.Numel()))
		offset = align(offset+info.SizeBytes(), gw.alignment)
	}

	for _, nt := range tensors {
		if err := gw.Pad(); err != nil {
			return gw.pos, err
		}
		if err := gw.WriteTensorData(nt.Tensor, ggmlType); err != nil {
			return gw.pos, fmt.Errorf("tensor %s: %w", nt.Name, err)
		}
	}
	return gw.pos, nil
}
