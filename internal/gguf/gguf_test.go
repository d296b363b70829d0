package gguf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/23skdu/longbow-restyle/internal/tensor"
)

func TestGGUFMagic(t *testing.T) {
	if GGUFMagic != 0x46554747 {
		t.Errorf("expected GGUFMagic 0x46554747, got 0x%x", GGUFMagic)
	}
}

func TestGGMLTypeString(t *testing.T) {
	tests := []struct {
		ggmlType GGMLType
		expected string
	}{
		{GGMLTypeF32, "F32"},
		{GGMLTypeF16, "F16"},
		{GGMLType(999), "UNKNOWN_TYPE_999"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.ggmlType.String(); got != tt.expected {
				t.Errorf("GGMLType(%d).String() = %q, want %q", tt.ggmlType, got, tt.expected)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]GGMLType{"": GGMLTypeF32, "f32": GGMLTypeF32, "F16": GGMLTypeF16} {
		got, err := ParseType(in)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseType("q4_k"); err == nil {
		t.Error("expected error for quantized type")
	}
}

func TestTensorInfoSizeBytes(t *testing.T) {
	tests := []struct {
		name       string
		dimensions []uint64
		ggmlType   GGMLType
		expected   uint64
	}{
		{"F32 1D", []uint64{100}, GGMLTypeF32, 400},
		{"F16 1D", []uint64{100}, GGMLTypeF16, 200},
		{"F32 2D", []uint64{10, 20}, GGMLTypeF32, 800},
		{"F32 scalar", nil, GGMLTypeF32, 4},
		{"unknown", []uint64{256}, GGMLType(100), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := &TensorInfo{
				Name:       "test",
				Dimensions: tt.dimensions,
				Type:       tt.ggmlType,
			}
			if got := info.SizeBytes(); got != tt.expected {
				t.Errorf("SizeBytes() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestTensorInfoShapeReversesDimensions(t *testing.T) {
	info := &TensorInfo{Dimensions: []uint64{3, 3, 512, 512, 1}}
	want := []int{1, 512, 512, 3, 3}
	if got := info.Shape(); !tensor.SameShape(got, want) {
		t.Errorf("Shape() = %v, want %v", got, want)
	}
}

func TestErrInvalidMagic(t *testing.T) {
	err := ErrInvalidMagic{Magic: 0xDEADBEEF}
	expected := "invalid GGUF magic: deadbeef"
	if got := err.Error(); got != expected {
		t.Errorf("ErrInvalidMagic.Error() = %q, want %q", got, expected)
	}
}

func TestErrUnsupportedVersion(t *testing.T) {
	err := ErrUnsupportedVersion{Version: 42}
	expected := "unsupported GGUF version: 42"
	if got := err.Error(); got != expected {
		t.Errorf("ErrUnsupportedVersion.Error() = %q, want %q", got, expected)
	}
}

func sampleTensors(t *testing.T) []NamedTensor {
	t.Helper()
	w, err := tensor.New([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	return []NamedTensor{
		{Name: "g_ema.style.1.weight", Tensor: w},
		{Name: "g_ema.noise.weight", Tensor: tensor.Full(0.5, 1)},
		{Name: "latent_avg", Tensor: tensor.Full(-1, 5)},
	}
}

func sampleKV() []KV {
	return []KV{
		{Key: "general.architecture", Type: GGUFMetadataValueTypeString, Value: "stylegan2"},
		{Key: "stylegan2.size", Type: GGUFMetadataValueTypeUint32, Value: uint32(256)},
		{Key: "stylegan2.sections", Type: GGUFMetadataValueTypeArray, Value: []string{"g_ema", "d"}},
		{Key: "stylegan2.flag", Type: GGUFMetadataValueTypeBool, Value: true},
		{Key: "stylegan2.scale", Type: GGUFMetadataValueTypeFloat64, Value: 0.25},
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	n, err := Encode(&buf, sampleKV(), sampleTensors(t), GGMLTypeF32)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if n != uint64(buf.Len()) {
		t.Errorf("Encode reported %d bytes, buffer has %d", n, buf.Len())
	}

	file, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if file.Header.Version != GGUFVersion || file.Header.TensorCount != 3 || file.Header.KVCount != 5 {
		t.Errorf("unexpected header %+v", file.Header)
	}
	if file.DataOffset%DefaultAlignment != 0 {
		t.Errorf("data offset %d not aligned", file.DataOffset)
	}

	if got := file.KV["general.architecture"]; got != "stylegan2" {
		t.Errorf("architecture = %v", got)
	}
	if got := file.KV["stylegan2.size"]; got != uint32(256) {
		t.Errorf("size = %v (%T)", got, got)
	}
	if got := file.KV["stylegan2.flag"]; got != true {
		t.Errorf("flag = %v", got)
	}
	if got := file.KV["stylegan2.scale"]; got != 0.25 {
		t.Errorf("scale = %v", got)
	}
	if got := file.Strings("stylegan2.sections"); len(got) != 2 || got[0] != "g_ema" || got[1] != "d" {
		t.Errorf("sections = %v", got)
	}

	for _, want := range sampleTensors(t) {
		info, ok := file.Tensor(want.Name)
		if !ok {
			t.Fatalf("tensor %s missing", want.Name)
		}
		if info.Offset%DefaultAlignment != 0 {
			t.Errorf("%s offset %d not aligned", want.Name, info.Offset)
		}
		got, err := info.Tensor()
		if err != nil {
			t.Fatalf("decode %s: %v", want.Name, err)
		}
		if !got.Equal(want.Tensor) {
			t.Errorf("%s = %v, want %v", want.Name, got, want.Tensor)
		}
	}

	issues, _ := NewMetadataAnalyzer(file).ValidateTensors()
	if len(issues) != 0 {
		t.Errorf("unexpected layout issues: %v", issues)
	}
}

func TestEncodeF16(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Encode(&buf, nil, sampleTensors(t), GGMLTypeF16); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	file, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	info, _ := file.Tensor("g_ema.style.1.weight")
	if info.Type != GGMLTypeF16 || info.SizeBytes() != 12 {
		t.Errorf("unexpected info %+v", info)
	}
	got, err := info.Tensor()
	if err != nil {
		t.Fatal(err)
	}
	if got.Data[5] != 6 {
		t.Errorf("got %v", got.Data)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gguf")
	var buf bytes.Buffer
	if _, err := Encode(&buf, sampleKV(), sampleTensors(t), GGMLTypeF32); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	file, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	info, ok := file.Tensor("latent_avg")
	if !ok {
		t.Fatal("latent_avg missing")
	}
	got, err := info.Tensor()
	if err != nil {
		t.Fatal(err)
	}
	if got.Numel() != 5 || got.Data[0] != -1 {
		t.Errorf("latent_avg = %v", got)
	}
}

func TestParseErrors(t *testing.T) {
	header := func(magic, version uint32) []byte {
		b := make([]byte, 24)
		binary.LittleEndian.PutUint32(b, magic)
		binary.LittleEndian.PutUint32(b[4:], version)
		return b
	}

	if _, err := Parse([]byte{1, 2, 3}); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("short input: %v", err)
	}

	var im ErrInvalidMagic
	if _, err := Parse(header(0xDEADBEEF, 3)); !errors.As(err, &im) {
		t.Errorf("bad magic: %v", err)
	}

	var uv ErrUnsupportedVersion
	if _, err := Parse(header(GGUFMagic, 1)); !errors.As(err, &uv) || uv.Version != 1 {
		t.Errorf("bad version: %v", err)
	}

	// one KV promised, none present
	b := header(GGUFMagic, 3)
	binary.LittleEndian.PutUint64(b[16:], 1)
	if _, err := Parse(b); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated kv: %v", err)
	}

	var buf bytes.Buffer
	if _, err := Encode(&buf, nil, sampleTensors(t), GGMLTypeF32); err != nil {
		t.Fatal(err)
	}
	full := buf.Bytes()
	if _, err := Parse(full[:len(full)-4]); err == nil {
		t.Error("expected error for truncated tensor data")
	}
}

func TestWriterPad(t *testing.T) {
	var buf bytes.Buffer
	gw := NewWriter(&buf)
	if err := gw.WriteString("abc"); err != nil {
		t.Fatal(err)
	}
	if err := gw.Pad(); err != nil {
		t.Fatal(err)
	}
	if gw.Written() != 32 || buf.Len() != 32 {
		t.Errorf("written %d, buffer %d", gw.Written(), buf.Len())
	}
	if err := gw.Pad(); err != nil || gw.Written() != 32 {
		t.Errorf("second pad moved to %d (%v)", gw.Written(), err)
	}
	if err := gw.WriteKV("x", GGUFMetadataValueTypeArray, []int{1}); err == nil {
		t.Error("expected error for non-string array")
	}
}
