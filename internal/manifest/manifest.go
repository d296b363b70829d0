// Package manifest lists the tensors of a checkpoint as an Arrow IPC file.
package manifest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-restyle/internal/checkpoint"
)

// Entry is one row of the manifest.
type Entry struct {
	Section string
	Name    string
	Shape   []int64
	Numel   int64
	Mean    float64
	Std     float64
}

var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "section", Type: arrow.BinaryTypes.String},
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "shape", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	{Name: "numel", Type: arrow.PrimitiveTypes.Int64},
	{Name: "mean", Type: arrow.PrimitiveTypes.Float64},
	{Name: "std", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// Entries describes every tensor of c in file order. The mean latent has an
// empty section.
func Entries(c *checkpoint.Checkpoint) []Entry {
	tensors := c.Tensors()
	out := make([]Entry, 0, len(tensors))
	for _, nt := range tensors {
		section, name, ok := strings.Cut(nt.Name, ".")
		if !ok {
			section, name = "", nt.Name
		}
		shape := make([]int64, len(nt.Tensor.Shape))
		for i, d := range nt.Tensor.Shape {
			shape[i] = int64(d)
		}
		s := nt.Tensor.Stats()
		out = append(out, Entry{
			Section: section,
			Name:    name,
			Shape:   shape,
			Numel:   int64(nt.Tensor.Numel()),
			Mean:    s.Mean,
			Std:     s.Std,
		})
	}
	return out
}

// Write encodes entries as a single-batch Arrow IPC file.
func Write(w io.Writer, entries []Entry) error {
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	sections := b.Field(0).(*array.StringBuilder)
	names := b.Field(1).(*array.StringBuilder)
	shapes := b.Field(2).(*array.ListBuilder)
	dims := shapes.ValueBuilder().(*array.Int64Builder)
	numels := b.Field(3).(*array.Int64Builder)
	means := b.Field(4).(*array.Float64Builder)
	stds := b.Field(5).(*array.Float64Builder)

	for _, e := range entries {
		sections.Append(e.Section)
		names.Append(e.Name)
		shapes.Append(true)
		dims.AppendValues(e.Shape, nil)
		numels.Append(e.Numel)
		means.Append(e.Mean)
		stds.Append(e.Std)
	}

	rec := b.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(Schema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("failed to create manifest writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to write manifest record: %w", err)
	}
	return fw.Close()
}

// WriteFile writes the manifest of c to path.
func WriteFile(path string, c *checkpoint.Checkpoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, Entries(c)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// Read decodes every record of an Arrow IPC manifest.
func Read(r ipc.ReadAtSeeker) ([]Entry, error) {
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = fr.Close()
	}()

	if err := checkSchema(fr.Schema()); err != nil {
		return nil, err
	}

	var out []Entry
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, err
		}
		out = append(out, entriesOf(rec)...)
	}
	return out, nil
}

func checkSchema(s *arrow.Schema) error {
	if s.NumFields() != Schema.NumFields() {
		return fmt.Errorf("unexpected manifest schema: %d fields, want %d", s.NumFields(), Schema.NumFields())
	}
	for i, f := range Schema.Fields() {
		got := s.Field(i)
		if got.Name != f.Name || !arrow.TypeEqual(got.Type, f.Type) {
			return fmt.Errorf("unexpected manifest column %d: %s %s, want %s %s", i, got.Name, got.Type, f.Name, f.Type)
		}
	}
	return nil
}

func entriesOf(rec arrow.Record) []Entry {
	sections := rec.Column(0).(*array.String)
	names := rec.Column(1).(*array.String)
	shapes := rec.Column(2).(*array.List)
	dims := shapes.ListValues().(*array.Int64)
	numels := rec.Column(3).(*array.Int64)
	means := rec.Column(4).(*array.Float64)
	stds := rec.Column(5).(*array.Float64)

	out := make([]Entry, rec.NumRows())
	for i := range out {
		start, end := shapes.ValueOffsets(i)
		shape := make([]int64, 0, end-start)
		for j := start; j < end; j++ {
			shape = append(shape, dims.Value(int(j)))
		}
		out[i] = Entry{
			Section: sections.Value(i),
			Name:    names.Value(i),
			Shape:   shape,
			Numel:   numels.Value(i),
			Mean:    means.Value(i),
			Std:     stds.Value(i),
		}
	}
	return out
}

// ReadFile reads the manifest at path.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return Read(f)
}
