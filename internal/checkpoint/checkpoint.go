// Package checkpoint stores converted parameter sections in a GGUF file.
package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/23skdu/longbow-restyle/internal/gguf"
	"github.com/23skdu/longbow-restyle/internal/logger"
	"github.com/23skdu/longbow-restyle/internal/state"
	"github.com/23skdu/longbow-restyle/internal/tensor"
)

const (
	Architecture = "stylegan2"

	// LatentAvgKey names the mean latent tensor, which belongs to no section.
	LatentAvgKey = "latent_avg"
)

// Meta describes the architecture the sections were built for.
type Meta struct {
	Name              string
	Size              int
	StyleDim          int
	NMLP              int
	ChannelMultiplier int
}

// Checkpoint groups parameter mappings by section ("g_ema", "g", "d").
type Checkpoint struct {
	Meta      Meta
	Sections  map[string]map[string]*tensor.Tensor
	LatentAvg *tensor.Tensor
}

func New(meta Meta) *Checkpoint {
	return &Checkpoint{
		Meta:     meta,
		Sections: make(map[string]map[string]*tensor.Tensor),
	}
}

// AddState stores every parameter of st under section.
func (c *Checkpoint) AddState(section string, st *state.State) {
	params := make(map[string]*tensor.Tensor, st.Len())
	for _, k := range st.Keys() {
		params[k], _ = st.Get(k)
	}
	c.Sections[section] = params
}

// SectionNames returns the section names in sorted order.
func (c *Checkpoint) SectionNames() []string {
	names := make([]string, 0, len(c.Sections))
	for name := range c.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tensors returns every stored tensor under its file name, sorted by name.
func (c *Checkpoint) Tensors() []gguf.NamedTensor {
	var out []gguf.NamedTensor
	for section, params := range c.Sections {
		for k, t := range params {
			out = append(out, gguf.NamedTensor{Name: section + "." + k, Tensor: t})
		}
	}
	if c.LatentAvg != nil {
		out = append(out, gguf.NamedTensor{Name: LatentAvgKey, Tensor: c.LatentAvg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// KV returns the metadata entries sorted by key.
func (c *Checkpoint) KV() []gguf.KV {
	prefix := Architecture + "."
	kvs := []gguf.KV{
		{Key: "general.alignment", Type: gguf.GGUFMetadataValueTypeUint32, Value: uint32(gguf.DefaultAlignment)},
		{Key: "general.architecture", Type: gguf.GGUFMetadataValueTypeString, Value: Architecture},
		{Key: "general.name", Type: gguf.GGUFMetadataValueTypeString, Value: c.Meta.Name},
		{Key: prefix + "channel_multiplier", Type: gguf.GGUFMetadataValueTypeUint32, Value: uint32(c.Meta.ChannelMultiplier)},
		{Key: prefix + "n_mlp", Type: gguf.GGUFMetadataValueTypeUint32, Value: uint32(c.Meta.NMLP)},
		{Key: prefix + "sections", Type: gguf.GGUFMetadataValueTypeArray, Value: c.SectionNames()},
		{Key: prefix + "size", Type: gguf.GGUFMetadataValueTypeUint32, Value: uint32(c.Meta.Size)},
		{Key: prefix + "style_dim", Type: gguf.GGUFMetadataValueTypeUint32, Value: uint32(c.Meta.StyleDim)},
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return kvs
}

// Save writes the checkpoint to path through a temporary file in the same
// directory, so path is either the complete new file or untouched. It
// returns the number of bytes written.
func (c *Checkpoint) Save(path string, typ gguf.GGMLType) (uint64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) // no-op after a successful rename
	}()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	n, err := gguf.Encode(bw, c.KV(), c.Tensors(), typ)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return 0, err
	}
	logger.Log.Debug("Checkpoint saved", "path", path, "bytes", n, "type", typ.String())
	return n, nil
}

// Load reads a checkpoint written by Save. Tensor data is copied out of the
// mapping, which is released before returning.
func Load(path string) (*Checkpoint, error) {
	f, err := gguf.LoadFile(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	if arch, _ := f.KV["general.architecture"].(string); arch != Architecture {
		return nil, fmt.Errorf("%s: architecture %q, want %q", path, arch, Architecture)
	}

	report, err := gguf.NewMetadataAnalyzer(f).Analyze()
	if err != nil {
		return nil, err
	}
	c := New(Meta{
		Name:              report.ModelName,
		Size:              report.Size,
		StyleDim:          report.StyleDim,
		NMLP:              report.NMLP,
		ChannelMultiplier: report.ChannelMultiplier,
	})
	for _, s := range report.Sections {
		c.Sections[s] = make(map[string]*tensor.Tensor)
	}

	for _, info := range f.Tensors {
		t, err := info.Tensor()
		if err != nil {
			return nil, fmt.Errorf("%s: tensor %s: %w", path, info.Name, err)
		}
		if info.Name == LatentAvgKey {
			c.LatentAvg = t
			continue
		}
		section, key, ok := strings.Cut(info.Name, ".")
		if !ok {
			return nil, fmt.Errorf("%s: tensor %s has no section", path, info.Name)
		}
		params, ok := c.Sections[section]
		if !ok {
			params = make(map[string]*tensor.Tensor)
			c.Sections[section] = params
		}
		params[key] = t
	}
	return c, nil
}
