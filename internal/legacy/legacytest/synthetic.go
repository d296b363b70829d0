package legacytest

import (
	"fmt"
	"math/rand/v2"

	"github.com/23skdu/longbow-restyle/internal/arch"
	"github.com/23skdu/longbow-restyle/internal/tensor"
)

type filler struct {
	rng *rand.Rand
}

func newFiller(seed uint64) *filler {
	return &filler{rng: rand.New(rand.NewPCG(seed, 1))}
}

func (f *filler) randn(shape ...int) *tensor.Tensor {
	t := tensor.Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = float32(f.rng.NormFloat64())
	}
	return t
}

func (f *filler) modConv(n *Net, prefix string, in, out, k, styleDim int, noise bool) {
	n.Add(prefix+"/weight", f.randn(k, k, in, out))
	n.Add(prefix+"/mod_weight", f.randn(styleDim, in))
	n.Add(prefix+"/mod_bias", f.randn(in))
	if noise {
		n.Add(prefix+"/noise_strength", tensor.Scalar(float32(f.rng.NormFloat64())))
	}
	n.Add(prefix+"/bias", f.randn(out))
}

func (f *filler) conv(n *Net, prefix string, in, out, k int, bias bool) {
	n.Add(prefix+"/weight", f.randn(k, k, in, out))
	if bias {
		n.Add(prefix+"/bias", f.randn(out))
	}
}

// Generator builds a generator network with the legacy variable layout for
// cfg. Seed selects the variable values.
func Generator(name string, version int, cfg arch.Config, seed uint64) *Net {
	f := newFiller(seed)
	sd := cfg.StyleDim

	mapping := &Net{Name: "G_mapping", Version: version}
	for i := 0; i < cfg.NMLP; i++ {
		mapping.Add(fmt.Sprintf("Dense%d/weight", i), f.randn(sd, sd))
		mapping.Add(fmt.Sprintf("Dense%d/bias", i), f.randn(sd))
	}

	syn := &Net{Name: "G_synthesis", Version: version}
	ch := cfg.Channel(4)
	syn.Add("lod", tensor.Scalar(0))
	syn.Add("4x4/Const/const", f.randn(1, ch, 4, 4))
	f.modConv(syn, "4x4/Conv", ch, ch, 3, sd, true)
	f.modConv(syn, "4x4/ToRGB", ch, 3, 1, sd, false)

	in := ch
	for i := 3; i <= arch.Log2(cfg.Size); i++ {
		r := 1 << i
		out := cfg.Channel(r)
		p := fmt.Sprintf("%dx%d/", r, r)
		f.modConv(syn, p+"Conv0_up", in, out, 3, sd, true)
		f.modConv(syn, p+"Conv1", out, out, 3, sd, true)
		f.modConv(syn, p+"ToRGB", out, 3, 1, sd, false)
		in = out
	}
	for k := 0; k < arch.NumNoises(cfg.Size); k++ {
		r := arch.NoiseResolution(k)
		syn.Add(fmt.Sprintf("noise%d", k), f.randn(1, 1, r, r))
	}

	g := &Net{Name: name, Version: version}
	g.Add("dlatent_avg", f.randn(sd))
	g.Components = []Component{
		{Name: "mapping", Net: mapping},
		{Name: "synthesis", Net: syn},
	}
	return g
}

// Discriminator builds a discriminator network with the legacy variable
// layout for cfg.
func Discriminator(name string, version int, cfg arch.Config, seed uint64) *Net {
	f := newFiller(seed)
	d := &Net{Name: name, Version: version}

	in := cfg.Channel(cfg.Size)
	f.conv(d, fmt.Sprintf("%dx%d/FromRGB", cfg.Size, cfg.Size), 3, in, 1, true)
	for r := cfg.Size; r > 4; r /= 2 {
		out := cfg.Channel(r / 2)
		p := fmt.Sprintf("%dx%d/", r, r)
		f.conv(d, p+"Conv0", in, in, 3, true)
		f.conv(d, p+"Conv1_down", in, out, 3, true)
		f.conv(d, p+"Skip", in, out, 1, false)
		in = out
	}

	ch := cfg.Channel(4)
	f.conv(d, "4x4/Conv", in+1, ch, 3, true)
	d.Add("4x4/Dense0/weight", f.randn(ch*16, ch))
	d.Add("4x4/Dense0/bias", f.randn(ch))
	d.Add("Output/weight", f.randn(ch, 1))
	d.Add("Output/bias", f.randn(1))
	return d
}

// Snapshot returns a (G, D, Gs) triple at the given version.
func Snapshot(version int, cfg arch.Config) (g, d, gs *Net) {
	return Generator("G", version, cfg, 1),
		Discriminator("D", version, cfg, 2),
		Generator("Gs", version, cfg, 3)
}
