// Package arch declares the parameter schema of the StyleGAN2 generator and
// discriminator module trees, with deterministic initial values.
package arch

import (
	"fmt"
	"math/bits"
	"math/rand/v2"

	"github.com/23skdu/longbow-restyle/internal/state"
	"github.com/23skdu/longbow-restyle/internal/tensor"
)

const (
	MinSize = 8
	MaxSize = 1024

	lrMul = 0.01
)

var blurKernel = []float32{1, 3, 3, 1}

// Config selects one member of the architecture family.
type Config struct {
	Size              int
	StyleDim          int
	NMLP              int
	ChannelMultiplier int

	// MaxChannels caps every feature width; 0 keeps the standard widths.
	MaxChannels int
	Seed        uint64
}

// ConfigError reports an architecture configuration that cannot be built.
type ConfigError struct {
	Field string
	Value int
}

func (e *ConfigError) Error() string {
	switch e.Field {
	case "size":
		return fmt.Sprintf("arch: size %d must be a power of two in [%d, %d]", e.Value, MinSize, MaxSize)
	default:
		return fmt.Sprintf("arch: %s must be positive, got %d", e.Field, e.Value)
	}
}

func (c Config) Validate() error {
	if c.Size < MinSize || c.Size > MaxSize || c.Size&(c.Size-1) != 0 {
		return &ConfigError{Field: "size", Value: c.Size}
	}
	if c.StyleDim < 1 {
		return &ConfigError{Field: "style_dim", Value: c.StyleDim}
	}
	if c.NMLP < 1 {
		return &ConfigError{Field: "n_mlp", Value: c.NMLP}
	}
	if c.ChannelMultiplier < 1 {
		return &ConfigError{Field: "channel_multiplier", Value: c.ChannelMultiplier}
	}
	if c.MaxChannels < 0 {
		return &ConfigError{Field: "max_channels", Value: c.MaxChannels}
	}
	return nil
}

// Channel returns the feature width at resolution res under this config.
func (c Config) Channel(res int) int {
	ch := Channels(res, c.ChannelMultiplier)
	if c.MaxChannels > 0 && ch > c.MaxChannels {
		return c.MaxChannels
	}
	return ch
}

// Log2 returns log2(size) for a power of two.
func Log2(size int) int {
	return bits.Len(uint(size)) - 1
}

// Channels returns the feature width used at resolution res.
func Channels(res, channelMultiplier int) int {
	switch res {
	case 4, 8, 16, 32:
		return 512
	case 64:
		return 256 * channelMultiplier
	case 128:
		return 128 * channelMultiplier
	case 256:
		return 64 * channelMultiplier
	case 512:
		return 32 * channelMultiplier
	case 1024:
		return 16 * channelMultiplier
	}
	return 0
}

// NumNoises is the number of per-layer noise buffers of a generator.
func NumNoises(size int) int {
	return (Log2(size)-2)*2 + 1
}

// NoiseResolution is the spatial size of noise buffer k.
func NoiseResolution(k int) int {
	return 1 << ((k + 5) / 2)
}

type builder struct {
	st  *state.State
	rng *rand.Rand
	err error
}

func newBuilder(name string, seed uint64) *builder {
	return &builder{
		st:  state.New(name),
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (b *builder) declare(key string, t *tensor.Tensor) {
	if b.err != nil {
		return
	}
	b.err = b.st.Declare(key, t)
}

func (b *builder) randn(key string, scale float32, shape ...int) {
	t := tensor.Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = float32(b.rng.NormFloat64()) * scale
	}
	b.declare(key, t)
}

func (b *builder) fill(key string, v float32, shape ...int) {
	b.declare(key, tensor.Full(v, shape...))
}

// blur declares the normalized 2-D blur kernel scaled by gain.
func (b *builder) blur(key string, gain float32) {
	n := len(blurKernel)
	var sum float32
	for _, x := range blurKernel {
		for _, y := range blurKernel {
			sum += x * y
		}
	}
	t := tensor.Zeros(n, n)
	for i, x := range blurKernel {
		for j, y := range blurKernel {
			t.Data[i*n+j] = x * y / sum * gain
		}
	}
	b.declare(key, t)
}

func (b *builder) equalLinear(prefix string, in, out int, scale, biasInit float32) {
	b.randn(prefix+".weight", scale, out, in)
	b.fill(prefix+".bias", biasInit, out)
}

func (b *builder) modulatedConv(prefix string, in, out, kernel, styleDim int, upsample bool) {
	b.randn(prefix+".weight", 1, 1, out, in, kernel, kernel)
	if upsample {
		b.blur(prefix+".blur.kernel", 4)
	}
	b.equalLinear(prefix+".modulation", styleDim, in, 1, 1)
}

func (b *builder) styledConv(prefix string, in, out, styleDim int, upsample bool) {
	b.modulatedConv(prefix+".conv", in, out, 3, styleDim, upsample)
	b.fill(prefix+".noise.weight", 0, 1)
	b.fill(prefix+".activate.bias", 0, out)
}

func (b *builder) toRGB(prefix string, in, styleDim int, upsample bool) {
	b.fill(prefix+".bias", 0, 1, 3, 1, 1)
	if upsample {
		b.blur(prefix+".upsample.kernel", 4)
	}
	b.modulatedConv(prefix+".conv", in, 3, 1, styleDim, false)
}

// convLayer declares an optionally downsampling conv followed by a fused
// activation. Indices follow the Sequential layout.
func (b *builder) convLayer(prefix string, in, out, kernel int, downsample, activate bool) {
	i := 0
	if downsample {
		b.blur(fmt.Sprintf("%s.%d.kernel", prefix, i), 1)
		i++
	}
	b.randn(fmt.Sprintf("%s.%d.weight", prefix, i), 1, out, in, kernel, kernel)
	if activate {
		b.fill(fmt.Sprintf("%s.%d.bias", prefix, i+1), 0, out)
	}
}

func (b *builder) done() (*state.State, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.st, nil
}

// NewGenerator declares every parameter and buffer of a generator.
func NewGenerator(name string, cfg Config) (*state.State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := newBuilder(name, cfg.Seed)
	sd := cfg.StyleDim

	for i := 1; i <= cfg.NMLP; i++ {
		b.equalLinear(fmt.Sprintf("style.%d", i), sd, sd, 1/lrMul, 0)
	}

	ch := cfg.Channel(4)
	b.randn("input.input", 1, 1, ch, 4, 4)
	b.styledConv("conv1", ch, ch, sd, false)
	b.toRGB("to_rgb1", ch, sd, false)

	in := ch
	for i := 3; i <= Log2(cfg.Size); i++ {
		out := cfg.Channel(1 << i)
		j := i - 3
		b.styledConv(fmt.Sprintf("convs.%d", 2*j), in, out, sd, true)
		b.styledConv(fmt.Sprintf("convs.%d", 2*j+1), out, out, sd, false)
		b.toRGB(fmt.Sprintf("to_rgbs.%d", j), out, sd, true)
		in = out
	}

	for k := 0; k < NumNoises(cfg.Size); k++ {
		r := NoiseResolution(k)
		b.randn(fmt.Sprintf("noises.noise_%d", k), 1, 1, 1, r, r)
	}
	return b.done()
}

// NewDiscriminator declares every parameter and buffer of a discriminator.
// StyleDim and NMLP are not used.
func NewDiscriminator(name string, cfg Config) (*state.State, error) {
	cfg.StyleDim, cfg.NMLP = max(cfg.StyleDim, 1), max(cfg.NMLP, 1)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := newBuilder(name, cfg.Seed+1)

	in := cfg.Channel(cfg.Size)
	b.convLayer("convs.0", 3, in, 1, false, true)

	for i, k := Log2(cfg.Size), 1; i > 2; i, k = i-1, k+1 {
		out := cfg.Channel(1 << (i - 1))
		prefix := fmt.Sprintf("convs.%d", k)
		b.convLayer(prefix+".conv1", in, in, 3, false, true)
		b.convLayer(prefix+".conv2", in, out, 3, true, true)
		b.convLayer(prefix+".skip", in, out, 1, true, false)
		in = out
	}

	ch := cfg.Channel(4)
	b.convLayer("final_conv", in+1, ch, 3, false, true)
	b.equalLinear("final_linear.0", ch*4*4, ch, 1, 0)
	b.equalLinear("final_linear.1", ch, 1, 1, 0)
	return b.done()
}
