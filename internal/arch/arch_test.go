package arch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannels(t *testing.T) {
	tests := []struct {
		res, cm, want int
	}{
		{4, 2, 512},
		{32, 1, 512},
		{64, 2, 512},
		{64, 1, 256},
		{256, 2, 128},
		{1024, 2, 32},
		{3, 2, 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Channels(tt.res, tt.cm), "res %d cm %d", tt.res, tt.cm)
	}
}

func TestValidate(t *testing.T) {
	good := Config{Size: 256, StyleDim: 512, NMLP: 8, ChannelMultiplier: 2}
	require.NoError(t, good.Validate())

	bad := map[string]Config{
		"size":               {Size: 300, StyleDim: 512, NMLP: 8, ChannelMultiplier: 2},
		"size_small":         {Size: 4, StyleDim: 512, NMLP: 8, ChannelMultiplier: 2},
		"size_large":         {Size: 2048, StyleDim: 512, NMLP: 8, ChannelMultiplier: 2},
		"style_dim":          {Size: 256, NMLP: 8, ChannelMultiplier: 2},
		"n_mlp":              {Size: 256, StyleDim: 512, ChannelMultiplier: 2},
		"channel_multiplier": {Size: 256, StyleDim: 512, NMLP: 8},
	}
	for name, cfg := range bad {
		t.Run(name, func(t *testing.T) {
			var ce *ConfigError
			require.ErrorAs(t, cfg.Validate(), &ce)
		})
	}
}

func TestNoiseLayout(t *testing.T) {
	for size, want := range map[int]int{8: 3, 256: 13, 1024: 17} {
		require.Equal(t, want, NumNoises(size), "size %d", size)
	}
	want := []int{4, 8, 8, 16, 16}
	for k, r := range want {
		require.Equal(t, r, NoiseResolution(k))
	}
}

func TestGeneratorSchema(t *testing.T) {
	st, err := NewGenerator("g_ema", Config{Size: 8, StyleDim: 16, NMLP: 2, ChannelMultiplier: 2})
	require.NoError(t, err)

	shapes := map[string][]int{
		"style.1.weight":                 {16, 16},
		"style.2.bias":                   {16},
		"input.input":                    {1, 512, 4, 4},
		"conv1.conv.weight":              {1, 512, 512, 3, 3},
		"conv1.conv.modulation.weight":   {512, 16},
		"conv1.conv.modulation.bias":     {512},
		"conv1.noise.weight":             {1},
		"conv1.activate.bias":            {512},
		"to_rgb1.conv.weight":            {1, 3, 512, 1, 1},
		"to_rgb1.bias":                   {1, 3, 1, 1},
		"convs.0.conv.weight":            {1, 512, 512, 3, 3},
		"convs.0.conv.blur.kernel":       {4, 4},
		"convs.1.conv.modulation.weight": {512, 16},
		"to_rgbs.0.upsample.kernel":      {4, 4},
		"to_rgbs.0.conv.modulation.bias": {512},
		"noises.noise_0":                 {1, 1, 4, 4},
		"noises.noise_2":                 {1, 1, 8, 8},
	}
	for k, want := range shapes {
		v, ok := st.Get(k)
		require.True(t, ok, k)
		require.Equal(t, want, v.Shape, k)
	}
	_, ok := st.Get("convs.1.conv.blur.kernel")
	require.False(t, ok)
	_, ok = st.Get("style.3.weight")
	require.False(t, ok)

	mb, _ := st.Get("conv1.conv.modulation.bias")
	for _, x := range mb.Data {
		require.Equal(t, float32(1), x)
	}

	k, _ := st.Get("convs.0.conv.blur.kernel")
	require.InDelta(t, 4.0/64, k.Data[0], 1e-7)
	require.InDelta(t, 36.0/64, k.Data[5], 1e-7)
	var sum float64
	for _, x := range k.Data {
		sum += float64(x)
	}
	require.InDelta(t, 4.0, sum, 1e-5)
}

func TestGeneratorDeterministic(t *testing.T) {
	cfg := Config{Size: 8, StyleDim: 8, NMLP: 1, ChannelMultiplier: 1, Seed: 7}
	a, err := NewGenerator("a", cfg)
	require.NoError(t, err)
	b, err := NewGenerator("b", cfg)
	require.NoError(t, err)

	require.Equal(t, a.Keys(), b.Keys())
	for _, k := range a.Keys() {
		x, _ := a.Get(k)
		y, _ := b.Get(k)
		require.True(t, x.Equal(y), k)
	}

	cfg.Seed = 8
	c, err := NewGenerator("c", cfg)
	require.NoError(t, err)
	x, _ := a.Get("input.input")
	y, _ := c.Get("input.input")
	require.False(t, x.Equal(y))
}

func TestDiscriminatorSchema(t *testing.T) {
	st, err := NewDiscriminator("d", Config{Size: 16, ChannelMultiplier: 2})
	require.NoError(t, err)

	shapes := map[string][]int{
		"convs.0.0.weight":       {512, 3, 1, 1},
		"convs.0.1.bias":         {512},
		"convs.1.conv1.0.weight": {512, 512, 3, 3},
		"convs.1.conv1.1.bias":   {512},
		"convs.1.conv2.0.kernel": {4, 4},
		"convs.1.conv2.1.weight": {512, 512, 3, 3},
		"convs.1.conv2.2.bias":   {512},
		"convs.1.skip.0.kernel":  {4, 4},
		"convs.1.skip.1.weight":  {512, 512, 1, 1},
		"convs.2.skip.1.weight":  {512, 512, 1, 1},
		"final_conv.0.weight":    {512, 513, 3, 3},
		"final_conv.1.bias":      {512},
		"final_linear.0.weight":  {512, 8192},
		"final_linear.0.bias":    {512},
		"final_linear.1.weight":  {1, 512},
		"final_linear.1.bias":    {1},
	}
	for k, want := range shapes {
		v, ok := st.Get(k)
		require.True(t, ok, k)
		require.Equal(t, want, v.Shape, k)
	}
	_, ok := st.Get("convs.1.skip.2.bias")
	require.False(t, ok)
	_, ok = st.Get("convs.3.conv1.0.weight")
	require.False(t, ok)

	k, _ := st.Get("convs.1.conv2.0.kernel")
	require.InDelta(t, 1.0/64, k.Data[0], 1e-7)
}

func TestDiscriminatorRejectsBadSize(t *testing.T) {
	_, err := NewDiscriminator("d", Config{Size: 12, ChannelMultiplier: 2})
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "size", ce.Field)
}

func TestMaxChannels(t *testing.T) {
	cfg := Config{Size: 8, StyleDim: 4, NMLP: 1, ChannelMultiplier: 2, MaxChannels: 8}
	require.Equal(t, 8, cfg.Channel(4))

	g, err := NewGenerator("g", cfg)
	require.NoError(t, err)
	w, _ := g.Get("convs.0.conv.weight")
	require.Equal(t, []int{1, 8, 8, 3, 3}, w.Shape)

	d, err := NewDiscriminator("d", cfg)
	require.NoError(t, err)
	fc, _ := d.Get("final_conv.0.weight")
	require.Equal(t, []int{8, 9, 3, 3}, fc.Shape)
	fl, _ := d.Get("final_linear.0.weight")
	require.Equal(t, []int{8, 128}, fl.Shape)
}
