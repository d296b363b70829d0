package convert

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-restyle/internal/arch"
	"github.com/23skdu/longbow-restyle/internal/legacy"
	"github.com/23skdu/longbow-restyle/internal/legacy/legacytest"
	"github.com/23skdu/longbow-restyle/internal/state"
)

// tiny is a two-resolution network with one mapping layer.
var tiny = arch.Config{Size: 8, StyleDim: 4, NMLP: 1, ChannelMultiplier: 2, MaxChannels: 4, Seed: 7}

func decodeSnapshot(t *testing.T, version int, cfg arch.Config) *legacy.Pickle {
	t.Helper()
	g, d, gs := legacytest.Snapshot(version, cfg)
	p, err := legacy.Decode(bytes.NewReader(legacytest.Encode(g, d, gs)))
	require.NoError(t, err)
	return p
}

func collectNet(t *testing.T, label string, net *legacy.Network) legacy.Store {
	t.Helper()
	store, err := legacy.Collect(label, net, legacy.MinVersion)
	require.NoError(t, err)
	return store
}

func styled(prefix string) []string {
	return []string{
		prefix + ".activate.bias",
		prefix + ".conv.modulation.bias",
		prefix + ".conv.modulation.weight",
		prefix + ".conv.weight",
		prefix + ".noise.weight",
	}
}

func rgb(prefix string) []string {
	return []string{
		prefix + ".bias",
		prefix + ".conv.modulation.bias",
		prefix + ".conv.modulation.weight",
		prefix + ".conv.weight",
	}
}

func TestFillGeneratorWritesExactKeys(t *testing.T) {
	p := decodeSnapshot(t, 4, tiny)
	store := collectNet(t, "Gs", p.Gs)

	st, err := arch.NewGenerator("g_ema", tiny)
	require.NoError(t, err)
	require.NoError(t, FillGenerator(st, store, tiny.Size, tiny.NMLP))

	var want []string
	want = append(want, styled("conv1")...)
	want = append(want, styled("convs.0")...)
	want = append(want, styled("convs.1")...)
	want = append(want, "input.input", "noises.noise_0", "noises.noise_1", "noises.noise_2",
		"style.1.bias", "style.1.weight")
	want = append(want, rgb("to_rgb1")...)
	want = append(want, rgb("to_rgbs.0")...)
	require.ElementsMatch(t, want, st.Written())
	require.Len(t, st.Written(), 29)

	require.ElementsMatch(t,
		[]string{"convs.0.conv.blur.kernel", "to_rgbs.0.upsample.kernel"},
		st.Untouched())

	src, _ := store.Lookup("synthesis/8x8/Conv1/mod_bias")
	got, _ := st.Get("convs.1.conv.modulation.bias")
	require.Equal(t, src.AddScalar(1).Data, got.Data)

	c, _ := store.Lookup("synthesis/4x4/Const/const")
	in, _ := st.Get("input.input")
	require.True(t, c.Equal(in))
}

func TestFillDiscriminatorWritesExactKeys(t *testing.T) {
	p := decodeSnapshot(t, 4, tiny)
	store := collectNet(t, "D", p.D)

	st, err := arch.NewDiscriminator("d", tiny)
	require.NoError(t, err)
	require.NoError(t, FillDiscriminator(st, store, tiny.Size))

	require.ElementsMatch(t, []string{
		"convs.0.0.weight", "convs.0.1.bias",
		"convs.1.conv1.0.weight", "convs.1.conv1.1.bias",
		"convs.1.conv2.1.weight", "convs.1.conv2.2.bias",
		"convs.1.skip.1.weight",
		"final_conv.0.weight", "final_conv.1.bias",
		"final_linear.0.weight", "final_linear.0.bias",
		"final_linear.1.weight", "final_linear.1.bias",
	}, st.Written())
	require.ElementsMatch(t,
		[]string{"convs.1.conv2.0.kernel", "convs.1.skip.0.kernel"},
		st.Untouched())
}

func TestFillStopsOnShapeMismatch(t *testing.T) {
	p := decodeSnapshot(t, 4, tiny)
	store := collectNet(t, "Gs", p.Gs)

	wide := tiny
	wide.MaxChannels = 8
	st, err := arch.NewGenerator("g_ema", wide)
	require.NoError(t, err)
	before, _ := st.Get("input.input")

	err = FillGenerator(st, store, wide.Size, wide.NMLP)
	var mismatch *state.ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "input.input", mismatch.Key)
	require.Equal(t, []int{1, 4, 4, 4}, mismatch.Got)
	require.Equal(t, []int{1, 8, 4, 4}, mismatch.Want)

	// Layers before the failure stay written; the failing one does not.
	require.Equal(t, []string{"style.1.bias", "style.1.weight"}, st.Written())
	after, _ := st.Get("input.input")
	require.Same(t, before, after)
}

func TestFillStopsOnMissingKey(t *testing.T) {
	p := decodeSnapshot(t, 4, tiny)
	store := collectNet(t, "Gs", p.Gs)
	delete(store, "synthesis/4x4/ToRGB/bias")

	st, err := arch.NewGenerator("g_ema", tiny)
	require.NoError(t, err)

	err = FillGenerator(st, store, tiny.Size, tiny.NMLP)
	var missing *MissingKeyError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "synthesis/4x4/ToRGB/bias", missing.Key)
	require.NotContains(t, st.Written(), "to_rgb1.conv.weight")
}

func TestFillRejectsUnknownTarget(t *testing.T) {
	st := state.New("s")
	src := legacy.Store{"x": vec(1)}

	err := Fill(st, src, []Layer{{Kind: KindConst, Source: "x", Target: "nowhere"}})
	var notFound *state.KeyNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "nowhere", notFound.Key)
	require.Equal(t, "key_not_found", errorType(err))
}

func TestInferShape(t *testing.T) {
	cfg := arch.Config{Size: 16, StyleDim: 4, NMLP: 3, ChannelMultiplier: 2, MaxChannels: 4}
	g := legacytest.Generator("Gs", 4, cfg, 5)
	p, err := legacy.Decode(bytes.NewReader(legacytest.Encode(g, g, g)))
	require.NoError(t, err)

	s := InferShape(collectNet(t, "Gs", p.Gs))
	require.Equal(t, Shape{Size: 16, StyleDim: 4, NMLP: 3, MaxChannels: 4}, s)

	require.Equal(t, Shape{}, InferShape(legacy.Store{}))
}

func TestParseRes(t *testing.T) {
	cases := map[string]int{
		"64x64/Conv0_up/weight": 64,
		"4x4/Const/const":       4,
		"noise3":                0,
		"8x16/Conv/weight":      0,
		"axa/Conv/weight":       0,
	}
	for in, want := range cases {
		require.Equal(t, want, parseRes(in), in)
	}
}
