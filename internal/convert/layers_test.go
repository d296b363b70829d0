package convert

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type step struct {
	kind   Kind
	source string
	target string
}

func steps(layers []Layer) []step {
	out := make([]step, len(layers))
	for i, l := range layers {
		out[i] = step{l.Kind, l.Source, l.Target}
	}
	return out
}

func TestGeneratorLayersOrder(t *testing.T) {
	layers := GeneratorLayers(16, 2)
	require.Equal(t, []step{
		{KindDense, "mapping/Dense0", "style.1"},
		{KindDense, "mapping/Dense1", "style.2"},
		{KindConst, "synthesis/4x4/Const/const", "input.input"},
		{KindToRGB, "synthesis/4x4/ToRGB", "to_rgb1"},
		{KindToRGB, "synthesis/8x8/ToRGB", "to_rgbs.0"},
		{KindToRGB, "synthesis/16x16/ToRGB", "to_rgbs.1"},
		{KindModConv, "synthesis/4x4/Conv", "conv1"},
		{KindModConv, "synthesis/8x8/Conv0_up", "convs.0"},
		{KindModConv, "synthesis/8x8/Conv1", "convs.1"},
		{KindModConv, "synthesis/16x16/Conv0_up", "convs.2"},
		{KindModConv, "synthesis/16x16/Conv1", "convs.3"},
		{KindNoise, "synthesis/noise0", "noises.noise_0"},
		{KindNoise, "synthesis/noise1", "noises.noise_1"},
		{KindNoise, "synthesis/noise2", "noises.noise_2"},
		{KindNoise, "synthesis/noise3", "noises.noise_3"},
		{KindNoise, "synthesis/noise4", "noises.noise_4"},
	}, steps(layers))

	for _, l := range layers {
		require.Equal(t, strings.HasSuffix(l.Source, "Conv0_up"), l.Flip, l.Source)
	}
}

func TestGeneratorLayersFullSize(t *testing.T) {
	layers := GeneratorLayers(1024, 8)
	var noises, convs int
	for _, l := range layers {
		switch {
		case l.Kind == KindNoise:
			noises++
		case l.Kind == KindModConv && l.Target != "conv1":
			convs++
		}
	}
	require.Equal(t, 17, noises)
	require.Equal(t, 16, convs)
	require.Equal(t, "convs.15", layers[len(layers)-noises-1].Target)
}

func TestDiscriminatorLayersOrder(t *testing.T) {
	layers := DiscriminatorLayers(16)
	require.Equal(t, []step{
		{KindConv, "16x16/FromRGB", "convs.0"},
		{KindConv, "16x16/Conv0", "convs.1.conv1"},
		{KindConv, "16x16/Conv1_down", "convs.1.conv2"},
		{KindConv, "16x16/Skip", "convs.1.skip"},
		{KindConv, "8x8/Conv0", "convs.2.conv1"},
		{KindConv, "8x8/Conv1_down", "convs.2.conv2"},
		{KindConv, "8x8/Skip", "convs.2.skip"},
		{KindConv, "4x4/Conv", "final_conv"},
		{KindDense, "4x4/Dense0", "final_linear.0"},
		{KindDense, "Output", "final_linear.1"},
	}, steps(layers))

	slots := map[string][2]any{}
	for _, l := range layers {
		slots[l.Target] = [2]any{l.Start, l.Bias}
	}
	require.Equal(t, [2]any{0, true}, slots["convs.0"])
	require.Equal(t, [2]any{0, true}, slots["convs.1.conv1"])
	require.Equal(t, [2]any{1, true}, slots["convs.1.conv2"])
	require.Equal(t, [2]any{1, false}, slots["convs.2.skip"])
	require.Equal(t, [2]any{0, true}, slots["final_conv"])
}
