package convert

import (
	"fmt"

	"github.com/23skdu/longbow-restyle/internal/arch"
)

func res(r int) string {
	return fmt.Sprintf("%dx%d", r, r)
}

// GeneratorLayers lists the generator layers in fill order.
func GeneratorLayers(size, nMLP int) []Layer {
	log := arch.Log2(size)
	var layers []Layer

	for i := 0; i < nMLP; i++ {
		layers = append(layers, Layer{
			Kind:   KindDense,
			Source: fmt.Sprintf("mapping/Dense%d", i),
			Target: fmt.Sprintf("style.%d", i+1),
		})
	}

	layers = append(layers,
		Layer{Resolution: 4, Kind: KindConst, Source: "synthesis/4x4/Const/const", Target: "input.input"},
		Layer{Resolution: 4, Kind: KindToRGB, Source: "synthesis/4x4/ToRGB", Target: "to_rgb1"},
	)
	for i := 0; i < log-2; i++ {
		r := 4 << (i + 1)
		layers = append(layers, Layer{
			Resolution: r,
			Kind:       KindToRGB,
			Source:     fmt.Sprintf("synthesis/%s/ToRGB", res(r)),
			Target:     fmt.Sprintf("to_rgbs.%d", i),
		})
	}

	layers = append(layers, Layer{Resolution: 4, Kind: KindModConv, Source: "synthesis/4x4/Conv", Target: "conv1"})
	for i := 0; i < log-2; i++ {
		r := 4 << (i + 1)
		layers = append(layers,
			Layer{
				Resolution: r,
				Kind:       KindModConv,
				Source:     fmt.Sprintf("synthesis/%s/Conv0_up", res(r)),
				Target:     fmt.Sprintf("convs.%d", 2*i),
				Flip:       true,
			},
			Layer{
				Resolution: r,
				Kind:       KindModConv,
				Source:     fmt.Sprintf("synthesis/%s/Conv1", res(r)),
				Target:     fmt.Sprintf("convs.%d", 2*i+1),
			},
		)
	}

	for i := 0; i <= (log-2)*2; i++ {
		layers = append(layers, Layer{
			Resolution: arch.NoiseResolution(i),
			Kind:       KindNoise,
			Source:     fmt.Sprintf("synthesis/noise%d", i),
			Target:     fmt.Sprintf("noises.noise_%d", i),
		})
	}
	return layers
}

// DiscriminatorLayers lists the discriminator layers in fill order, from the
// input resolution down to 4x4.
func DiscriminatorLayers(size int) []Layer {
	log := arch.Log2(size)
	layers := []Layer{{
		Resolution: size,
		Kind:       KindConv,
		Source:     res(size) + "/FromRGB",
		Target:     "convs.0",
		Bias:       true,
	}}

	for i, k := log-2, 1; i >= 1; i, k = i-1, k+1 {
		r := 4 << i
		prefix := fmt.Sprintf("convs.%d", k)
		layers = append(layers,
			Layer{Resolution: r, Kind: KindConv, Source: res(r) + "/Conv0", Target: prefix + ".conv1", Bias: true},
			Layer{Resolution: r, Kind: KindConv, Source: res(r) + "/Conv1_down", Target: prefix + ".conv2", Start: 1, Bias: true},
			Layer{Resolution: r, Kind: KindConv, Source: res(r) + "/Skip", Target: prefix + ".skip", Start: 1},
		)
	}

	return append(layers,
		Layer{Resolution: 4, Kind: KindConv, Source: "4x4/Conv", Target: "final_conv", Bias: true},
		Layer{Resolution: 4, Kind: KindDense, Source: "4x4/Dense0", Target: "final_linear.0"},
		Layer{Resolution: 4, Kind: KindDense, Source: "Output", Target: "final_linear.1"},
	)
}
