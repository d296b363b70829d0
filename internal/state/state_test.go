package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-restyle/internal/tensor"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s := New("g_ema")
	require.NoError(t, s.Declare("style.1.weight", tensor.Zeros(2, 2)))
	require.NoError(t, s.Declare("style.1.bias", tensor.Zeros(2)))
	require.NoError(t, s.Declare("noises.noise_0", tensor.Zeros(1, 1, 4, 4)))
	return s
}

func TestDeclareKeepsOrder(t *testing.T) {
	s := newTestState(t)
	require.Equal(t, 3, s.Len())
	require.Equal(t, []string{"style.1.weight", "style.1.bias", "noises.noise_0"}, s.Keys())
	require.Error(t, s.Declare("style.1.bias", tensor.Zeros(2)))
}

func TestUpdateWrites(t *testing.T) {
	s := newTestState(t)
	w := tensor.Full(3, 2, 2)
	require.NoError(t, s.Update(map[string]*tensor.Tensor{"style.1.weight": w}))

	got, ok := s.Get("style.1.weight")
	require.True(t, ok)
	require.Same(t, w, got)
	require.Equal(t, []string{"style.1.weight"}, s.Written())
	require.Equal(t, []string{"style.1.bias", "noises.noise_0"}, s.Untouched())
}

func TestUpdateRejectsUnknownKey(t *testing.T) {
	s := newTestState(t)
	err := s.Update(map[string]*tensor.Tensor{
		"style.1.bias":   tensor.Full(1, 2),
		"style.9.weight": tensor.Zeros(2, 2),
	})
	var nf *KeyNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "style.9.weight", nf.Key)

	// the valid entry in the same call is not applied
	b, _ := s.Get("style.1.bias")
	require.Equal(t, []float32{0, 0}, b.Data)
	require.Empty(t, s.Written())
}

func TestUpdateRejectsShapeMismatch(t *testing.T) {
	s := newTestState(t)
	err := s.Update(map[string]*tensor.Tensor{
		"noises.noise_0": tensor.Zeros(1, 1, 8, 8),
	})
	var sm *ShapeMismatchError
	require.ErrorAs(t, err, &sm)
	require.Equal(t, "noises.noise_0", sm.Key)
	require.Equal(t, []int{1, 1, 8, 8}, sm.Got)
	require.Equal(t, []int{1, 1, 4, 4}, sm.Want)
	require.Contains(t, err.Error(), "(1, 1, 8, 8) vs (1, 1, 4, 4)")

	n, _ := s.Get("noises.noise_0")
	require.Equal(t, []int{1, 1, 4, 4}, n.Shape)
	require.Empty(t, s.Written())
}

func TestUpdateRejectsNilTensor(t *testing.T) {
	s := newTestState(t)
	var sm *ShapeMismatchError
	require.ErrorAs(t, s.Update(map[string]*tensor.Tensor{"style.1.bias": nil}), &sm)
}
