package convert

import (
	"strconv"
	"strings"

	"github.com/23skdu/longbow-restyle/internal/arch"
	"github.com/23skdu/longbow-restyle/internal/legacy"
)

// Shape is what InferShape can read off a generator network. Zero fields
// were not found.
type Shape struct {
	Size        int
	StyleDim    int
	NMLP        int
	MaxChannels int
}

// InferShape reads the architecture of a flattened generator network.
func InferShape(store legacy.Store) Shape {
	var s Shape
	for _, key := range store.Keys() {
		switch {
		case strings.HasPrefix(key, "synthesis/"):
			if r := parseRes(strings.TrimPrefix(key, "synthesis/")); r > s.Size {
				s.Size = r
			}
		case strings.HasPrefix(key, "mapping/Dense") && strings.HasSuffix(key, "/weight"):
			s.NMLP++
		}
	}

	if t, ok := store.Lookup("dlatent_avg"); ok && t.Numel() > 0 {
		s.StyleDim = t.Shape[len(t.Shape)-1]
	} else if t, ok := store.Lookup("mapping/Dense0/weight"); ok && t.Rank() == 2 {
		s.StyleDim = t.Shape[0]
	}

	if t, ok := store.Lookup("synthesis/4x4/Const/const"); ok && t.Rank() == 4 {
		if ch := t.Shape[1]; ch < arch.Channels(4, 1) {
			s.MaxChannels = ch
		}
	}
	return s
}

// parseRes reads the R of a leading "RxR/" path element.
func parseRes(path string) int {
	head, _, ok := strings.Cut(path, "/")
	if !ok {
		return 0
	}
	a, b, ok := strings.Cut(head, "x")
	if !ok || a != b {
		return 0
	}
	r, err := strconv.Atoi(a)
	if err != nil {
		return 0
	}
	return r
}
