// Package state holds a target parameter mapping and validates every write
// against its declared key set and shapes.
package state

import (
	"fmt"
	"sort"

	"github.com/23skdu/longbow-restyle/internal/tensor"
)

// KeyNotFoundError is returned when an update names a key the target
// architecture does not declare.
type KeyNotFoundError struct {
	State string
	Key   string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s is not found", e.State, e.Key)
}

// ShapeMismatchError is returned when an update's tensor shape differs from
// the declared one.
type ShapeMismatchError struct {
	State string
	Key   string
	Got   []int
	Want  []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: shape mismatch for %s: %s vs %s",
		e.State, e.Key, tensor.ShapeString(e.Got), tensor.ShapeString(e.Want))
}

// State is an ordered key to tensor mapping.
type State struct {
	name    string
	keys    []string
	params  map[string]*tensor.Tensor
	written map[string]bool
}

func New(name string) *State {
	return &State{
		name:    name,
		params:  make(map[string]*tensor.Tensor),
		written: make(map[string]bool),
	}
}

func (s *State) Name() string { return s.name }

func (s *State) Len() int { return len(s.keys) }

// Declare adds a key with its initial value. Keys may be declared once.
func (s *State) Declare(key string, t *tensor.Tensor) error {
	if _, ok := s.params[key]; ok {
		return fmt.Errorf("%s: %s declared twice", s.name, key)
	}
	s.keys = append(s.keys, key)
	s.params[key] = t
	return nil
}

func (s *State) Get(key string) (*tensor.Tensor, bool) {
	t, ok := s.params[key]
	return t, ok
}

// Keys returns the keys in declaration order.
func (s *State) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Update validates every entry and then writes them all. On error nothing is
// written.
func (s *State) Update(entries map[string]*tensor.Tensor) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		cur, ok := s.params[k]
		if !ok {
			return &KeyNotFoundError{State: s.name, Key: k}
		}
		v := entries[k]
		if v == nil || !tensor.SameShape(v.Shape, cur.Shape) {
			var got []int
			if v != nil {
				got = v.Shape
			}
			return &ShapeMismatchError{State: s.name, Key: k, Got: got, Want: cur.Shape}
		}
	}

	for _, k := range keys {
		s.params[k] = entries[k]
		s.written[k] = true
	}
	return nil
}

// Written returns the keys set through Update, sorted.
func (s *State) Written() []string {
	keys := make([]string, 0, len(s.written))
	for k := range s.written {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Untouched returns declared keys never set through Update, in declaration
// order.
func (s *State) Untouched() []string {
	var out []string
	for _, k := range s.keys {
		if !s.written[k] {
			out = append(out, k)
		}
	}
	return out
}
