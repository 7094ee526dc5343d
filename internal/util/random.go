// Package util provides small text and randomness helpers shared across Baruc.
package util

import (
	"math/rand/v2"
)

// Picker chooses an index in [0, n). Tests inject deterministic pickers.
type Picker func(n int) int

// RandomPicker picks uniformly using math/rand/v2.
func RandomPicker(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.IntN(n)
}

// PickOne returns a random element of items using the given picker,
// or the zero value when items is empty.
func PickOne[T any](items []T, pick Picker) T {
	var zero T
	if len(items) == 0 {
		return zero
	}
	if pick == nil {
		pick = RandomPicker
	}
	i := pick(len(items))
	if i < 0 || i >= len(items) {
		i = 0
	}
	return items[i]
}
