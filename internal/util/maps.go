package util

import "errors"

var (
	ErrEmpty    = errors.New("no element found")
	ErrMultiple = errors.New("multiple elements found")
)

// GetOne returns the only value of m. It fails with ErrEmpty or
// ErrMultiple otherwise.
func GetOne[K comparable, T any](m map[K]T) (T, error) {
	var zero T
	if len(m) > 1 {
		return zero, ErrMultiple
	}
	for _, v := range m {
		return v, nil
	}
	return zero, ErrEmpty
}
