// Package pagination bounds the page size of list endpoints.
package pagination

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidLimit is returned for a limit that is not a positive integer.
var ErrInvalidLimit = errors.New("limit must be a positive integer")

// Limits holds the page size used when none is requested and the largest
// one a caller may ask for.
type Limits struct {
	Default int
	Max     int
}

// Clamp maps a requested size onto [1, Max]. Zero or negative means Default.
func (l Limits) Clamp(n int) int {
	if n <= 0 {
		return l.Default
	}
	if n > l.Max {
		return l.Max
	}
	return n
}

// ParseLimit reads a ?limit= query value. An empty value yields 0 so the
// caller's Clamp picks the default.
func ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, ErrInvalidLimit
	}
	return n, nil
}
