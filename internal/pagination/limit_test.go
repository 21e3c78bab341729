package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimits_Clamp(t *testing.T) {
	l := Limits{Default: 100, Max: 500}

	tests := []struct {
		in, want int
	}{
		{0, 100},
		{-3, 100},
		{1, 1},
		{250, 250},
		{500, 500},
		{501, 500},
	}
	for _, tt := range tests {
		if got := l.Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseLimit(t *testing.T) {
	n, err := ParseLimit("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = ParseLimit(" 25 ")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	for _, bad := range []string{"abc", "0", "-1", "1.5"} {
		_, err := ParseLimit(bad)
		assert.ErrorIs(t, err, ErrInvalidLimit, bad)
	}
}
