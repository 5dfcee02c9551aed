//go:build linux

package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBusID(t *testing.T) {
	cases := []struct {
		id string
		n  int
		ok bool
	}{
		{"i2c0", 0, true},
		{"i2c1", 1, true},
		{"i2c12", 12, true},
		{"spi0", 0, false},
		{"i2c", 0, false},
		{"i2c-1", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		n, ok := parseBusID(tc.id)
		assert.Equal(t, tc.ok, ok, "id %q", tc.id)
		if tc.ok {
			assert.Equal(t, tc.n, n, "id %q", tc.id)
		}
	}
}

func TestBusesByID(t *testing.T) {
	b := NewBuses()
	defer b.Close()

	_, ok := b.ByID("uart0")
	assert.False(t, ok, "non-i2c id must miss")

	// Opening is lazy: ByID succeeds without touching /dev.
	first, ok := b.ByID("i2c0")
	require.True(t, ok)
	again, ok := b.ByID("i2c0")
	require.True(t, ok)
	assert.Same(t, first, again, "factory must hand out one bus per id")

	other, ok := b.ByID("i2c1")
	require.True(t, ok)
	assert.NotSame(t, first, other)
}
