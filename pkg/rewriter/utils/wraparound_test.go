package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func update(t *testing.T, w *WrapAround[uint16, uint64], val uint16) uint64 {
	ext, ok := w.Update(val)
	require.True(t, ok)
	return ext
}

func extend(t *testing.T, w *WrapAround[uint16, uint64], val uint16) uint64 {
	ext, ok := w.Extend(val)
	require.True(t, ok)
	return ext
}

func TestWrapAroundInOrder(t *testing.T) {
	w := NewWrapAround[uint16, uint64]()

	require.Equal(t, uint64(23333), update(t, w, 23333))
	require.Equal(t, uint64(23334), update(t, w, 23334))
	require.Equal(t, uint64(23334), w.ExtendedHighest())
	require.Equal(t, uint16(23334), w.Highest())
}

func TestWrapAroundCycle(t *testing.T) {
	w := NewWrapAround[uint16, uint64]()

	update(t, w, 65534)
	require.Equal(t, uint64(65535), update(t, w, 65535))
	require.Equal(t, uint64(65536), update(t, w, 0))
	require.Equal(t, uint64(65537), update(t, w, 1))
	require.Equal(t, uint16(1), w.Highest())
	require.Equal(t, uint64(65537), w.ExtendedHighest())
}

func TestWrapAroundOutOfOrder(t *testing.T) {
	w := NewWrapAround[uint16, uint64]()

	update(t, w, 65534)
	update(t, w, 0) // wraps, extended 65536

	// out-of-order value across the wrap boundary
	require.Equal(t, uint64(65535), update(t, w, 65535))
	// highest unchanged by out-of-order update
	require.Equal(t, uint64(65536), w.ExtendedHighest())

	// read-only extension matches
	require.Equal(t, uint64(65534), extend(t, w, 65534))
	require.Equal(t, uint64(65536), w.ExtendedHighest())
}

func TestWrapAroundBeforeStart(t *testing.T) {
	w := NewWrapAround[uint16, uint64]()

	require.Equal(t, uint64(10), extend(t, w, 10))

	update(t, w, 10)

	// a value reordered below the first one seen has no valid extension
	_, ok := w.Extend(65530)
	require.False(t, ok)
	_, ok = w.Update(65530)
	require.False(t, ok)

	// cycle state undisturbed by the rejected value
	require.Equal(t, uint64(10), w.ExtendedHighest())
	require.Equal(t, uint64(11), update(t, w, 11))
}

func TestWrapAroundMultipleCycles(t *testing.T) {
	w := NewWrapAround[uint16, uint64]()

	update(t, w, 0)
	update(t, w, 30000)
	update(t, w, 60000)
	require.Equal(t, uint64(65536+20000), update(t, w, 20000))
	require.Equal(t, uint64(65536+50000), update(t, w, 50000))
	require.Equal(t, uint64(2*65536+10000), update(t, w, 10000))
	require.Equal(t, uint16(10000), w.Highest())
}
