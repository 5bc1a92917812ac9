package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.Push(v)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []float64{3, 4, 5}, r.Values())
	assert.Equal(t, 5.0, r.Last())
}

func TestRingPartialFill(t *testing.T) {
	r := NewRing(4)
	r.Push(7)
	r.Push(8)
	require.Equal(t, 2, r.Len())
	assert.Equal(t, []float64{7, 8}, r.Values())
	assert.Equal(t, 4, r.Cap())
}

func TestRingTail(t *testing.T) {
	r := NewRing(5)
	for v := 1.0; v <= 7; v++ {
		r.Push(v)
	}
	assert.Equal(t, []float64{6, 7}, r.Tail(2))
	assert.Equal(t, []float64{3, 4, 5, 6, 7}, r.Tail(99))
}

func TestRingReset(t *testing.T) {
	r := NewRing(2)
	r.Push(1)
	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Values())
}
