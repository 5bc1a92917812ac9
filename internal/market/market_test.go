package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectionOpposite(t *testing.T) {
	assert.Equal(t, Short, Long.Opposite())
	assert.Equal(t, Long, Short.Opposite())
	assert.Equal(t, "LONG", Long.String())
	assert.Equal(t, "SHORT", Short.String())
}

func TestBarWicksAndBody(t *testing.T) {
	b := Bar{Open: 100, High: 106, Low: 98, Close: 104}
	assert.Equal(t, 8.0, b.Range())
	assert.Equal(t, 4.0, b.Body())
	assert.True(t, b.Bullish())
	assert.Equal(t, 2.0, b.UpperWick())
	assert.Equal(t, 2.0, b.LowerWick())
}

func TestWithinHHmm(t *testing.T) {
	assert.True(t, WithinHHmm(93000, 930, 1600))
	assert.True(t, WithinHHmm(155959, 930, 1600))
	assert.False(t, WithinHHmm(160000, 930, 1600))
	assert.False(t, WithinHHmm(92959, 930, 1600))
}

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 5000.25, RoundToTick(5000.30, 0.25), 1e-9)
	assert.InDelta(t, 5000.50, RoundToTick(5000.40, 0.25), 1e-9)
	assert.InDelta(t, 5000.25, RoundToTick(5000.125, 0.25), 1e-9)
}

func TestSeriesAccessors(t *testing.T) {
	s := NewSeries(0.25)
	_, ok := s.Current()
	assert.False(t, ok)

	s.Append(Bar{Number: 0, High: 10, Low: 5})
	s.Append(Bar{Number: 1, High: 12, Low: 7})

	cur, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, 1, cur.Number)

	prev, ok := s.Prev(1)
	assert.True(t, ok)
	assert.Equal(t, 0, prev.Number)

	_, ok = s.Prev(5)
	assert.False(t, ok)

	assert.Equal(t, 12.0, s.RecentHigh(2))
	assert.Equal(t, 5.0, s.RecentLow(2))
}
