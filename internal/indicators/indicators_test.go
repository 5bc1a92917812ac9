package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/fms-engine/internal/market"
)

func flatSeries(n int, price float64) *market.Series {
	s := market.NewSeries(0.25)
	for i := 0; i < n; i++ {
		s.Append(market.Bar{
			Number: i, Time: 100000 + i,
			Open: price, High: price + 1, Low: price - 1, Close: price,
			Volume: 100,
		})
	}
	return s
}

func TestATRFlatBars(t *testing.T) {
	s := flatSeries(30, 5000)
	// every bar spans exactly 2 points and closes unchanged
	assert.InDelta(t, 2.0, ATR(s, ATRPeriod), 1e-9)
}

func TestATRInsufficientHistory(t *testing.T) {
	s := flatSeries(ATRPeriod, 5000)
	assert.True(t, math.IsNaN(ATR(s, ATRPeriod)))
}

func TestTrueRangeUsesPrevClose(t *testing.T) {
	s := market.NewSeries(0.25)
	s.Append(market.Bar{Number: 0, Open: 100, High: 101, Low: 99, Close: 100})
	s.Append(market.Bar{Number: 1, Open: 110, High: 111, Low: 109, Close: 110})
	// gap up: TR = high - prev close = 11
	assert.InDelta(t, 11.0, TrueRangeAt(s, 1), 1e-9)
}

func TestVWAPFlatTape(t *testing.T) {
	s := flatSeries(25, 5000)
	// typical price of every bar is (5001+4999+5000)/3 = 5000
	assert.InDelta(t, 5000.0, VWAP(s, VWAPLookback), 1e-9)
}

func TestEMAConvergesOnConstant(t *testing.T) {
	s := flatSeries(80, 4200)
	assert.InDelta(t, 4200.0, EMA(s, EMAPeriod), 1e-9)
}

func TestEMAAtBounds(t *testing.T) {
	s := flatSeries(10, 100)
	assert.True(t, math.IsNaN(EMAAt(s, 5, 50)))
	assert.True(t, math.IsNaN(EMAAt(s, -1, 5)))
}

func TestCacheDedupesBarNumber(t *testing.T) {
	s := flatSeries(60, 5000)
	c := NewCache()
	c.Update(s)
	first := c.Snapshot()
	c.Update(s)
	second := c.Snapshot()
	assert.Equal(t, first.ATR, second.ATR)
	assert.Equal(t, first.VWAP, second.VWAP)
	assert.Equal(t, first.EMA50, second.EMA50)
	assert.Equal(t, first.TrueRange, second.TrueRange)
}

func TestSetATRPeriodNarrowsWindow(t *testing.T) {
	s := market.NewSeries(0.25)
	for i := 0; i < 30; i++ {
		spread := 1.0
		if i >= 25 {
			spread = 2.0
		}
		s.Append(market.Bar{
			Number: i, Time: 100000 + i,
			Open: 5000, High: 5000 + spread, Low: 5000 - spread, Close: 5000,
			Volume: 100,
		})
	}

	c := NewCache()
	c.SetATRPeriod(5)
	c.Update(s)
	// the 5-bar window only sees the wide bars
	assert.InDelta(t, 4.0, c.Snapshot().ATR, 1e-9)

	// degenerate periods are ignored
	c2 := NewCache()
	c2.SetATRPeriod(1)
	c2.Update(s)
	assert.InDelta(t, ATR(s, ATRPeriod), c2.Snapshot().ATR, 1e-9)
}

func TestSwingDetection(t *testing.T) {
	s := market.NewSeries(0.25)
	price := func(i int) (h, l float64) {
		if i == 10 {
			return 5020, 5010 // local high
		}
		return 5005, 4995
	}
	for i := 0; i < 20; i++ {
		h, l := price(i)
		s.Append(market.Bar{Number: i, Open: 5000, High: h, Low: l, Close: 5000, Volume: 50})
	}
	c := NewCache()
	// walk the cache forward so the centered window passes over bar 10
	for n := 1; n <= 20; n++ {
		sub := market.NewSeries(0.25)
		for i := 0; i < n; i++ {
			sub.Append(s.At(i))
		}
		c.Update(sub)
	}
	require.False(t, math.IsNaN(c.Snapshot().SwingHigh))
	assert.InDelta(t, 5020.0, c.Snapshot().SwingHigh, 1e-9)
}
