package tunables

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/fms-engine/internal/market"
)

func TestBuildNeutralScale(t *testing.T) {
	c := Build(1.0)
	assert.Equal(t, 160, c.MaxZoneAgeBars)
	assert.Equal(t, 120, c.MaxBarsSinceZoneCreated)
	assert.InDelta(t, 1.0, c.MergeToleranceTicks, 1e-9)
	assert.Equal(t, 18, c.MinBarsBetweenSignals)
	assert.Equal(t, 3, c.FrontRunTicks)
	assert.Equal(t, 12, c.MinTargetTicks)
	assert.Equal(t, 28, c.MaxTargetTicks)
	assert.InDelta(t, 1.35, c.MinRRMultiple, 1e-9)
	assert.Equal(t, 5, c.StopPadTicks)
	assert.Equal(t, 16, c.MaxRiskTicks)
	assert.Equal(t, 50, c.DailyTradeCap)
	assert.Equal(t, 8, c.MinStopTicksFloor)
	assert.InDelta(t, 0.92, c.WickToBodyMinRatio, 1e-9)
}

func TestBuildClampsScale(t *testing.T) {
	low := Build(0.01)
	high := Build(100.0)
	// out-of-range scales collapse onto the [0.6, 3.0] endpoints
	assert.Equal(t, Build(0.6), low)
	assert.Equal(t, Build(3.0), high)

	assert.Equal(t, 200, low.MaxZoneAgeBars)
	assert.Equal(t, 28, low.MinBarsBetweenSignals)
	assert.Equal(t, 60, low.DailyTradeCap)

	assert.Equal(t, 100, high.MaxZoneAgeBars)
	assert.Equal(t, 12, high.MinBarsBetweenSignals)
	assert.Equal(t, 25, high.DailyTradeCap)
	assert.Equal(t, 32, high.MaxTargetTicks)
	assert.InDelta(t, 1.65, high.MinRRMultiple, 1e-9)
}

func TestAutoTuneFromPrevSession(t *testing.T) {
	s := market.NewSeries(0.25)
	n := 0
	add := func(tm int, hi, lo float64) {
		s.Append(market.Bar{Number: n, Time: tm, Open: lo, High: hi, Low: lo, Close: hi, Volume: 100})
		n++
	}
	// previous session: 25-point range = 100 ticks = scale 1.0
	for i := 0; i < 20; i++ {
		add(93000+i, 5025, 5000)
	}
	// overnight bars outside the window
	for i := 0; i < 5; i++ {
		add(170000+i, 5010, 5008)
	}
	// current session, still live
	for i := 0; i < 10; i++ {
		add(93000+i, 5012, 5010)
	}

	tune := AutoTuneFromPrevSession(s, 930, 1600)
	require.False(t, math.IsNaN(tune))
	assert.InDelta(t, 1.0, tune, 1e-9)
}

func TestAutoTuneNoPriorSession(t *testing.T) {
	s := market.NewSeries(0.25)
	for i := 0; i < 30; i++ {
		s.Append(market.Bar{Number: i, Time: 93000 + i, Open: 5000, High: 5001, Low: 4999, Close: 5000})
	}
	assert.True(t, math.IsNaN(AutoTuneFromPrevSession(s, 930, 1600)))
}

func TestMedianAndPercentileVolume(t *testing.T) {
	s := market.NewSeries(0.25)
	vols := []int64{10, 20, 30, 40, 50, 999} // current bar excluded
	for i, v := range vols {
		s.Append(market.Bar{Number: i, Time: 93000 + i, Open: 1, High: 2, Low: 0, Close: 1, Volume: v})
	}
	assert.InDelta(t, 30.0, MedianVolume(s, 100), 1e-9)
	assert.InDelta(t, 10.0, PercentileVolume(s, 100, 0.0), 1e-9)
	assert.InDelta(t, 50.0, PercentileVolume(s, 100, 1.0), 1e-9)
}

func TestEnvRefreshInterval(t *testing.T) {
	s := market.NewSeries(0.25)
	env := NewEnv(1.2, false, 930, 1600)
	for i := 0; i < 25; i++ {
		s.Append(market.Bar{Number: i, Time: 93000 + i, Open: 5000, High: 5001, Low: 4999, Close: 5000, Volume: 100})
	}
	require.True(t, env.Refresh(s))
	// within the interval nothing recomputes
	s.Append(market.Bar{Number: 25, Time: 93025, Open: 5000, High: 5001, Low: 4999, Close: 5000, Volume: 100})
	assert.False(t, env.Refresh(s))
}

func TestEnvFactorsBounded(t *testing.T) {
	s := market.NewSeries(0.25)
	env := NewEnv(1.2, true, 930, 1600)
	for i := 0; i < 200; i++ {
		p := 5000.0 + float64(i)
		s.Append(market.Bar{Number: i, Time: 93000 + i, Open: p, High: p + 2, Low: p - 2, Close: p, Volume: int64(50 + i%40)})
		env.Refresh(s)
	}
	assert.GreaterOrEqual(t, env.Nu, 0.7)
	assert.LessOrEqual(t, env.Nu, 1.3)
	assert.GreaterOrEqual(t, env.Tau, 0.7)
	assert.LessOrEqual(t, env.Tau, 1.4)
	assert.GreaterOrEqual(t, env.Eta, 0.7)
	assert.LessOrEqual(t, env.Eta, 1.4)
	assert.GreaterOrEqual(t, env.S, 0.6)
	assert.LessOrEqual(t, env.S, 3.0)
}
