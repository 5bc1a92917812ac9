package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/fms-engine/internal/indicators"
	"github.com/quantfold/fms-engine/internal/market"
	"github.com/quantfold/fms-engine/internal/regime"
	"github.com/quantfold/fms-engine/internal/tunables"
	"github.com/quantfold/fms-engine/internal/zones"
)

func flatSeries(n int) *market.Series {
	s := market.NewSeries(0.25)
	for i := 0; i < n; i++ {
		s.Append(market.Bar{
			Number: i, Time: 100000 + i,
			Open: 5000, High: 5001, Low: 4999, Close: 5000,
			Volume: 100,
		})
	}
	return s
}

func flatContext(n int) *Context {
	s := flatSeries(n)
	cache := indicators.NewCache()
	cache.Update(s)
	return &Context{
		Series:       s,
		Ind:          cache.Snapshot(),
		Regime:       regime.State{Class: regime.Laminar, Throttle: 1.0},
		Env:          tunables.NewEnv(1.2, false, 930, 1600),
		LastEntryBar: -1,
		LastStopBar:  -1,
	}
}

func TestParamsTable(t *testing.T) {
	p := ParamsFor(Active)
	assert.Equal(t, int64(25), p.MinDelta3)
	assert.InDelta(t, 1.08, p.VolumeThreshold, 1e-9)
	assert.Equal(t, 1, p.CooldownOnStopBars)
	assert.InDelta(t, -0.05, p.ThresholdAdj, 1e-9)

	assert.Greater(t, ParamsFor(Conservative).MinDelta3, ParamsFor(Active).MinDelta3)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, Conservative, ParseMode("conservative"))
	assert.Equal(t, Balanced, ParseMode("balanced"))
	assert.Equal(t, Active, ParseMode("anything-else"))
}

func TestThresholdByRegimeAndLunch(t *testing.T) {
	p := ParamsFor(Active)
	assert.InDelta(t, 0.25, p.Threshold(regime.Laminar, 100000), 1e-9)
	assert.InDelta(t, 0.30, p.Threshold(regime.Transition, 100000), 1e-9)
	assert.InDelta(t, 0.35, p.Threshold(regime.Turbulent, 100000), 1e-9)
	// inside lunch the bar pays a premium
	assert.InDelta(t, 0.27, p.Threshold(regime.Laminar, 123000), 1e-9)
}

func TestInLunchWindow(t *testing.T) {
	assert.False(t, InLunch(115959))
	assert.True(t, InLunch(120000))
	assert.True(t, InLunch(125959))
	assert.False(t, InLunch(130000))
}

func TestMinBarsBetweenEntries(t *testing.T) {
	assert.Equal(t, 3, MinBarsBetweenEntries(regime.Laminar))
	assert.Equal(t, 4, MinBarsBetweenEntries(regime.Transition))
	assert.Equal(t, 5, MinBarsBetweenEntries(regime.Turbulent))
}

func TestFlatTapeBlockedByVetoGates(t *testing.T) {
	e := NewEvaluator(Active, 0.25)
	ctx := flatContext(60)

	a := e.Evaluate(market.Long, ctx)
	assert.False(t, a.OK())
	// the symmetric bar prints a rejection wick on the trade side
	assert.Contains(t, a.Blocked, "wick_guard")
	// energy and compression annotate, they never veto
	assert.NotContains(t, a.Blocked, "energy")
	assert.NotContains(t, a.Blocked, "compression")
	assert.NotContains(t, a.Blocked, "iceberg")
	// two of five confirmations is enough for the structure gate
	assert.Contains(t, a.Passed, "structure_2of5")
}

func TestSpacingGate(t *testing.T) {
	e := NewEvaluator(Active, 0.25)
	ctx := flatContext(60)
	ctx.LastEntryBar = 58 // one bar ago

	a := e.Evaluate(market.Long, ctx)
	assert.Contains(t, a.Blocked, "entry_spacing")

	ctx.LastEntryBar = 56 // exactly the Laminar floor of three bars
	a = e.Evaluate(market.Long, ctx)
	assert.NotContains(t, a.Blocked, "entry_spacing")

	ctx.LastEntryBar = 54 // five bars back clears the floor with room
	a = e.Evaluate(market.Long, ctx)
	assert.NotContains(t, a.Blocked, "entry_spacing")
}

func TestOneAndDoneGate(t *testing.T) {
	e := NewEvaluator(Active, 0.25)
	ctx := flatContext(60)
	ctx.LastStopBar = 40
	ctx.LastStopLevel = 5000.25 // within two ticks of the close

	a := e.Evaluate(market.Long, ctx)
	assert.Contains(t, a.Blocked, "one_and_done")

	ctx.LastStopBar = 20 // per-level cooldown elapsed, the level is live again
	a = e.Evaluate(market.Long, ctx)
	assert.NotContains(t, a.Blocked, "one_and_done")
}

func TestLunchGateWantsThreeConfirmations(t *testing.T) {
	e := NewEvaluator(Active, 0.25)
	s := flatSeries(59)
	s.Append(market.Bar{
		Number: 59, Time: 123000,
		Open: 5000, High: 5001, Low: 4999, Close: 5000,
		Volume: 100,
	})
	cache := indicators.NewCache()
	cache.Update(s)
	ctx := &Context{
		Series:       s,
		Ind:          cache.Snapshot(),
		Regime:       regime.State{Class: regime.Laminar, Throttle: 1.0},
		Env:          tunables.NewEnv(1.2, false, 930, 1600),
		LastEntryBar: -1,
		LastStopBar:  -1,
	}

	a := e.Evaluate(market.Long, ctx)
	// two confirmations pass the structure gate but not the lunch premium
	assert.Contains(t, a.Passed, "structure_2of5")
	assert.Contains(t, a.Blocked, "lunch_kofn")
}

func TestIcebergAbsorptionVeto(t *testing.T) {
	e := NewEvaluator(Active, 0.25)
	s := market.NewSeries(0.25)
	n := 0
	for ; n < 30; n++ {
		s.Append(market.Bar{
			Number: n, Time: 103000 + n,
			Open: 5000, High: 5001, Low: 4999, Close: 5000,
			Volume: 100, Delta: 5,
		})
	}
	// heavy buying the book soaks up without letting price leave the level
	for ; n < 34; n++ {
		s.Append(market.Bar{
			Number: n, Time: 103000 + n,
			Open: 5000, High: 5000.2, Low: 4999.8, Close: 5000,
			Volume: 160, Delta: 150,
		})
	}
	s.Append(market.Bar{
		Number: n, Time: 103000 + n,
		Open: 5000, High: 5000.9, Low: 4999.9, Close: 5000.1,
		Volume: 160, Delta: 150,
	})
	cache := indicators.NewCache()
	cache.Update(s)
	ctx := &Context{
		Series:       s,
		Ind:          cache.Snapshot(),
		Regime:       regime.State{Class: regime.Laminar, Throttle: 1.0},
		Env:          tunables.NewEnv(1.2, false, 930, 1600),
		LastEntryBar: -1,
		LastStopBar:  -1,
	}

	a := e.Evaluate(market.Long, ctx)
	assert.Contains(t, a.Blocked, "iceberg")
}

func TestStopCooldownGate(t *testing.T) {
	e := NewEvaluator(Active, 0.25)
	ctx := flatContext(60)
	ctx.LastStopBar = 59 // stopped this very bar

	a := e.Evaluate(market.Long, ctx)
	assert.Contains(t, a.Blocked, "stop_cooldown")

	ctx.LastStopBar = 50 // cooldown elapsed
	a = e.Evaluate(market.Long, ctx)
	assert.NotContains(t, a.Blocked, "stop_cooldown")
}

// coiledBreakoutSeries builds a tape that should clear every gate for a
// long: an early uptrend (EMA slope), a tight coil with gentle buying and a
// stacked bid, then a breakout bar on flow and volume.
func coiledBreakoutSeries() *market.Series {
	s := market.NewSeries(0.25)
	n := 0
	add := func(close float64, h, l float64, vol, delta int64, bid bool) {
		s.Append(market.Bar{
			Number: n, Time: 103000 + n,
			Open: close - 0.1, High: h, Low: l, Close: close,
			Volume: vol, Delta: delta, BidStacked: bid,
		})
		n++
	}
	// uptrend feeding the EMA
	for i := 0; i < 60; i++ {
		c := 4988.0 + 0.2*float64(i)
		add(c, c+0.4, c-0.4, 100, 5, false)
	}
	// coil around 5000 with steady small buying
	for i := 60; i < 99; i++ {
		vol := int64(95)
		if i%2 == 0 {
			vol = 105
		}
		add(5000.0, 5000.4, 4999.6, vol, 10, i == 97)
	}
	// breakout bar
	s.Append(market.Bar{
		Number: 99, Time: 103000 + 99,
		Open: 5000.0, High: 5000.75, Low: 4999.95, Close: 5000.7,
		Volume: 140, Delta: 40,
	})
	return s
}

func TestCoiledBreakoutClearsAllGates(t *testing.T) {
	s := coiledBreakoutSeries()
	cache := indicators.NewCache()
	cache.Update(s)
	ctx := &Context{
		Series:       s,
		Ind:          cache.Snapshot(),
		Regime:       regime.State{Class: regime.Laminar, Throttle: 1.0},
		Env:          tunables.NewEnv(1.2, false, 930, 1600),
		LastEntryBar: -1,
		LastStopBar:  -1,
	}

	e := NewEvaluator(Active, 0.25)
	a := e.Evaluate(market.Long, ctx)
	assert.True(t, a.OK(), "blocked by: %v", a.Blocked)
	assert.GreaterOrEqual(t, a.Score.KofN, 2)
	assert.Greater(t, a.Score.Delta3Z, 0.15)
	assert.Greater(t, a.Score.VolZ, 0.05)
	assert.LessOrEqual(t, a.Score.BaseWidthATR, 2.5)
	assert.Greater(t, a.Score.Opportunity, 0.0)
}

func TestOpportunityScoreBounded(t *testing.T) {
	ctx := flatContext(80)
	for _, dir := range []market.Direction{market.Long, market.Short} {
		sc := ComputeOpportunity(dir, ctx.Series, ctx.Ind, ctx.Regime, nil, nil, ctx.Env)
		assert.GreaterOrEqual(t, sc.Opportunity, 0.0)
		assert.LessOrEqual(t, sc.Opportunity, 1.0)
		assert.GreaterOrEqual(t, sc.KofN, 0)
		assert.LessOrEqual(t, sc.KofN, 5)
	}
}

func TestZoneRetestStrengthensPullback(t *testing.T) {
	ctx := flatContext(60)

	book := zones.NewBook(0.25)
	zs := market.NewSeries(0.25)
	for i := 0; i < 5; i++ {
		zs.Append(market.Bar{
			Number: i, Time: 100000 + i,
			Open: 5000, High: 5001, Low: 4999, Close: 5000,
			Volume: 100, BidStacked: i == 2,
		})
	}
	book.Scan(zs, ctx.Env)
	require.NotZero(t, book.Len())

	base := ComputeOpportunity(market.Long, ctx.Series, ctx.Ind, ctx.Regime, nil, nil, ctx.Env)
	boosted := ComputeOpportunity(market.Long, ctx.Series, ctx.Ind, ctx.Regime, nil, book, ctx.Env)
	assert.Greater(t, boosted.Pullback, base.Pullback)
}

func TestAlphaWeightsStayNormalized(t *testing.T) {
	a := NewAlphaSet()
	sc := Score{Delta3Z: 1.2, DistVWAP: 0.3, Breakout: 0.8}

	rule := a.RuleScore(market.Long, sc)
	assert.GreaterOrEqual(t, rule, 0.0)
	assert.LessOrEqual(t, rule, 1.0)

	a.NoteEntry(market.Long, sc)
	for i := 0; i < 30; i++ {
		a.NoteOutcome(1.0) // winner streak
	}
	w := a.Weights()
	sum := w[0] + w[1] + w[2]
	require.InDelta(t, 1.0, sum, 1e-9)
	for _, wi := range w {
		assert.Greater(t, wi, 0.0)
	}
}
