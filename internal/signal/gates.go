package signal

import (
	"fmt"
	"math"

	"github.com/quantfold/fms-engine/internal/indicators"
	"github.com/quantfold/fms-engine/internal/market"
	"github.com/quantfold/fms-engine/internal/orders"
	"github.com/quantfold/fms-engine/internal/regime"
	"github.com/quantfold/fms-engine/internal/tunables"
	"github.com/quantfold/fms-engine/internal/zones"
)

// Context is everything one Evaluate call reads. The engine owns the
// bookkeeping fields and refreshes them after fills and exits.
type Context struct {
	Series   *market.Series
	Ind      indicators.Snapshot
	Regime   regime.State
	Clusters *orders.Clusters
	Book     *zones.Book
	Env      *tunables.Env

	LastEntryBar  int // -1 when none
	LastStopBar   int // -1 when none
	LastStopLevel float64
	DailyTrades   int
}

// Assessment is the gate outcome. Blocked empty means the direction cleared
// every gate; the names record which checks fired, mirroring how decisions
// are logged downstream.
type Assessment struct {
	Direction market.Direction
	Score     Score
	Passed    []string
	Blocked   []string
}

func (a Assessment) OK() bool { return len(a.Blocked) == 0 }

// Evaluator runs the full gate cascade for one direction.
type Evaluator struct {
	params Params
	tick   float64
}

func NewEvaluator(mode Mode, tick float64) *Evaluator {
	if tick <= 0 {
		tick = market.DefaultTick
	}
	return &Evaluator{params: ParamsFor(mode), tick: tick}
}

func (e *Evaluator) Params() Params { return e.params }

// Evaluate scores the direction and walks every veto. All gates run even
// after the first block so the log shows the complete picture for the bar.
func (e *Evaluator) Evaluate(dir market.Direction, ctx *Context) Assessment {
	a := Assessment{Direction: dir}
	cur, ok := ctx.Series.Current()
	if !ok {
		a.Blocked = append(a.Blocked, "no_bars")
		return a
	}

	a.Score = ComputeOpportunity(dir, ctx.Series, ctx.Ind, ctx.Regime, ctx.Clusters, ctx.Book, ctx.Env)

	gate := func(name string, pass bool) {
		if pass {
			a.Passed = append(a.Passed, name)
		} else {
			a.Blocked = append(a.Blocked, name)
		}
	}
	// compression and energy feed the archetype sub-scores; here they only
	// annotate the entry reasons
	note := func(name string, hit bool) {
		if hit {
			a.Passed = append(a.Passed, name)
		}
	}

	note("compression", e.compressed(ctx))
	note("energy", e.hasEnergy(dir, ctx, cur))

	kofn, checks := e.validateStructure(dir, ctx, cur)
	gate(fmt.Sprintf("structure_%dof%d", kofn, len(checks)), kofn >= 2)

	gate("runup_guard", !e.overRun(dir, ctx, cur))
	gate("wick_guard", !e.exhaustionWick(dir, cur))
	gate("vwap_deviation", !e.overDeviated(ctx, cur))
	gate("one_and_done", !e.nearLastStop(ctx, cur))

	gate("bar_range", cur.Range() >= e.params.MinBarRangeATR*ctx.Ind.ATR)
	gate("opposite_body", !e.fullBodyAgainst(dir, cur))

	gate("impulse_against", !e.impulseAgainst(dir, ctx))
	gate("iceberg", !e.icebergAbsorption(dir, ctx, cur))
	gate("stop_cooldown", !e.inStopCooldown(ctx, cur))
	gate("entry_spacing", e.spacingOK(ctx, cur))

	if InLunch(cur.Time) {
		gate("lunch_kofn", kofn >= e.params.LunchMinKofN)
	}
	return a
}

// compressed requires a coiled base under the signal bar: narrowest range of
// the last 7, or mids pinned within half an ATR, or price pinched onto VWAP.
func (e *Evaluator) compressed(ctx *Context) bool {
	s := ctx.Series
	if s.Len() < compressionWindow+1 || math.IsNaN(ctx.Ind.ATR) || ctx.Ind.ATR <= 0 {
		return false
	}
	cur, _ := s.Current()

	nr7 := true
	for i := 1; i < 7 && nr7; i++ {
		if prev, ok := s.Prev(i); ok && prev.Range() <= cur.Range() {
			nr7 = false
		}
	}

	coiled := true
	anchor := 0.5 * (cur.High + cur.Low)
	for i := 1; i <= compressionWindow; i++ {
		prev, ok := s.Prev(i)
		if !ok {
			coiled = false
			break
		}
		mid := 0.5 * (prev.High + prev.Low)
		if math.Abs(mid-anchor) > 0.5*ctx.Ind.ATR {
			coiled = false
			break
		}
	}

	pinched := !math.IsNaN(ctx.Ind.VWAP) &&
		math.Abs(cur.Close-ctx.Ind.VWAP) <= 0.5*ctx.Ind.ATR

	return nr7 || coiled || pinched
}

// hasEnergy requires directional flow behind the break: the 3-bar delta sum
// clears the mode floor, the bar out-trades its 20-bar average, and the
// book printed a stacked imbalance on the trade's side recently.
func (e *Evaluator) hasEnergy(dir market.Direction, ctx *Context, cur market.Bar) bool {
	s := ctx.Series
	if s.Len() < 21 {
		return false
	}
	var d3 int64
	for i := 0; i < 3; i++ {
		if b, ok := s.Prev(i); ok {
			d3 += b.Delta
		}
	}
	if dir == market.Short {
		d3 = -d3
	}
	floor := e.params.MinDelta3
	if ctx.Env != nil {
		if dyn := deltaMagFloor(s, ctx.Env); dyn > floor {
			floor = dyn
		}
	}
	if d3 < floor {
		return false
	}

	var volSum int64
	for i := 1; i <= 20; i++ {
		b, _ := s.Prev(i)
		volSum += b.Volume
	}
	avg := float64(volSum) / 20.0
	if float64(cur.Volume) < e.params.VolumeThreshold*avg {
		return false
	}

	return e.stackedSupport(dir, s)
}

// deltaMagFloor scales the delta floor to the tape: a fraction of the mean
// absolute 3-bar delta magnitude over the dynamic lookback.
func deltaMagFloor(s *market.Series, env *tunables.Env) int64 {
	lookback := env.DeltaMagLookbackDyn()
	if s.Len() < lookback+3 {
		return 0
	}
	var sum float64
	for k := 0; k < lookback; k++ {
		end := s.Len() - 1 - k
		var d int64
		for j := 0; j < 3; j++ {
			d += s.At(end - j).Delta
		}
		sum += math.Abs(float64(d))
	}
	return int64(env.Cfg.DeltaMagK * sum / float64(lookback))
}

// stackedSupport looks for a same-side stacked imbalance in the last few
// bars. A feed without imbalance flags passes vacuously.
func (e *Evaluator) stackedSupport(dir market.Direction, s *market.Series) bool {
	sawAnyFlag := false
	for i := 0; i < 8; i++ {
		b, ok := s.Prev(i)
		if !ok {
			break
		}
		if b.BidStacked || b.AskStacked {
			sawAnyFlag = true
		}
		if dir == market.Long && b.BidStacked {
			return true
		}
		if dir == market.Short && b.AskStacked {
			return true
		}
	}
	return !sawAnyFlag
}

// validateStructure runs the five confirmation checks and returns how many
// held plus the named results.
func (e *Evaluator) validateStructure(dir market.Direction, ctx *Context,
	cur market.Bar) (int, []string) {

	checks := make([]string, 0, 5)
	n := 0
	mark := func(name string, ok bool) {
		checks = append(checks, name)
		if ok {
			n++
		}
	}

	mark("ema_slope", e.emaAligned(dir, ctx, cur))
	mark("vwap_side", e.vwapSideOK(dir, ctx, cur))
	mark("delta_sign", e.deltaSignOK(dir, cur))
	mark("swing_sequence", e.swingSequenceOK(dir, ctx.Series))
	mark("momentum", e.momentumOK(ctx))
	return n, checks
}

// emaAligned wants the EMA slope clearing the tunable per-bar floor, or a
// gently rising tape with price hugging the mean within the tick tolerance.
func (e *Evaluator) emaAligned(dir market.Direction, ctx *Context, cur market.Bar) bool {
	slope := emaSlopeTicks(ctx.Series)
	if math.IsNaN(slope) {
		return false
	}
	if dir == market.Short {
		slope = -slope
	}
	if ctx.Env == nil {
		return slope > 0
	}
	if slope >= ctx.Env.Cfg.MinSlopeTicksPerBar {
		return true
	}
	return slope > 0 && !math.IsNaN(ctx.Ind.EMA50) &&
		math.Abs(cur.Close-ctx.Ind.EMA50) <= ctx.Env.Cfg.EmaToleranceTicks*e.tick
}

// vwapSideOK wants price on the trade's side of VWAP, or within tolerance.
func (e *Evaluator) vwapSideOK(dir market.Direction, ctx *Context, cur market.Bar) bool {
	if math.IsNaN(ctx.Ind.VWAP) || math.IsNaN(ctx.Ind.ATR) {
		return false
	}
	tol := 1.5 * ctx.Ind.ATR
	if dir == market.Long {
		return cur.Close > ctx.Ind.VWAP-tol
	}
	return cur.Close < ctx.Ind.VWAP+tol
}

func (e *Evaluator) deltaSignOK(dir market.Direction, cur market.Bar) bool {
	if dir == market.Long {
		return cur.Delta > 0
	}
	return cur.Delta < 0
}

// swingSequenceOK scans the last 5 bars for a higher low after a higher
// high (longs) or a lower high after a lower low (shorts).
func (e *Evaluator) swingSequenceOK(dir market.Direction, s *market.Series) bool {
	if s.Len() < 6 {
		return false
	}
	for i := 0; i < 4; i++ {
		a, okA := s.Prev(i)
		b, okB := s.Prev(i + 1)
		if !okA || !okB {
			return false
		}
		if dir == market.Long && a.Low > b.Low && a.High > b.High {
			return true
		}
		if dir == market.Short && a.High < b.High && a.Low < b.Low {
			return true
		}
	}
	return false
}

// momentumOK accepts either an ADX-like reading above 25 or a true range at
// least half the ATR.
func (e *Evaluator) momentumOK(ctx *Context) bool {
	if !math.IsNaN(ctx.Ind.ADX) && ctx.Ind.ADX >= 25 {
		return true
	}
	return !math.IsNaN(ctx.Ind.TrueRange) && !math.IsNaN(ctx.Ind.ATR) &&
		ctx.Ind.TrueRange >= 0.5*ctx.Ind.ATR
}

// overRun vetoes chasing: more than the guard multiple of ATR covered in
// the trade direction over the last 5 bars.
func (e *Evaluator) overRun(dir market.Direction, ctx *Context, cur market.Bar) bool {
	base, ok := ctx.Series.Prev(5)
	if !ok || math.IsNaN(ctx.Ind.ATR) || ctx.Ind.ATR <= 0 {
		return false
	}
	run := cur.Close - base.Close
	if dir == market.Short {
		run = -run
	}
	return run > e.params.RunupGuardATR*ctx.Ind.ATR
}

// exhaustionWick vetoes a large rejection wick on the trade's side.
func (e *Evaluator) exhaustionWick(dir market.Direction, cur market.Bar) bool {
	r := cur.Range()
	if r <= 0 {
		return false
	}
	if dir == market.Long {
		return cur.UpperWick()/r >= e.params.WickExhaustionRatio
	}
	return cur.LowerWick()/r >= e.params.WickExhaustionRatio
}

func (e *Evaluator) overDeviated(ctx *Context, cur market.Bar) bool {
	if math.IsNaN(ctx.Ind.VWAP) || math.IsNaN(ctx.Ind.ATR) || ctx.Ind.ATR <= 0 {
		return false
	}
	return math.Abs(cur.Close-ctx.Ind.VWAP) >= e.params.DeviationGuardATR*ctx.Ind.ATR
}

// nearLastStop vetoes re-entering within two ticks of the level that just
// stopped us out, until the per-level cooldown elapses.
func (e *Evaluator) nearLastStop(ctx *Context, cur market.Bar) bool {
	if ctx.LastStopBar < 0 || ctx.LastStopLevel == 0 {
		return false
	}
	if ctx.Env != nil && cur.Number-ctx.LastStopBar > ctx.Env.Cfg.PerLevelCooldownBars {
		return false
	}
	return math.Abs(cur.Close-ctx.LastStopLevel) <= 2.0*e.tick
}

// fullBodyAgainst vetoes when the signal bar itself is a strong candle the
// other way.
func (e *Evaluator) fullBodyAgainst(dir market.Direction, cur market.Bar) bool {
	r := cur.Range()
	if r <= 0 || cur.Body()/r <= 0.70 {
		return false
	}
	if dir == market.Long {
		return !cur.Bullish()
	}
	return cur.Bullish()
}

// impulseAgainst vetoes entering straight into a large opposing bar: the
// prior bar against the ATR guard, or any bar in the tunable lookback whose
// range clears the impulse floor.
func (e *Evaluator) impulseAgainst(dir market.Direction, ctx *Context) bool {
	prev, ok := ctx.Series.Prev(1)
	if ok && !math.IsNaN(ctx.Ind.ATR) && ctx.Ind.ATR > 0 &&
		prev.Range() >= e.params.LargeImpulseATR*ctx.Ind.ATR && against(dir, prev) {
		return true
	}
	if ctx.Env == nil {
		return false
	}
	minRange := ctx.Env.Cfg.ImpulseMinRangeTicks * e.tick
	for i := 1; i <= ctx.Env.Cfg.ImpulseLookbackBars; i++ {
		b, ok := ctx.Series.Prev(i)
		if !ok {
			break
		}
		if b.Range() >= minRange && against(dir, b) {
			return true
		}
	}
	return false
}

func against(dir market.Direction, b market.Bar) bool {
	if dir == market.Long {
		return !b.Bullish()
	}
	return b.Bullish()
}

// icebergAbsorption flags heavy directional flow the book soaks up without
// letting price advance, with the signal bar printing a rejection wick over
// its body: a resting order sitting on the break side.
func (e *Evaluator) icebergAbsorption(dir market.Direction, ctx *Context, cur market.Bar) bool {
	if ctx.Env == nil {
		return false
	}
	cfg := ctx.Env.Cfg
	s := ctx.Series
	window := cfg.IcebergWindowBars
	if window < 1 || s.Len() < window+1 {
		return false
	}
	var flow, vol int64
	for i := 0; i < window; i++ {
		b, _ := s.Prev(i)
		flow += b.Delta
		vol += b.Volume
	}
	if dir == market.Short {
		flow = -flow
	}
	if vol <= 0 || float64(flow) < cfg.IcebergMinAbsDeltaK*float64(vol)/float64(window) {
		return false
	}
	base, ok := s.Prev(window)
	if !ok {
		return false
	}
	advance := cur.Close - base.Close
	if dir == market.Short {
		advance = -advance
	}
	if advance > float64(cfg.IcebergMaxAdvanceTicks)*e.tick {
		return false
	}
	body := math.Max(cur.Body(), 1e-9)
	wick := cur.UpperWick()
	if dir == market.Short {
		wick = cur.LowerWick()
	}
	return wick/body >= cfg.WickToBodyMinRatio
}

func (e *Evaluator) inStopCooldown(ctx *Context, cur market.Bar) bool {
	if ctx.LastStopBar < 0 {
		return false
	}
	return cur.Number-ctx.LastStopBar <= e.params.CooldownOnStopBars
}

// spacingOK enforces the regime spacing floor between entries.
func (e *Evaluator) spacingOK(ctx *Context, cur market.Bar) bool {
	if ctx.LastEntryBar < 0 {
		return true
	}
	return cur.Number-ctx.LastEntryBar >= MinBarsBetweenEntries(ctx.Regime.Class)
}
