package orders

import (
	"math"

	"github.com/quantfold/fms-engine/internal/market"
	"github.com/quantfold/fms-engine/internal/profile"
	"github.com/quantfold/fms-engine/internal/tunables"
	"github.com/quantfold/fms-engine/internal/zones"
)

const (
	// RMultiple is the reward-to-risk used for the baseline target.
	RMultiple = 1.5

	atrStopMultiplier = 1.2
	swingPadTicks     = 2.0

	minStopTicks   = 5
	maxStopTicks   = 8
	minTargetTicks = 5
	maxTargetTicks = 9
)

// EntryInputs carries the per-bar indicator context the builder prices from.
// Env is optional; when present the tunable entry-distance veto applies.
type EntryInputs struct {
	ATR       float64
	SwingHigh float64
	SwingLow  float64
	Quantity  int
	Env       *tunables.Env
}

// Builder prices entries. The widen hook exists so a volatility overlay can
// stretch the stop distance; the default is identity.
type Builder struct {
	tick     float64
	clusters *Clusters
	widen    func(dist float64) float64
}

func NewBuilder(tick float64, clusters *Clusters) *Builder {
	if tick <= 0 {
		tick = market.DefaultTick
	}
	return &Builder{
		tick:     tick,
		clusters: clusters,
		widen:    func(d float64) float64 { return d },
	}
}

// SetWidenHook replaces the stop-distance hook. A nil hook restores identity.
func (b *Builder) SetWidenHook(h func(dist float64) float64) {
	if h == nil {
		h = func(d float64) float64 { return d }
	}
	b.widen = h
}

// TriggerPrice is one tick beyond the signal bar extreme: a stop-entry that
// only fills if the next bar continues through it.
func (b *Builder) TriggerPrice(dir market.Direction, bar market.Bar) float64 {
	if dir == market.Long {
		return market.RoundToTick(bar.High+b.tick, b.tick)
	}
	return market.RoundToTick(bar.Low-b.tick, b.tick)
}

// StopDistance is the wider of the ATR stop and the swing stop plus pad.
// NaN swing levels fall back to the ATR term alone.
func (b *Builder) StopDistance(dir market.Direction, trigger float64, in EntryInputs) float64 {
	dist := in.ATR * atrStopMultiplier
	swing := in.SwingLow
	if dir == market.Short {
		swing = in.SwingHigh
	}
	if !math.IsNaN(swing) {
		var sd float64
		if dir == market.Long {
			sd = trigger - swing
		} else {
			sd = swing - trigger
		}
		if sd > 0 {
			dist = math.Max(dist, sd+swingPadTicks*b.tick)
		}
	}
	return dist
}

// Entry prices a complete bracket off the just-closed signal bar: stop-entry
// trigger, cluster-deflected protective stop, and an R-multiple target. Tick
// counts are capped to the scalp risk box and prices re-derived from the
// capped counts so the emitted bracket is exactly what was accounted for.
func (b *Builder) Entry(dir market.Direction, bar market.Bar, in EntryInputs) (Proposal, error) {
	if math.IsNaN(in.ATR) || in.ATR <= 0 {
		return Proposal{}, reject("pricing", "no ATR available")
	}

	trigger := b.TriggerPrice(dir, bar)
	if in.Env != nil {
		distTicks := math.Abs(trigger-bar.Close) / b.tick
		if distTicks > float64(in.Env.Cfg.MaxEntryDistanceTicks) {
			return Proposal{}, reject("pricing", "trigger %.1f ticks from close", distTicks)
		}
	}
	dist := b.widen(b.StopDistance(dir, trigger, in))
	if dist <= 0 {
		return Proposal{}, reject("pricing", "non-positive stop distance %.4f", dist)
	}

	var stop float64
	if dir == market.Long {
		stop = trigger - dist
	} else {
		stop = trigger + dist
	}
	stop = market.RoundToTick(stop, b.tick)
	if b.clusters != nil {
		stop = b.clusters.Deflect(dir, stop)
	}

	stopTicks := int(math.Round(math.Abs(trigger-stop) / b.tick))
	stopTicks = clampInt(stopTicks, minStopTicks, maxStopTicks)

	targetTicks := int(math.Round(float64(stopTicks) * RMultiple))
	targetTicks = clampInt(targetTicks, minTargetTicks, maxTargetTicks)

	if dir == market.Long {
		stop = trigger - float64(stopTicks)*b.tick
	} else {
		stop = trigger + float64(stopTicks)*b.tick
	}
	target := targetFor(dir, trigger, targetTicks, b.tick)

	qty := in.Quantity
	if qty < 1 {
		qty = 1
	}
	return Proposal{
		ID:          newID(),
		Direction:   dir,
		Trigger:     trigger,
		Stop:        stop,
		Target:      target,
		StopTicks:   stopTicks,
		TargetTicks: targetTicks,
		Quantity:    qty,
		Tag:         BuildEntryTag(dir, trigger),
		ExecMode:    ExecModeManaged,
	}, nil
}

// DynamicTarget ladders the target toward structure instead of a flat R
// multiple: the nearest opposing zone edge front-run by a few ticks, else
// the point of control, else the first high-activity level on the path.
// Candidates outside the tunable target box, below the minimum
// reward-to-risk, or with an opposing band on the path are skipped;
// ok=false leaves the R-multiple target standing.
func (b *Builder) DynamicTarget(dir market.Direction, p Proposal, book *zones.Book,
	prof profile.Profile, env *tunables.Env) (float64, int, bool) {

	// an entry inside the POC proximity band keeps the R-multiple target
	if !math.IsNaN(prof.POC) &&
		math.Abs(p.Trigger-prof.POC) <= float64(env.Cfg.PocProximityTicks)*b.tick {
		return 0, 0, false
	}

	var candidates []float64
	if book != nil {
		if opp := book.NearestOpposing(dir, p.Trigger); opp != nil {
			frontRun := float64(env.Cfg.FrontRunTicks) * b.tick
			if dir == market.Long {
				candidates = append(candidates, opp.Low-frontRun)
			} else {
				candidates = append(candidates, opp.High+frontRun)
			}
		}
	}
	if !math.IsNaN(prof.POC) && onPath(dir, p.Trigger, prof.POC) {
		candidates = append(candidates, prof.POC)
	}
	far := targetFor(dir, p.Trigger, env.Cfg.MaxTargetTicks, b.tick)
	candidates = append(candidates, prof.LevelsBetween(p.Trigger, far)...)

	for _, c := range candidates {
		if !onPath(dir, p.Trigger, c) {
			continue
		}
		ticks := int(math.Round(math.Abs(c-p.Trigger) / b.tick))
		if ticks < env.Cfg.MinTargetTicks || ticks > env.Cfg.MaxTargetTicks {
			continue
		}
		if p.StopTicks > 0 && float64(ticks)/float64(p.StopTicks) < env.Cfg.MinRRMultiple {
			continue
		}
		if book != nil && !book.HasRoomToTarget(dir, p.Trigger, c) {
			continue
		}
		return market.RoundToTick(c, b.tick), ticks, true
	}
	return 0, 0, false
}

func targetFor(dir market.Direction, trigger float64, ticks int, tick float64) float64 {
	if dir == market.Long {
		return trigger + float64(ticks)*tick
	}
	return trigger - float64(ticks)*tick
}

func onPath(dir market.Direction, entry, price float64) bool {
	if dir == market.Long {
		return price > entry
	}
	return price < entry
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
