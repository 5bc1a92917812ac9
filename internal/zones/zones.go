// Package zones maintains the stacked-imbalance level book: price bands
// created where the order flow printed a stacked bid or ask imbalance,
// merged when they overlap and retired once consumed or stale.
package zones

import (
	"math"

	"github.com/quantfold/fms-engine/internal/market"
	"github.com/quantfold/fms-engine/internal/tunables"
)

// Kind classifies a zone by the side that defended it.
type Kind int

const (
	Support    Kind = iota // stacked bids below price
	Resistance             // stacked asks above price
)

func (k Kind) String() string {
	if k == Support {
		return "support"
	}
	return "resistance"
}

// Zone is one imbalance band. Low/High bracket the defended prices.
type Zone struct {
	Kind       Kind
	Low        float64
	High       float64
	CreatedBar int
	LastTouch  int
	Touches    int
	Consumed   bool
}

// Mid is the band midpoint.
func (z *Zone) Mid() float64 { return 0.5 * (z.Low + z.High) }

// Contains reports whether price sits inside the band widened by tol.
func (z *Zone) Contains(price, tol float64) bool {
	return price >= z.Low-tol && price <= z.High+tol
}

// Book owns the live zones for one instrument.
type Book struct {
	zones []*Zone
	tick  float64
}

func NewBook(tick float64) *Book {
	if tick <= 0 {
		tick = market.DefaultTick
	}
	return &Book{tick: tick}
}

// Zones returns the live set. Callers must not retain the slice across Scan.
func (b *Book) Zones() []*Zone { return b.zones }

func (b *Book) Len() int { return len(b.zones) }

// Scan walks the completed bars of the trailing lookback (current bar
// excluded, it is still forming) and folds any stacked-imbalance bars into
// the book, merging into an existing zone when the band midpoints land
// within the merge tolerance.
func (b *Book) Scan(s *market.Series, env *tunables.Env) {
	if s.Len() < 3 {
		return
	}
	lookback := env.LookbackForZonesDyn()
	end := s.Len() - 2
	start := end - lookback + 1
	if start < 1 {
		start = 1
	}
	mergeTol := env.Cfg.MergeToleranceTicks * b.tick

	for i := start; i <= end; i++ {
		bar := s.At(i)
		pad := math.Max(b.tick, 0.5*bar.Range())
		if bar.BidStacked {
			b.upsert(Support, bar.Close-pad, bar.Close+pad, bar.Number, mergeTol)
		}
		if bar.AskStacked {
			b.upsert(Resistance, bar.Close-pad, bar.Close+pad, bar.Number, mergeTol)
		}
	}
}

func (b *Book) upsert(kind Kind, low, high float64, barNumber int, mergeTol float64) {
	mid := 0.5 * (low + high)
	for _, z := range b.zones {
		if z.Kind != kind || z.Consumed {
			continue
		}
		if math.Abs(z.Mid()-mid) <= mergeTol {
			if z.CreatedBar == barNumber || z.LastTouch >= barNumber {
				return // already folded in
			}
			z.Low = math.Min(z.Low, low)
			z.High = math.Max(z.High, high)
			z.LastTouch = barNumber
			z.Touches++
			return
		}
	}
	b.zones = append(b.zones, &Zone{
		Kind: kind, Low: low, High: high,
		CreatedBar: barNumber, LastTouch: barNumber, Touches: 1,
	})
}

// Purge drops consumed zones and zones past the age limits.
func (b *Book) Purge(currentBar int, env *tunables.Env) {
	maxAge := env.Cfg.MaxZoneAgeBars
	maxSince := env.Cfg.MaxBarsSinceZoneCreated
	kept := b.zones[:0]
	for _, z := range b.zones {
		if z.Consumed {
			continue
		}
		if currentBar-z.LastTouch > maxAge {
			continue
		}
		if currentBar-z.CreatedBar > maxSince {
			continue
		}
		kept = append(kept, z)
	}
	// zero the tail so dropped zones are collectible
	for i := len(kept); i < len(b.zones); i++ {
		b.zones[i] = nil
	}
	b.zones = kept
}

// MarkConsumed retires the zone once price has traded fully through it.
func (b *Book) MarkConsumed(z *Zone) { z.Consumed = true }

// ConsumeThrough retires every opposing zone the exit traded into or past:
// a target fill at or beyond the band edge means the resting liquidity is
// spent. Returns how many zones were retired.
func (b *Book) ConsumeThrough(dir market.Direction, price float64, env *tunables.Env) int {
	tol := env.Cfg.BandTouchToleranceTicks * b.tick
	want := Resistance
	if dir == market.Short {
		want = Support
	}
	n := 0
	for _, z := range b.zones {
		if z.Kind != want || z.Consumed {
			continue
		}
		reached := price >= z.Low-tol
		if dir == market.Short {
			reached = price <= z.High+tol
		}
		if reached {
			b.MarkConsumed(z)
			n++
		}
	}
	return n
}

// FindRetest returns the nearest same-side zone whose band contains price
// within the touch tolerance: a support zone for longs, resistance for
// shorts. Nil when price is not sitting on a band.
func (b *Book) FindRetest(dir market.Direction, price float64, env *tunables.Env) *Zone {
	tol := env.Cfg.BandTouchToleranceTicks * b.tick
	want := Support
	if dir == market.Short {
		want = Resistance
	}
	var best *Zone
	bestDist := math.Inf(1)
	for _, z := range b.zones {
		if z.Kind != want || z.Consumed {
			continue
		}
		if !z.Contains(price, tol) {
			continue
		}
		if d := math.Abs(z.Mid() - price); d < bestDist {
			best, bestDist = z, d
		}
	}
	return best
}

// NearestOpposing returns the closest opposing zone ahead of the trade:
// resistance above price for longs, support below price for shorts.
func (b *Book) NearestOpposing(dir market.Direction, price float64) *Zone {
	var best *Zone
	bestDist := math.Inf(1)
	for _, z := range b.zones {
		if z.Consumed {
			continue
		}
		if dir == market.Long {
			if z.Kind != Resistance || z.Low <= price {
				continue
			}
			if d := z.Low - price; d < bestDist {
				best, bestDist = z, d
			}
		} else {
			if z.Kind != Support || z.High >= price {
				continue
			}
			if d := price - z.High; d < bestDist {
				best, bestDist = z, d
			}
		}
	}
	return best
}

// HasRoomToTarget reports whether the path from entry to target is clear of
// opposing zones, i.e. no opposing band sits strictly between the two.
func (b *Book) HasRoomToTarget(dir market.Direction, entry, target float64) bool {
	opp := b.NearestOpposing(dir, entry)
	if opp == nil {
		return true
	}
	if dir == market.Long {
		return opp.Low >= target
	}
	return opp.High <= target
}
