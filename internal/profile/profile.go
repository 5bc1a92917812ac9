// Package profile builds a coarse session profile: the point of control
// (most-traded tick level over the trailing window) and the high-activity
// price levels whose volume share clears the top percentile. Both are used
// as magnets and obstacles when laddering targets.
package profile

import (
	"math"
	"sort"

	"github.com/quantfold/fms-engine/internal/market"
)

const (
	pocWindowBars      = 400
	activityWindowBars = 300
	activityPercentile = 0.97
	rebuildEveryBars   = 20
)

// Profile is the rebuilt snapshot. POC is NaN until the window fills enough
// to be meaningful.
type Profile struct {
	POC            float64
	ActivityLevels []float64 // merged high-volume price levels, ascending
}

// Builder rebuilds the profile every rebuildEveryBars, keyed by bar number.
type Builder struct {
	prof       Profile
	tick       float64
	mergeTicks int64
	lastBar    int
}

func NewBuilder(tick float64) *Builder {
	if tick <= 0 {
		tick = market.DefaultTick
	}
	return &Builder{
		prof:       Profile{POC: math.NaN()},
		tick:       tick,
		mergeTicks: 1,
		lastBar:    -rebuildEveryBars,
	}
}

func (b *Builder) Profile() Profile { return b.prof }

// SetMergeTicks widens the gap collapsed when merging activity runs; values
// below one tick are ignored.
func (b *Builder) SetMergeTicks(n int) {
	if n >= 1 {
		b.mergeTicks = int64(n)
	}
}

// Update rebuilds the profile if the rebuild interval elapsed.
func (b *Builder) Update(s *market.Series) {
	cur, ok := s.Current()
	if !ok || cur.Number-b.lastBar < rebuildEveryBars {
		return
	}
	b.lastBar = cur.Number
	b.prof.POC = b.computePOC(s)
	b.prof.ActivityLevels = b.computeActivityLevels(s)
}

// computePOC counts tick-level touches across each bar's high-low span over
// the POC window and returns the most-touched level.
func (b *Builder) computePOC(s *market.Series) float64 {
	if s.Len() < 20 {
		return math.NaN()
	}
	start := s.Len() - pocWindowBars
	if start < 0 {
		start = 0
	}
	counts := map[int64]int{}
	for i := start; i < s.Len(); i++ {
		bar := s.At(i)
		lo := int64(math.Round(bar.Low / b.tick))
		hi := int64(math.Round(bar.High / b.tick))
		for lv := lo; lv <= hi; lv++ {
			counts[lv]++
		}
	}
	best, bestCount := int64(0), 0
	for lv, c := range counts {
		if c > bestCount || (c == bestCount && lv < best) {
			best, bestCount = lv, c
		}
	}
	if bestCount == 0 {
		return math.NaN()
	}
	return float64(best) * b.tick
}

// computeActivityLevels attributes each bar's volume uniformly across its
// tick levels, keeps levels above the top percentile of per-level volume,
// and merges adjacent runs into their volume-weighted center.
func (b *Builder) computeActivityLevels(s *market.Series) []float64 {
	if s.Len() < 20 {
		return nil
	}
	start := s.Len() - activityWindowBars
	if start < 0 {
		start = 0
	}
	vol := map[int64]float64{}
	for i := start; i < s.Len(); i++ {
		bar := s.At(i)
		lo := int64(math.Round(bar.Low / b.tick))
		hi := int64(math.Round(bar.High / b.tick))
		span := float64(hi-lo) + 1
		share := float64(bar.Volume) / span
		for lv := lo; lv <= hi; lv++ {
			vol[lv] += share
		}
	}
	if len(vol) == 0 {
		return nil
	}

	all := make([]float64, 0, len(vol))
	for _, v := range vol {
		all = append(all, v)
	}
	sort.Float64s(all)
	cut := all[int(float64(len(all)-1)*activityPercentile)]

	levels := make([]int64, 0, 8)
	for lv, v := range vol {
		if v >= cut {
			levels = append(levels, lv)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	// merge nearby tick runs into one weighted level each
	var out []float64
	i := 0
	for i < len(levels) {
		j := i
		var wSum, pSum float64
		for j < len(levels) && (j == i || levels[j]-levels[j-1] <= b.mergeTicks) {
			w := vol[levels[j]]
			wSum += w
			pSum += w * float64(levels[j]) * b.tick
			j++
		}
		if wSum > 0 {
			out = append(out, market.RoundToTick(pSum/wSum, b.tick))
		}
		i = j
	}
	return out
}

// LevelsBetween returns the activity levels strictly between a and b,
// ordered from nearest-to-a outward.
func (p Profile) LevelsBetween(a, b float64) []float64 {
	lo, hi := math.Min(a, b), math.Max(a, b)
	var out []float64
	for _, lv := range p.ActivityLevels {
		if lv > lo && lv < hi {
			out = append(out, lv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return math.Abs(out[i]-a) < math.Abs(out[j]-a)
	})
	return out
}
