package orders

import (
	"math"

	"github.com/quantfold/fms-engine/internal/market"
)

const (
	roundGridTicks     = 10
	clusterNearTicks   = 2.0
	clusterDeflectTick = 1.0
	maxClusterLevels   = 64
)

// Clusters tracks the magnet prices stops should not rest on: round-number
// grid levels near price, confirmed swing levels, and the rolling VWAP.
type Clusters struct {
	levels  []float64
	tick    float64
	lastBar int
}

func NewClusters(tick float64) *Clusters {
	if tick <= 0 {
		tick = market.DefaultTick
	}
	return &Clusters{tick: tick, lastBar: -1}
}

func (c *Clusters) Levels() []float64 { return c.levels }

// Update rebuilds the level set around the current close. Swing levels and
// VWAP come from the indicator snapshot; NaN inputs are skipped.
func (c *Clusters) Update(s *market.Series, swingHigh, swingLow, vwap float64) {
	cur, ok := s.Current()
	if !ok || cur.Number == c.lastBar {
		return
	}
	c.lastBar = cur.Number
	c.levels = c.levels[:0]

	grid := float64(roundGridTicks) * c.tick
	center := math.Round(cur.Close/grid) * grid
	for k := -3; k <= 3; k++ {
		c.add(center + float64(k)*grid)
	}
	c.add(swingHigh)
	c.add(swingLow)
	c.add(vwap)
}

func (c *Clusters) add(level float64) {
	if math.IsNaN(level) || len(c.levels) >= maxClusterLevels {
		return
	}
	level = market.RoundToTick(level, c.tick)
	for _, l := range c.levels {
		if l == level {
			return
		}
	}
	c.levels = append(c.levels, level)
}

// Near reports whether price sits within the cluster tolerance of any level.
func (c *Clusters) Near(price float64) bool {
	tol := clusterNearTicks * c.tick
	for _, l := range c.levels {
		if math.Abs(price-l) <= tol {
			return true
		}
	}
	return false
}

// Deflect nudges a stop one tick further from the entry when it would rest
// on a cluster level, so the stop is not first in line at the magnet.
func (c *Clusters) Deflect(dir market.Direction, stop float64) float64 {
	if !c.Near(stop) {
		return stop
	}
	if dir == market.Long {
		return stop - clusterDeflectTick*c.tick
	}
	return stop + clusterDeflectTick*c.tick
}
