package market

import "math"

// DefaultTick matches the instrument fallback used when the host does not
// supply a tick size (ES-style 0.25).
const DefaultTick = 0.25

// Series holds the ordered history of completed bars plus the instrument
// tick size. The last appended bar is the bar currently being evaluated;
// bars are never mutated after Append.
type Series struct {
	bars []Bar
	tick float64
}

func NewSeries(tick float64) *Series {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Series{tick: tick}
}

// Append adds a completed bar to the history.
func (s *Series) Append(b Bar) { s.bars = append(s.bars, b) }

func (s *Series) Len() int { return len(s.bars) }

// At returns the i-th bar (0 = oldest). Callers must bounds-check via Len.
func (s *Series) At(i int) Bar { return s.bars[i] }

// Current returns the most recent bar (the one being evaluated) and whether
// the series is non-empty.
func (s *Series) Current() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Prev returns the bar n steps back from the current one.
func (s *Series) Prev(n int) (Bar, bool) {
	i := len(s.bars) - 1 - n
	if i < 0 {
		return Bar{}, false
	}
	return s.bars[i], true
}

func (s *Series) Tick() float64 { return s.tick }

// RecentLow is the lowest low of the last n bars (current bar included).
func (s *Series) RecentLow(n int) float64 {
	cur, ok := s.Current()
	if !ok {
		return math.NaN()
	}
	if len(s.bars) < n {
		return cur.Low
	}
	low := math.MaxFloat64
	for i := len(s.bars) - n; i < len(s.bars); i++ {
		if s.bars[i].Low < low {
			low = s.bars[i].Low
		}
	}
	return low
}

// RecentHigh is the highest high of the last n bars (current bar included).
func (s *Series) RecentHigh(n int) float64 {
	cur, ok := s.Current()
	if !ok {
		return math.NaN()
	}
	if len(s.bars) < n {
		return cur.High
	}
	high := -math.MaxFloat64
	for i := len(s.bars) - n; i < len(s.bars); i++ {
		if s.bars[i].High > high {
			high = s.bars[i].High
		}
	}
	return high
}

// RoundToTick snaps a price onto the tick grid, rounding half away from zero.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		tick = DefaultTick
	}
	return math.Round(price/tick) * tick
}
