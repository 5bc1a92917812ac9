package signal

import (
	"math"

	"github.com/quantfold/fms-engine/internal/indicators"
	"github.com/quantfold/fms-engine/internal/market"
	"github.com/quantfold/fms-engine/internal/orders"
	"github.com/quantfold/fms-engine/internal/regime"
	"github.com/quantfold/fms-engine/internal/tunables"
	"github.com/quantfold/fms-engine/internal/zones"
)

// Archetype blend weights. Breakout quality dominates, order-flow impulse
// second; the rest are context.
const (
	wBreakout  = 0.28
	wDeltaImp  = 0.22
	wVWAP      = 0.20
	wStructure = 0.15
	wPullback  = 0.15
)

const compressionWindow = 8

// Score is the opportunity snapshot for one direction on one bar. The raw
// inputs are kept alongside the blended score because the soft guards and
// the training record both read them.
type Score struct {
	Opportunity float64
	KofN        int

	Breakout  float64
	DeltaImp  float64
	VWAPCtx   float64
	Structure float64
	Pullback  float64

	Delta3Z      float64
	BaseWidthATR float64
	VolZ         float64
	DistVWAP     float64
}

// ComputeOpportunity blends the five archetype sub-scores and counts the
// five confirmation checks. Returns a zero Score when ATR is unavailable.
// book and env are optional; when present a retest of a same-side zone
// strengthens the pullback archetype.
func ComputeOpportunity(dir market.Direction, s *market.Series,
	ind indicators.Snapshot, st regime.State, clusters *orders.Clusters,
	book *zones.Book, env *tunables.Env) Score {

	cur, ok := s.Current()
	if !ok || math.IsNaN(ind.ATR) || ind.ATR <= 0 {
		return Score{}
	}
	atr := ind.ATR
	dsign := 1.0
	if dir == market.Short {
		dsign = -1.0
	}

	var sc Score
	sc.Delta3Z = delta3Z(dir, s)
	sc.VolZ = volumeZ(s, 20)
	sc.BaseWidthATR = baseWidth(s, compressionWindow) / atr
	if !math.IsNaN(ind.VWAP) {
		sc.DistVWAP = math.Abs(cur.Close-ind.VWAP) / atr
	}

	// breakout: tight base plus range expansion on the signal bar
	expansion := (cur.Range() - avgRange(s, compressionWindow, 1)) / atr
	sc.Breakout = clamp01(0.5*(1.0-math.Min(1.0, sc.BaseWidthATR)) + 0.5*math.Max(0, expansion))

	// delta impulse: directional flow surge plus intra-bar imbalance shift
	imbShift := 0.0
	if cur.Volume > 0 {
		imbShift = clamp01(dsign * float64(cur.Delta) / float64(cur.Volume))
	}
	sc.DeltaImp = clamp01(0.6*clamp01((sc.Delta3Z+3.0)/6.0) + 0.4*imbShift)

	// vwap context: proximity in calm tape, proximity blended with trend
	// alignment otherwise
	trendBias := emaTrendBias(dir, s, ind)
	if st.Class == regime.Laminar {
		sc.VWAPCtx = clamp01(1.0 - sc.DistVWAP)
	} else {
		sc.VWAPCtx = clamp01(mix(clamp01(1.0-0.5*sc.DistVWAP), trendBias, 0.5))
	}

	// structure: cleared the prior swing, not resting on a magnet level
	swingClear := swingClearance(dir, cur, ind, atr)
	roundPenalty := 1.0
	if clusters != nil && clusters.Near(cur.Close) {
		roundPenalty = 0.3
	}
	sc.Structure = clamp01(0.7*swingClear + 0.3*roundPenalty)

	// pullback: shallow retrace in an aligned trend that is popping back
	sc.Pullback = pullbackScore(dir, s, ind, atr)
	if book != nil && env != nil {
		if z := book.FindRetest(dir, cur.Close, env); z != nil {
			sc.Pullback = clamp01(sc.Pullback + 0.25)
		}
	}

	sc.Opportunity = clamp01(wBreakout*sc.Breakout + wDeltaImp*sc.DeltaImp +
		wVWAP*sc.VWAPCtx + wStructure*sc.Structure + wPullback*sc.Pullback)

	if swingClear > 0.5 {
		sc.KofN++
	}
	if sc.BaseWidthATR <= 1.6 {
		sc.KofN++
	}
	if sc.Delta3Z > 0 {
		sc.KofN++
	}
	if sc.VolZ > 0 {
		sc.KofN++
	}
	if emaSlopeOK(dir, s) {
		sc.KofN++
	}
	return sc
}

// delta3Z is the z-score of the latest directional 3-bar delta sum against
// the trailing distribution of 3-bar sums.
func delta3Z(dir market.Direction, s *market.Series) float64 {
	const lookback = 20
	if s.Len() < lookback+3 {
		return 0
	}
	sums := make([]float64, 0, lookback)
	for k := 0; k < lookback; k++ {
		end := s.Len() - 1 - k
		var d int64
		for j := 0; j < 3; j++ {
			d += s.At(end - j).Delta
		}
		sums = append(sums, float64(d))
	}
	mean, std := meanStd(sums)
	if std <= 0 {
		return 0
	}
	z := (sums[0] - mean) / std
	if dir == market.Short {
		z = -z
	}
	return z
}

// volumeZ is the current bar volume's z-score against the trailing window
// of completed bars.
func volumeZ(s *market.Series, lookback int) float64 {
	if s.Len() < lookback+1 {
		return 0
	}
	vols := make([]float64, 0, lookback)
	for i := s.Len() - 1 - lookback; i < s.Len()-1; i++ {
		vols = append(vols, float64(s.At(i).Volume))
	}
	mean, std := meanStd(vols)
	if std <= 0 {
		return 0
	}
	cur, _ := s.Current()
	return (float64(cur.Volume) - mean) / std
}

// baseWidth is the high-low span of the bars preceding the signal bar.
func baseWidth(s *market.Series, window int) float64 {
	if s.Len() < window+1 {
		return math.MaxFloat64
	}
	hi, lo := -math.MaxFloat64, math.MaxFloat64
	for i := s.Len() - 1 - window; i < s.Len()-1; i++ {
		b := s.At(i)
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
	}
	return hi - lo
}

// avgRange is the mean bar range over window bars ending skip bars back.
func avgRange(s *market.Series, window, skip int) float64 {
	if s.Len() < window+skip {
		return 0
	}
	var sum float64
	for i := s.Len() - skip - window; i < s.Len()-skip; i++ {
		sum += s.At(i).Range()
	}
	return sum / float64(window)
}

// emaTrendBias maps the short EMA slope into [0,1] from the trade's side.
func emaTrendBias(dir market.Direction, s *market.Series, ind indicators.Snapshot) float64 {
	slope := emaSlopeTicks(s)
	if math.IsNaN(slope) {
		return 0.5
	}
	if dir == market.Short {
		slope = -slope
	}
	return clamp01(0.5 + 0.25*slope)
}

// emaSlopeTicks is the EMA(50) change per bar over the last 3 bars, in ticks.
func emaSlopeTicks(s *market.Series) float64 {
	now := indicators.EMAAt(s, s.Len()-1, indicators.EMAPeriod)
	then := indicators.EMAAt(s, s.Len()-4, indicators.EMAPeriod)
	if math.IsNaN(now) || math.IsNaN(then) || s.Tick() <= 0 {
		return math.NaN()
	}
	return (now - then) / 3.0 / s.Tick()
}

func emaSlopeOK(dir market.Direction, s *market.Series) bool {
	slope := emaSlopeTicks(s)
	if math.IsNaN(slope) {
		return false
	}
	if dir == market.Short {
		slope = -slope
	}
	return slope > 0
}

// swingClearance is 0.5 at the prior swing and rises as price clears it.
func swingClearance(dir market.Direction, cur market.Bar,
	ind indicators.Snapshot, atr float64) float64 {

	if dir == market.Long {
		if math.IsNaN(ind.SwingHigh) {
			return 0.5
		}
		return clamp01(0.5 + (cur.Close-ind.SwingHigh)/atr)
	}
	if math.IsNaN(ind.SwingLow) {
		return 0.5
	}
	return clamp01(0.5 + (ind.SwingLow-cur.Close)/atr)
}

// pullbackScore rewards a retrace near half an ATR deep that is resolving
// back in the trend direction. Zero when the trend is not aligned.
func pullbackScore(dir market.Direction, s *market.Series,
	ind indicators.Snapshot, atr float64) float64 {

	cur, _ := s.Current()
	if math.IsNaN(ind.EMA50) {
		return 0
	}
	trendOK := (dir == market.Long && cur.Close > ind.EMA50) ||
		(dir == market.Short && cur.Close < ind.EMA50)
	if !trendOK {
		return 0
	}

	var depth float64
	if dir == market.Long {
		depth = (s.RecentHigh(5) - cur.Low) / atr
	} else {
		depth = (cur.High - s.RecentLow(5)) / atr
	}
	depthScore := clamp01(1.0 - math.Abs(depth-0.5)/0.5)

	pop := 0.5
	if r := cur.Range(); r > 0 {
		if dir == market.Long {
			pop = (cur.Close - cur.Low) / r
		} else {
			pop = (cur.High - cur.Close) / r
		}
	}
	return clamp01(0.5*depthScore + 0.5*pop)
}

func mix(a, b, w float64) float64 { return a*(1-w) + b*w }

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
