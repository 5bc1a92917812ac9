package regime

import (
	"math"

	"github.com/quantfold/fms-engine/internal/market"
)

// Class labels the current microstructure regime.
type Class int

const (
	Laminar Class = iota
	Transition
	Turbulent
)

func (c Class) String() string {
	switch c {
	case Laminar:
		return "Laminar"
	case Turbulent:
		return "Turbulent"
	default:
		return "Transition"
	}
}

const (
	// BufferSize is the rolling sample capacity for every estimator.
	BufferSize = 200
	// MinBars is the warm-up before any regime metric updates.
	MinBars = 50

	stressLaminar   = 0.3
	stressTurbulent = 0.7

	throttleMin = 0.1
	throttleMax = 1.0
)

// State is the fused regime snapshot, recomputed once per bar. All
// sub-metrics are normalized to [0,1].
type State struct {
	Stress   float64
	Class    Class
	Throttle float64

	RvZ      float64
	AR1      float64
	CVDSlope float64 // normalized momentum of cumulative delta
	Entropy  float64
	Hurst    float64
	Imb      float64
}

// Detector maintains the rolling estimators behind State. It is owned by a
// single strategy instance and updated bar-synchronously.
type Detector struct {
	logReturns *Ring
	signs      *Ring
	cvd        *Ring

	state       State
	cvdSlopeRaw float64
	lastBar     int
}

func NewDetector() *Detector {
	return &Detector{
		logReturns: NewRing(BufferSize),
		signs:      NewRing(BufferSize),
		cvd:        NewRing(BufferSize),
		state:      State{Class: Laminar, Throttle: throttleMax, Hurst: 0.5},
		lastBar:    -1,
	}
}

func (d *Detector) State() State { return d.state }

// Update folds the newest bar into every estimator and refreshes the fused
// state. Calling it twice for the same bar number is a no-op; metrics with
// insufficient history keep their previous value.
func (d *Detector) Update(s *market.Series) {
	cur, ok := s.Current()
	if !ok || s.Len() < MinBars {
		return
	}
	if cur.Number == d.lastBar {
		return
	}
	d.lastBar = cur.Number

	if prev, ok := s.Prev(1); ok && cur.Close > 0 && prev.Close > 0 {
		lr := math.Log(cur.Close / prev.Close)
		d.logReturns.Push(lr)
		d.signs.Push(sign(lr))
	}

	d.cvd.Push(float64(cur.CumulativeDelta))
	if d.cvd.Len() >= 10 {
		d.cvdSlopeRaw = olsSlope(d.cvd.Values())
		d.state.CVDSlope = 1.0 - math.Exp(-math.Abs(d.cvdSlopeRaw))
	}

	if d.logReturns.Len() >= 20 {
		rets := d.logReturns.Values()
		mean, std := meanStd(rets)
		if std > 0 {
			z := math.Abs(rets[len(rets)-1]-mean) / std
			d.state.RvZ = math.Min(1.0, z/3.0) // cap at 3 sigma
		} else {
			d.state.RvZ = 0
		}
		d.state.AR1 = clamp01((ar1(rets) + 1) / 2)
	}

	if d.signs.Len() >= 20 {
		d.state.Entropy = shannonEntropy(d.signs.Values()) / math.Log(8)
	}

	if d.logReturns.Len() >= 50 {
		d.state.Hurst = hurst(d.logReturns.Values())
	}

	if cur.Volume > 0 {
		d.state.Imb = clamp01(math.Abs(float64(cur.Delta)) / float64(cur.Volume))
	} else {
		d.state.Imb = 0
	}

	d.fuse()
}

func (d *Detector) fuse() {
	st := &d.state
	st.Stress = clamp01(
		0.25*st.RvZ +
			0.20*st.AR1 +
			0.15*st.CVDSlope +
			0.15*(1.0-st.Entropy) +
			0.10*math.Abs(st.Hurst-0.5) +
			0.15*st.Imb)

	switch {
	case st.Stress < stressLaminar:
		st.Class = Laminar
	case st.Stress > stressTurbulent:
		st.Class = Turbulent
	default:
		st.Class = Transition
	}

	st.Throttle = math.Max(throttleMin, math.Min(throttleMax,
		throttleMax-st.Stress*(throttleMax-throttleMin)))
}

// Features snapshots the state as the 8-float service vector. The raw CVD
// slope is re-centered with (x+1)/2 so a flat book maps to 0.5 on the wire.
func (d *Detector) Features() FeatureVector {
	lastRet := 0.0
	if d.logReturns.Len() > 0 {
		lastRet = 1.0 - math.Exp(-math.Abs(d.logReturns.Last()))
	}
	return FeatureVector{
		Ret1m:    float32(lastRet),
		RvZ:      float32(d.state.RvZ),
		Ar1:      float32(d.state.AR1),
		CvdSlope: float32(clamp01((d.cvdSlopeRaw + 1) / 2)),
		Entropy:  float32(d.state.Entropy),
		Hurst:    float32(d.state.Hurst),
		Imb:      float32(d.state.Imb),
		Stress:   float32(d.state.Stress),
	}.Clamp()
}

// ===== estimators =====

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

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

// olsSlope fits y = a + b*i over the sample index and returns b.
func olsSlope(ys []float64) float64 {
	n := len(ys)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := float64(n)*sumXX - sumX*sumX
	if math.Abs(den) < 1e-10 {
		return 0
	}
	return (float64(n)*sumXY - sumX*sumY) / den
}

// ar1 is the lag-1 sample autocorrelation.
func ar1(xs []float64) float64 {
	if len(xs) < 3 {
		return 0
	}
	mean, _ := meanStd(xs)
	var num, den float64
	for i := 1; i < len(xs); i++ {
		num += (xs[i] - mean) * (xs[i-1] - mean)
	}
	for _, x := range xs {
		d := x - mean
		den += d * d
	}
	if den <= 0 {
		return 0
	}
	return num / den
}

// shannonEntropy buckets sign-quantized returns into 8 uniform bins over
// [-1,1] and returns -sum(p*ln p).
func shannonEntropy(signs []float64) float64 {
	if len(signs) == 0 {
		return 0
	}
	var bins [8]int
	for _, v := range signs {
		b := int((v + 1) * 4)
		if b < 0 {
			b = 0
		}
		if b > 7 {
			b = 7
		}
		bins[b]++
	}
	var h float64
	for _, c := range bins {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(len(signs))
		h -= p * math.Log(p)
	}
	return h
}

// hurst is a simplified rescaled-range estimate over the last <=50 returns,
// clamped to [0,1]; 0.5 means random walk.
func hurst(rets []float64) float64 {
	if len(rets) < 10 {
		return 0.5
	}
	n := len(rets)
	if n > 50 {
		rets = rets[n-50:]
		n = 50
	}
	_, std := meanStd(rets)
	if std == 0 {
		return 0.5
	}
	lo, hi := rets[0], rets[0]
	for _, r := range rets {
		if r < lo {
			lo = r
		}
		if r > hi {
			hi = r
		}
	}
	rs := (hi - lo) / std
	if rs <= 0 {
		return 0.5
	}
	return clamp01(math.Log(rs) / math.Log(float64(n)))
}
