// Package tunables derives the strategy's threshold table from a single
// daily scale factor s, auto-tuned from the previous session's range. The
// snapshot is immutable between recomputations so gate logic never mixes
// stale and fresh values inside one bar.
package tunables

import (
	"math"
	"sort"

	"github.com/quantfold/fms-engine/internal/market"
)

// Tunables is the derived threshold snapshot. Everything scales off s
// (clamped to [0.6, 3.0]) or sqrt(s).
type Tunables struct {
	MaxZoneAgeBars          int
	MaxBarsSinceZoneCreated int
	MergeToleranceTicks     float64
	PerLevelCooldownBars    int

	BandTouchToleranceTicks float64
	MinBarsBetweenSignals   int

	DeltaMagK float64

	EmaToleranceTicks  float64
	MinSlopeTicksPerBar float64

	ImpulseLookbackBars  int
	ImpulseMinRangeTicks float64

	FrontRunTicks  int
	MinTargetTicks int
	MaxTargetTicks int
	MinRRMultiple  float64

	StopPadTicks int
	MaxRiskTicks int

	DailyTradeCap int

	PocProximityTicks int
	ActivityMergeTicks int

	IcebergWindowBars      int
	IcebergMaxAdvanceTicks int
	IcebergMinAbsDeltaK    float64

	MaxEntryDistanceTicks int
	MinStopTicksFloor     int
	WickToBodyMinRatio    float64
}

// Build computes the snapshot for scale s.
func Build(s float64) Tunables {
	s = clamp(s, 0.6, 3.0)
	rt := math.Sqrt(s)

	return Tunables{
		MaxZoneAgeBars:          roundi(clamp(160.0/s, 100, 200)),
		MaxBarsSinceZoneCreated: roundi(clamp(120.0/s, 80, 160)),
		MergeToleranceTicks:     clamp(1.00*rt, 0.75, 1.50),
		PerLevelCooldownBars:    roundi(clamp(30.0/s, 16, 40)),

		BandTouchToleranceTicks: clamp(0.60*rt, 0.50, 1.00),
		MinBarsBetweenSignals:   roundi(clamp(18.0/s, 12, 28)),

		DeltaMagK: clamp(0.50+0.05*(s-1.0), 0.45, 0.60),

		EmaToleranceTicks:   clamp(1.00*rt, 0.75, 1.75),
		MinSlopeTicksPerBar: clamp(0.80*s, 0.30, 1.60),

		ImpulseLookbackBars:  roundi(clamp(9.0/s, 5, 12)),
		ImpulseMinRangeTicks: 6.0 * s,

		FrontRunTicks:  roundi(clamp(3.0*s, 2, 5)),
		MinTargetTicks: roundi(12.0 * s),
		MaxTargetTicks: roundi(clamp(28.0*s, 18, 32)),
		MinRRMultiple:  clamp(1.35+0.25*(s-1.0), 1.35, 1.65),

		StopPadTicks: maxi(5, roundi(5.0*s)),
		MaxRiskTicks: roundi(16.0 * s),

		DailyTradeCap: roundi(clamp(50.0/s, 25, 60)),

		PocProximityTicks:  roundi(clamp(10.0*rt, 8, 14)),
		ActivityMergeTicks: roundi(clamp(2.0*rt, 2, 4)),

		IcebergWindowBars:      roundi(clamp(6.0/s, 4, 8)),
		IcebergMaxAdvanceTicks: roundi(clamp(2.0*s, 2, 4)),
		IcebergMinAbsDeltaK:    clamp(1.20+0.25*(s-1.0), 1.10, 1.50),

		MaxEntryDistanceTicks: roundi(clamp(3.0/math.Sqrt(s), 2, 4)),
		MinStopTicksFloor:     roundi(clamp(8.0*math.Sqrt(s), 7, 12)),
		WickToBodyMinRatio:    clamp(0.92+0.12*(math.Sqrt(s)-1.0), 0.85, 1.10),
	}
}

const refreshIntervalBars = 20

// Env carries the auto-refreshed environment factors: daily scale s,
// liquidity nu, trendiness tau, wickiness eta, and the current Tunables
// snapshot. Refresh recomputes at most every refreshIntervalBars.
type Env struct {
	S   float64
	Rt  float64
	Nu  float64
	Tau float64
	Eta float64

	Cfg Tunables

	FallbackTune float64
	AutoTune     bool
	SessionStart int // HHmm
	SessionEnd   int // HHmm

	volBaseEMA float64
	lastBar    int
}

func NewEnv(fallbackTune float64, autoTune bool, sessionStart, sessionEnd int) *Env {
	s := clamp(fallbackTune, 0.6, 3.0)
	return &Env{
		S: s, Rt: math.Sqrt(s), Nu: 1.0, Tau: 1.0, Eta: 1.0,
		Cfg:          Build(s),
		FallbackTune: fallbackTune,
		AutoTune:     autoTune,
		SessionStart: sessionStart,
		SessionEnd:   sessionEnd,
		lastBar:      -1000,
	}
}

// Refresh recomputes s, the environment factors and the Tunables snapshot.
// Returns true when a recomputation actually happened.
func (e *Env) Refresh(s *market.Series) bool {
	cur, ok := s.Current()
	if !ok {
		return false
	}
	if e.lastBar >= 0 && cur.Number-e.lastBar < refreshIntervalBars {
		return false
	}

	sAuto := math.NaN()
	if e.AutoTune {
		sAuto = AutoTuneFromPrevSession(s, e.SessionStart, e.SessionEnd)
	}
	if math.IsNaN(sAuto) {
		e.S = clamp(e.FallbackTune, 0.6, 3.0)
	} else {
		e.S = sAuto
	}
	e.Rt = math.Sqrt(e.S)

	volMed := MedianVolume(s, 120)
	if e.volBaseEMA <= 0 {
		if volMed > 0 {
			e.volBaseEMA = volMed
		} else {
			e.volBaseEMA = 1.0
		}
	}
	alpha := 2.0 / (200.0 + 1.0)
	e.volBaseEMA = (1.0-alpha)*e.volBaseEMA + alpha*math.Max(1.0, volMed)

	nuRaw := 1.0
	if volMed > 0 {
		nuRaw = volMed / math.Max(e.volBaseEMA, 1.0)
	}
	e.Nu = clamp(math.Sqrt(nuRaw), 0.7, 1.3)

	lbSlope := maxi(20, e.EmaSlopePeriodDyn()/2)
	now := cur.Close
	past := now
	if s.Len() > lbSlope {
		past = s.At(s.Len() - 1 - lbSlope).Close
	}
	tpb := 0.0
	if s.Tick() > 0 {
		tpb = math.Abs((now-past)/float64(lbSlope)) / s.Tick()
	}
	const tpb0 = 0.40
	e.Tau = clamp(math.Sqrt(tpb/tpb0), 0.7, 1.4)

	wrMed := MedianWickRatio(s, 80)
	const wr0 = 1.50
	e.Eta = clamp(math.Sqrt(wrMed/wr0), 0.7, 1.4)

	e.Cfg = Build(e.S)
	e.lastBar = cur.Number
	return true
}

// Dynamic knobs replacing previously fixed parameters.

func (e *Env) MinBarsRequiredDyn() int { return roundi(clamp(26.0+10.0/e.Rt, 24, 40)) }

func (e *Env) MinCurrentBarVolumeDyn(s *market.Series) int64 {
	return int64(roundi(clamp(volumeGate(s, 200, 0.20, 0.90), 40, 400)))
}

func (e *Env) LookbackForZonesDyn() int   { return roundi(clamp(120.0+60.0/e.Rt, 120, 200)) }
func (e *Env) DeltaMagLookbackDyn() int   { return roundi(clamp(18.0+10.0*e.Rt, 18, 36)) }
func (e *Env) EmaSlopePeriodDyn() int     { return roundi(clamp(50.0/e.Rt, 20, 60)) }
func (e *Env) AtrProxyBarsDyn() int       { return roundi(clamp(12.0+6.0/e.Rt, 10, 20)) }
func (e *Env) AtrRiskFracDyn() float64 {
	return clamp(0.35+0.10*(1.0/math.Max(e.Nu, 0.1)), 0.32, 0.50)
}
func (e *Env) DailyMaxTradesDyn() int { return 10 }

// AutoTuneFromPrevSession walks back to the previous completed session block
// and scales s off its high-low range in ticks (range/100, clamped). NaN when
// no prior block exists.
func AutoTuneFromPrevSession(s *market.Series, startHHmm, endHHmm int) float64 {
	if s.Len() < 10 {
		return math.NaN()
	}
	endIdx := s.Len() - 2

	// Skip the live block if we're currently inside the session window.
	i := endIdx
	for i >= 0 && market.WithinHHmm(s.At(i).Time, startHHmm, endHHmm) {
		i--
	}
	// Walk back to the previous session block.
	for i >= 0 && !market.WithinHHmm(s.At(i).Time, startHHmm, endHHmm) {
		i--
	}
	if i < 0 {
		return math.NaN()
	}

	hi := math.Inf(-1)
	lo := math.Inf(1)
	tick := s.Tick()
	for i >= 0 && market.WithinHHmm(s.At(i).Time, startHHmm, endHHmm) {
		b := s.At(i)
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
		i--
	}
	if !(hi > lo) || tick <= 0 {
		return math.NaN()
	}
	tune := ((hi - lo) / tick) / 100.0
	return clamp(tune, 0.6, 3.0)
}

// ===== volume statistics over completed bars (current bar excluded) =====

func completedVolumes(s *market.Series, lookback int) []float64 {
	if s.Len() < 3 {
		return nil
	}
	end := s.Len() - 2
	start := maxi(0, end-lookback+1)
	out := make([]float64, 0, end-start+1)
	for i := start; i <= end; i++ {
		v := float64(s.At(i).Volume)
		if v < 0 {
			v = 0
		}
		out = append(out, v)
	}
	return out
}

func volumeGate(s *market.Series, lookback int, p, k float64) float64 {
	v := PercentileVolume(s, lookback, p)
	if math.IsNaN(v) || v <= 0 {
		v = MedianVolume(s, lookback) * 0.70
	}
	return v * k
}

// PercentileVolume returns the linearly interpolated p-quantile of bar
// volume over the trailing lookback, NaN when no samples exist.
func PercentileVolume(s *market.Series, lookback int, p float64) float64 {
	list := completedVolumes(s, lookback)
	if len(list) == 0 {
		return math.NaN()
	}
	sort.Float64s(list)
	idx := clamp(p, 0, 1) * float64(len(list)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return list[lo]
	}
	w := idx - float64(lo)
	return list[lo]*(1-w) + list[hi]*w
}

// MedianVolume is the median bar volume over the trailing lookback.
func MedianVolume(s *market.Series, lookback int) float64 {
	list := completedVolumes(s, lookback)
	if len(list) == 0 {
		return 0
	}
	sort.Float64s(list)
	m := len(list) / 2
	if len(list)%2 == 1 {
		return list[m]
	}
	return 0.5 * (list[m-1] + list[m])
}

// MedianWickRatio is the median of (upper+lower wick)/body over the trailing
// lookback; 1.5 when no samples exist.
func MedianWickRatio(s *market.Series, lookback int) float64 {
	if s.Len() < 3 {
		return 1.5
	}
	end := s.Len() - 2
	start := maxi(0, end-lookback+1)
	tick := s.Tick()
	list := make([]float64, 0, end-start+1)
	for i := start; i <= end; i++ {
		b := s.At(i)
		body := math.Max(b.Body(), tick)
		list = append(list, (b.UpperWick()+b.LowerWick())/body)
	}
	if len(list) == 0 {
		return 1.5
	}
	sort.Float64s(list)
	m := len(list) / 2
	if len(list)%2 == 1 {
		return list[m]
	}
	return 0.5 * (list[m-1] + list[m])
}

func clamp(x, a, b float64) float64 {
	if x < a {
		return a
	}
	if x > b {
		return b
	}
	return x
}

func roundi(x float64) int { return int(math.Round(x)) }

func maxi(a, b int) int {
	if a > b {
		return a
	}
	return b
}
