package signal

import (
	"math"

	"github.com/quantfold/fms-engine/internal/market"
)

// Replicator step size and the number of realized outcomes each alpha's
// fitness averages over.
const (
	alphaEta             = 0.1
	alphaFitnessLookback = 20
)

// AlphaSet blends three micro-alphas into a rule score and adapts their
// weights with replicator dynamics on realized trade outcomes. Alpha A reads
// order-flow momentum, B fades VWAP distance, C rewards tight-base breaks.
type AlphaSet struct {
	weights [3]float64
	lastOut [3]float64 // alpha values at the last accepted entry

	outcomes [3][]float64
}

func NewAlphaSet() *AlphaSet {
	return &AlphaSet{weights: [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}}
}

// Weights returns the current blend weights, in A/B/C order.
func (a *AlphaSet) Weights() [3]float64 { return a.weights }

// Values computes the three alpha outputs for the scored direction.
func (a *AlphaSet) Values(dir market.Direction, sc Score) [3]float64 {
	momentum := clamp01((sc.Delta3Z + 3.0) / 6.0)
	reversion := clamp01(1.0 - 0.5*sc.DistVWAP)
	breakout := sc.Breakout
	return [3]float64{momentum, reversion, breakout}
}

// RuleScore is the weighted alpha blend for the bar.
func (a *AlphaSet) RuleScore(dir market.Direction, sc Score) float64 {
	v := a.Values(dir, sc)
	return clamp01(a.weights[0]*v[0] + a.weights[1]*v[1] + a.weights[2]*v[2])
}

// NoteEntry records the alpha values active when an entry was accepted so
// the exit can attribute its outcome.
func (a *AlphaSet) NoteEntry(dir market.Direction, sc Score) {
	a.lastOut = a.Values(dir, sc)
}

// NoteOutcome attributes a realized R multiple to each alpha in proportion
// to how strongly it voted, then runs one replicator step on the rolling
// mean fitness.
func (a *AlphaSet) NoteOutcome(r float64) {
	for i := 0; i < 3; i++ {
		fit := r * (a.lastOut[i] - 0.5) * 2.0
		a.outcomes[i] = append(a.outcomes[i], fit)
		if len(a.outcomes[i]) > alphaFitnessLookback {
			a.outcomes[i] = a.outcomes[i][1:]
		}
	}

	var next [3]float64
	var sum float64
	for i := 0; i < 3; i++ {
		next[i] = a.weights[i] * math.Exp(alphaEta*meanOf(a.outcomes[i]))
		sum += next[i]
	}
	if sum <= 0 || math.IsNaN(sum) {
		return
	}
	for i := 0; i < 3; i++ {
		a.weights[i] = next[i] / sum
	}
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
