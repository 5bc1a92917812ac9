// Package signal scores opportunities and runs the gate cascade that decides
// whether a bar is allowed to become an entry.
package signal

import (
	"github.com/quantfold/fms-engine/internal/market"
	"github.com/quantfold/fms-engine/internal/regime"
)

// Mode selects how aggressively the gates are tuned.
type Mode int

const (
	Conservative Mode = iota
	Balanced
	Active
)

func (m Mode) String() string {
	switch m {
	case Conservative:
		return "conservative"
	case Active:
		return "active"
	default:
		return "balanced"
	}
}

// ParseMode maps a config string to a Mode, defaulting to Active.
func ParseMode(s string) Mode {
	switch s {
	case "conservative":
		return Conservative
	case "balanced":
		return Balanced
	default:
		return Active
	}
}

// Params is the per-mode gate table. One row per Mode, fixed at start.
type Params struct {
	MinDelta3       int64   // 3-bar delta sum floor
	VolumeThreshold float64 // multiple of the 20-bar average volume
	BaseToTriggerATR float64
	MinBarRangeATR  float64
	MaxSwingDistTicks int

	WickExhaustionRatio float64
	RunupGuardATR       float64
	DeviationGuardATR   float64
	LargeImpulseATR     float64

	ThresholdAdj  float64 // added to the regime base threshold
	LunchThresholdAdd float64
	LunchMinKofN  int

	CooldownOnStopBars int
}

var paramsByMode = map[Mode]Params{
	Conservative: {
		MinDelta3: 40, VolumeThreshold: 1.20, BaseToTriggerATR: 0.8,
		MinBarRangeATR: 0.30, MaxSwingDistTicks: 3,
		WickExhaustionRatio: 0.35, RunupGuardATR: 1.3,
		DeviationGuardATR: 1.8, LargeImpulseATR: 1.1,
		ThresholdAdj: 0.05, LunchThresholdAdd: 0.03, LunchMinKofN: 4,
		CooldownOnStopBars: 3,
	},
	Balanced: {
		MinDelta3: 32, VolumeThreshold: 1.12, BaseToTriggerATR: 0.9,
		MinBarRangeATR: 0.28, MaxSwingDistTicks: 4,
		WickExhaustionRatio: 0.38, RunupGuardATR: 1.4,
		DeviationGuardATR: 1.9, LargeImpulseATR: 1.15,
		ThresholdAdj: 0.0, LunchThresholdAdd: 0.025, LunchMinKofN: 3,
		CooldownOnStopBars: 2,
	},
	Active: {
		MinDelta3: 25, VolumeThreshold: 1.08, BaseToTriggerATR: 1.0,
		MinBarRangeATR: 0.25, MaxSwingDistTicks: 4,
		WickExhaustionRatio: 0.40, RunupGuardATR: 1.5,
		DeviationGuardATR: 2.0, LargeImpulseATR: 1.2,
		ThresholdAdj: -0.05, LunchThresholdAdd: 0.02, LunchMinKofN: 3,
		CooldownOnStopBars: 1,
	},
}

// ParamsFor returns the gate row for a mode.
func ParamsFor(m Mode) Params { return paramsByMode[m] }

// Lunch window, exchange local time.
const (
	lunchStartHHmm = 1200
	lunchEndHHmm   = 1300
)

// InLunch reports whether the bar closed inside the midday chop window.
func InLunch(hhmmss int) bool {
	return market.WithinHHmm(hhmmss, lunchStartHHmm, lunchEndHHmm)
}

// BaseThreshold is the regime floor the final score must clear.
func BaseThreshold(c regime.Class) float64 {
	switch c {
	case regime.Laminar:
		return 0.30
	case regime.Turbulent:
		return 0.40
	default:
		return 0.35
	}
}

// Threshold folds the mode adjustment and lunch premium into the regime base.
func (p Params) Threshold(c regime.Class, hhmmss int) float64 {
	t := BaseThreshold(c) + p.ThresholdAdj
	if InLunch(hhmmss) {
		t += p.LunchThresholdAdd
	}
	return t
}

// MinBarsBetweenEntries widens required spacing as the regime stresses.
func MinBarsBetweenEntries(c regime.Class) int {
	switch c {
	case regime.Laminar:
		return 3
	case regime.Turbulent:
		return 5
	default:
		return 4
	}
}
