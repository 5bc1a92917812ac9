// Package orders turns an accepted opportunity into concrete entry, stop
// and target prices, snapped to the tick grid and capped to the risk box.
package orders

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/quantfold/fms-engine/internal/market"
)

// ExecModeManaged is the only execution mode the engine emits: a stop-entry
// bracket managed bar-by-bar by the trade manager.
const ExecModeManaged = "Managed"

// Proposal is a fully priced entry the engine hands to the broker layer.
type Proposal struct {
	ID        string
	Direction market.Direction
	Trigger   float64
	Stop      float64
	Target    float64

	StopTicks   int
	TargetTicks int
	Quantity    int
	Tag         string
	ExecMode    string
}

// RiskReward is target distance over stop distance.
func (p Proposal) RiskReward() float64 {
	if p.StopTicks <= 0 {
		return 0
	}
	return float64(p.TargetTicks) / float64(p.StopTicks)
}

// RejectError explains why no proposal could be priced for this bar.
type RejectError struct {
	Stage  string
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("proposal rejected at %s: %s", e.Stage, e.Reason)
}

func reject(stage, format string, args ...any) *RejectError {
	return &RejectError{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

func newID() string { return uuid.NewString() }

// ===== entry tags =====

const (
	tagLongStop  = "FMSL_STP"
	tagShortStop = "FMSS_STP"
)

// BuildEntryTag encodes the side and trigger price into the order tag the
// execution layer echoes back on fills.
func BuildEntryTag(dir market.Direction, trigger float64) string {
	prefix := tagLongStop
	if dir == market.Short {
		prefix = tagShortStop
	}
	return fmt.Sprintf("%s@%.2f", prefix, trigger)
}

// IsStopTag reports whether the tag is one of ours.
func IsStopTag(tag string) bool {
	return strings.HasPrefix(tag, tagLongStop) || strings.HasPrefix(tag, tagShortStop)
}

// ExtractTagPrice recovers the trigger price from an entry tag; false when
// the tag is foreign or malformed.
func ExtractTagPrice(tag string) (float64, bool) {
	if !IsStopTag(tag) {
		return 0, false
	}
	at := strings.IndexByte(tag, '@')
	if at < 0 || at+1 >= len(tag) {
		return 0, false
	}
	p, err := strconv.ParseFloat(tag[at+1:], 64)
	if err != nil {
		return 0, false
	}
	return p, true
}
