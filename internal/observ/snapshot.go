package observ

import (
	"fmt"
	"strings"

	"github.com/quantfold/fms-engine/internal/market"
)

// EntrySnapshot renders the single user-visible line for an accepted entry.
// The format is fixed; replay fixtures diff against it verbatim.
func EntrySnapshot(ts int, dir market.Direction, trigger, stop, target float64,
	stopTicks, targetTicks, qty int, reasons []string) string {

	return fmt.Sprintf(
		"ENTRY_SNAPSHOT %06d %s trg=%.2f sl=%.2f tp=%.2f stopT=%d tgtT=%d qty=%d reasons=[%s]",
		ts, dir, trigger, stop, target, stopTicks, targetTicks, qty,
		strings.Join(reasons, ","))
}

// ExitSnapshot renders the single user-visible line for a finished trade.
func ExitSnapshot(ts int, reason string, r float64, bars int, mfe, mae float64) string {
	return fmt.Sprintf(
		"EXIT_SNAPSHOT %06d reason=%s R=%.2f bars=%d MFE=%.2f MAE=%.2f",
		ts, reason, r, bars, mfe, mae)
}
