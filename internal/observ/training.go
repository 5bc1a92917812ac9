package observ

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/quantfold/fms-engine/internal/regime"
)

// TrainingRecord is one JSON line per accepted signal. Forward-return
// labels are filled in by the caller once enough bars have elapsed.
type TrainingRecord struct {
	TS     int     `json:"ts"`
	Regime string  `json:"regime"`
	Stress float64 `json:"stress"`

	Alphas  map[string]float64 `json:"alphas"`
	Weights map[string]float64 `json:"weights"`
	Score   float64            `json:"score"`
	Side    string             `json:"side"`

	Features regime.FeatureVector `json:"features"`

	Proposal TrainingProposal `json:"proposal"`
	Labels   TrainingLabels   `json:"labels"`
}

type TrainingProposal struct {
	StopTicks   int     `json:"stopTicks"`
	TargetTicks int     `json:"targetTicks"`
	RRMin       float64 `json:"rrMin"`
	QtyEff      int     `json:"qtyEff"`
}

type TrainingLabels struct {
	FwdRet5  float64 `json:"fwdRet_5"`
	FwdRet10 float64 `json:"fwdRet_10"`
}

// TrainingWriter appends records to a JSON-lines file. Safe for concurrent
// use; each Append is one write syscall so lines never interleave.
type TrainingWriter struct {
	mu   sync.Mutex
	path string
}

func NewTrainingWriter(path string) (*TrainingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("training dir: %w", err)
	}
	return &TrainingWriter{path: path}, nil
}

func (w *TrainingWriter) Append(rec TrainingRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal training record: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// SignalCSV appends one row per emitted signal, writing the header on the
// first row of a fresh file.
type SignalCSV struct {
	mu   sync.Mutex
	path string
}

var signalCSVHeader = []string{
	"ts", "symbol", "side", "regime", "stress",
	"oppScore", "ruleScore", "mlScore",
	"stopTicks", "targetTicks", "qty",
	"trigger", "stop", "target", "reasons",
}

func NewSignalCSV(path string) (*SignalCSV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("signal log dir: %w", err)
	}
	return &SignalCSV{path: path}, nil
}

// SignalRow is one emitted signal for the CSV log.
type SignalRow struct {
	TS        int
	Symbol    string
	Side      string
	Regime    string
	Stress    float64
	OppScore  float64
	RuleScore float64
	MLScore   float64

	StopTicks   int
	TargetTicks int
	Qty         int
	Trigger     float64
	Stop        float64
	Target      float64
	Reasons     []string
}

func (c *SignalCSV) Append(row SignalRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := false
	if fi, err := os.Stat(c.path); err != nil || fi.Size() == 0 {
		fresh = true
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(signalCSVHeader); err != nil {
			return err
		}
	}
	err = w.Write([]string{
		fmt.Sprintf("%06d", row.TS),
		row.Symbol,
		row.Side,
		row.Regime,
		strconv.FormatFloat(row.Stress, 'f', 4, 64),
		strconv.FormatFloat(row.OppScore, 'f', 4, 64),
		strconv.FormatFloat(row.RuleScore, 'f', 4, 64),
		strconv.FormatFloat(row.MLScore, 'f', 4, 64),
		strconv.Itoa(row.StopTicks),
		strconv.Itoa(row.TargetTicks),
		strconv.Itoa(row.Qty),
		strconv.FormatFloat(row.Trigger, 'f', 2, 64),
		strconv.FormatFloat(row.Stop, 'f', 2, 64),
		strconv.FormatFloat(row.Target, 'f', 2, 64),
		strings.Join(row.Reasons, "|"),
	})
	if err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
