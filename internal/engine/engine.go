// Package engine wires the whole pipeline together: bar ingestion, regime
// detection, opportunity scoring, gate evaluation, pricing, and open-trade
// management. One Engine instance per instrument.
package engine

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/quantfold/fms-engine/internal/analysis"
	"github.com/quantfold/fms-engine/internal/config"
	"github.com/quantfold/fms-engine/internal/indicators"
	"github.com/quantfold/fms-engine/internal/market"
	"github.com/quantfold/fms-engine/internal/observ"
	"github.com/quantfold/fms-engine/internal/orders"
	"github.com/quantfold/fms-engine/internal/profile"
	"github.com/quantfold/fms-engine/internal/regime"
	"github.com/quantfold/fms-engine/internal/signal"
	"github.com/quantfold/fms-engine/internal/trade"
	"github.com/quantfold/fms-engine/internal/tunables"
	"github.com/quantfold/fms-engine/internal/zones"
)

const (
	mlBlendRule = 0.70
	mlBlendML   = 0.30

	standDownStress  = 0.95
	standDownMargin  = 0.10
	zeroSizeStress   = 0.98
	softMinKofN      = 2
	softMinDelta3Z   = 0.15
	softMaxBaseWidth = 2.5
	softMinVolZ      = 0.05
)

// Engine is the strategy root. Not safe for concurrent use; the host feeds
// it completed bars one at a time.
type Engine struct {
	cfg config.Root
	log zerolog.Logger

	series   *market.Series
	detector *regime.Detector
	ind      *indicators.Cache
	env      *tunables.Env
	book     *zones.Book
	prof     *profile.Builder
	clusters *orders.Clusters
	builder  *orders.Builder
	eval     *signal.Evaluator
	alphas   *signal.AlphaSet
	trades   *trade.Manager

	analysis *analysis.Client
	training *observ.TrainingWriter
	csv      *observ.SignalCSV

	lastBarNumber int
	lastBarTime   int
	lastEntryBar  int
	lastStopBar   int
	lastStopLevel float64
	dailyTrades   int

	pending []pendingLabels
}

type pendingLabels struct {
	rec        observ.TrainingRecord
	entryBar   int
	entryClose float64
	got5       bool
}

// New builds an engine from config. broker may be a no-op for replay runs.
func New(cfg config.Root, broker trade.Broker, log zerolog.Logger) (*Engine, error) {
	tick := cfg.Instrument.Tick
	clusters := orders.NewClusters(tick)

	e := &Engine{
		cfg:      cfg,
		log:      log.With().Str("component", "engine").Str("symbol", cfg.Instrument.Symbol).Logger(),
		series:   market.NewSeries(tick),
		detector: regime.NewDetector(),
		ind:      indicators.NewCache(),
		env:      tunables.NewEnv(cfg.Tune.Value, cfg.Tune.Auto, cfg.Session.StartHHmm, cfg.Session.EndHHmm),
		book:     zones.NewBook(tick),
		prof:     profile.NewBuilder(tick),
		clusters: clusters,
		builder:  orders.NewBuilder(tick, clusters),
		eval:     signal.NewEvaluator(signal.ParseMode(cfg.Mode), tick),
		alphas:   signal.NewAlphaSet(),
		trades:   trade.NewManager(broker, tick),

		lastBarNumber: -1,
		lastEntryBar:  -1,
		lastStopBar:   -1,
	}

	if cfg.Analysis.Enabled {
		e.analysis = analysis.NewClient(cfg.Analysis.URL, log)
	}
	if cfg.Training.Enabled {
		w, err := observ.NewTrainingWriter(cfg.Training.Path)
		if err != nil {
			return nil, err
		}
		e.training = w
	}
	if cfg.SignalLog.Enabled {
		c, err := observ.NewSignalCSV(cfg.SignalLog.Path)
		if err != nil {
			return nil, err
		}
		e.csv = c
	}
	return e, nil
}

// Series exposes the bar history, mainly for tests and the replay driver.
func (e *Engine) Series() *market.Series { return e.series }

// TradePhase reports the open-trade state machine phase.
func (e *Engine) TradePhase() trade.Phase { return e.trades.Phase() }

// OnBarClose ingests one completed bar and runs the full pipeline. A second
// call with the same bar number is a no-op.
func (e *Engine) OnBarClose(bar market.Bar) {
	if bar.Number == e.lastBarNumber {
		return
	}
	if e.lastBarTime > 0 && bar.Time < e.lastBarTime {
		e.rollSession()
	}
	e.lastBarNumber = bar.Number
	e.lastBarTime = bar.Time

	e.series.Append(bar)
	e.env.Refresh(e.series)
	e.prof.SetMergeTicks(e.env.Cfg.ActivityMergeTicks)
	e.prof.Update(e.series)
	e.book.Scan(e.series, e.env)
	e.book.Purge(bar.Number, e.env)
	e.ind.SetATRPeriod(e.env.AtrProxyBarsDyn())
	e.ind.Update(e.series)
	e.detector.Update(e.series)

	st := e.detector.State()
	observ.StressIndex.Set(st.Stress)
	observ.ThrottleGauge.Set(st.Throttle)

	snap := e.ind.Snapshot()
	e.clusters.Update(e.series, snap.SwingHigh, snap.SwingLow, snap.VWAP)

	if rep, err := e.trades.OnBar(e.series, snap.ATR); err != nil {
		e.log.Error().Err(err).Msg("broker update failed")
	} else if rep != nil {
		e.onExit(bar, rep)
	}

	e.flushLabels(bar)

	if e.trades.Active() {
		return
	}
	if !e.preflight(bar, st) {
		return
	}

	// one signal per bar, longs first
	if e.cfg.AllowLongs && e.trySignal(market.Long, bar, snap, st) {
		return
	}
	if e.cfg.AllowShorts {
		e.trySignal(market.Short, bar, snap, st)
	}
}

// rollSession resets the per-day bookkeeping when the clock wraps.
func (e *Engine) rollSession() {
	e.dailyTrades = 0
	e.lastEntryBar = -1
	e.lastStopBar = -1
	e.lastStopLevel = 0
}

func (e *Engine) onExit(bar market.Bar, rep *trade.ExitReport) {
	observ.TradesClosed.WithLabelValues(rep.Reason).Inc()
	e.alphas.NoteOutcome(rep.R)
	if rep.Reason == trade.ReasonTarget {
		e.book.ConsumeThrough(rep.Direction, rep.ExitPrice, e.env)
	}
	if rep.Stopped() {
		e.lastStopBar = bar.Number
		e.lastStopLevel = rep.ExitPrice
	}
	e.log.Info().Msg(observ.ExitSnapshot(bar.Time, rep.Reason, rep.R, rep.Bars, rep.MFE, rep.MAE))
}

// preflight is the cheap reject path before any scoring happens.
func (e *Engine) preflight(bar market.Bar, st regime.State) bool {
	if !market.WithinHHmm(bar.Time, e.cfg.Session.StartHHmm, e.cfg.Session.EndHHmm) {
		return false
	}
	if e.series.Len() < e.env.MinBarsRequiredDyn() || e.series.Len() < regime.MinBars {
		return false
	}
	if bar.Volume < e.env.MinCurrentBarVolumeDyn(e.series) {
		return false
	}
	if e.dailyTrades >= minInt(e.env.DailyMaxTradesDyn(), e.env.Cfg.DailyTradeCap) {
		return false
	}
	if st.Stress > zeroSizeStress {
		return false
	}
	return true
}

func (e *Engine) trySignal(dir market.Direction, bar market.Bar,
	snap indicators.Snapshot, st regime.State) bool {

	ctx := &signal.Context{
		Series:   e.series,
		Ind:      snap,
		Regime:   st,
		Clusters: e.clusters,
		Book:     e.book,
		Env:      e.env,

		LastEntryBar:  e.lastEntryBar,
		LastStopBar:   e.lastStopBar,
		LastStopLevel: e.lastStopLevel,
		DailyTrades:   e.dailyTrades,
	}

	a := e.eval.Evaluate(dir, ctx)
	if !a.OK() {
		for _, g := range a.Blocked {
			observ.GateRejections.WithLabelValues(g).Inc()
		}
		e.log.Debug().Str("side", dir.String()).
			Strs("blocked", a.Blocked).
			Float64("opp", a.Score.Opportunity).
			Msg("signal blocked")
		return false
	}

	oppScore := a.Score.Opportunity
	ruleScore := e.alphas.RuleScore(dir, a.Score)
	mlScore := 0.0
	final := oppScore
	if e.analysis != nil {
		mlScore, _ = e.analysis.Analyze(context.Background(), e.detector.Features())
		if mlScore > 0 {
			final = mlBlendRule*oppScore + mlBlendML*mlScore
		}
	}

	thr := e.eval.Params().Threshold(st.Class, bar.Time)
	if final < thr || a.Score.KofN < softMinKofN ||
		a.Score.Delta3Z < softMinDelta3Z ||
		a.Score.BaseWidthATR > softMaxBaseWidth ||
		a.Score.VolZ < softMinVolZ {
		observ.GateRejections.WithLabelValues("soft_guards").Inc()
		return false
	}
	if st.Class == regime.Turbulent && st.Stress > standDownStress && final < thr+standDownMargin {
		observ.GateRejections.WithLabelValues("stand_down").Inc()
		return false
	}

	qty := int(math.Round(float64(e.cfg.Quantity) * st.Throttle))
	if qty < 1 {
		qty = 1
	}

	prop, err := e.builder.Entry(dir, bar, orders.EntryInputs{
		ATR:       snap.ATR,
		SwingHigh: snap.SwingHigh,
		SwingLow:  snap.SwingLow,
		Quantity:  qty,
		Env:       e.env,
	})
	if err != nil {
		e.log.Debug().Err(err).Str("side", dir.String()).Msg("pricing rejected")
		observ.GateRejections.WithLabelValues("pricing").Inc()
		return false
	}

	if e.cfg.ZoneExits {
		if tgt, ticks, ok := e.builder.DynamicTarget(dir, prop, e.book, e.prof.Profile(), e.env); ok {
			prop.Target = tgt
			prop.TargetTicks = ticks
		}
	}

	if err := e.trades.Open(prop, bar.Number); err != nil {
		e.log.Error().Err(err).Str("side", dir.String()).Msg("entry submit refused")
		observ.GateRejections.WithLabelValues("broker").Inc()
		return false
	}
	e.lastEntryBar = bar.Number
	e.dailyTrades++
	e.alphas.NoteEntry(dir, a.Score)

	observ.SignalsEmitted.WithLabelValues(dir.String()).Inc()
	e.log.Info().Msg(observ.EntrySnapshot(bar.Time, dir,
		prop.Trigger, prop.Stop, prop.Target,
		prop.StopTicks, prop.TargetTicks, prop.Quantity, a.Passed))

	e.record(bar, dir, a, oppScore, ruleScore, mlScore, prop)
	return true
}

// record feeds the optional signal CSV and queues a training record whose
// forward-return labels are filled once enough bars elapse.
func (e *Engine) record(bar market.Bar, dir market.Direction, a signal.Assessment,
	oppScore, ruleScore, mlScore float64, prop orders.Proposal) {

	st := e.detector.State()

	if e.csv != nil {
		err := e.csv.Append(observ.SignalRow{
			TS: bar.Time, Symbol: e.cfg.Instrument.Symbol, Side: dir.String(),
			Regime: st.Class.String(), Stress: st.Stress,
			OppScore: oppScore, RuleScore: ruleScore, MLScore: mlScore,
			StopTicks: prop.StopTicks, TargetTicks: prop.TargetTicks,
			Qty: prop.Quantity, Trigger: prop.Trigger, Stop: prop.Stop,
			Target: prop.Target, Reasons: a.Passed,
		})
		if err != nil {
			e.log.Warn().Err(err).Msg("signal csv append failed")
		}
	}

	if e.training == nil {
		return
	}
	alphaVals := e.alphas.Values(dir, a.Score)
	weights := e.alphas.Weights()
	e.pending = append(e.pending, pendingLabels{
		rec: observ.TrainingRecord{
			TS: bar.Time, Regime: st.Class.String(), Stress: st.Stress,
			Alphas:  map[string]float64{"A": alphaVals[0], "B": alphaVals[1], "C": alphaVals[2]},
			Weights: map[string]float64{"A": weights[0], "B": weights[1], "C": weights[2]},
			Score:   oppScore, Side: dir.String(),
			Features: e.detector.Features(),
			Proposal: observ.TrainingProposal{
				StopTicks: prop.StopTicks, TargetTicks: prop.TargetTicks,
				RRMin: e.env.Cfg.MinRRMultiple, QtyEff: prop.Quantity,
			},
		},
		entryBar:   bar.Number,
		entryClose: bar.Close,
	})
}

// flushLabels fills forward returns at +5 and +10 bars and writes completed
// records out.
func (e *Engine) flushLabels(bar market.Bar) {
	if e.training == nil || len(e.pending) == 0 {
		return
	}
	kept := e.pending[:0]
	for i := range e.pending {
		p := e.pending[i]
		elapsed := bar.Number - p.entryBar
		if elapsed >= 5 && !p.got5 && p.entryClose > 0 {
			p.rec.Labels.FwdRet5 = (bar.Close - p.entryClose) / p.entryClose
			p.got5 = true
		}
		if elapsed >= 10 {
			if p.entryClose > 0 {
				p.rec.Labels.FwdRet10 = (bar.Close - p.entryClose) / p.entryClose
			}
			if err := e.training.Append(p.rec); err != nil {
				e.log.Warn().Err(err).Msg("training append failed")
			}
			continue
		}
		kept = append(kept, p)
	}
	e.pending = kept
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
