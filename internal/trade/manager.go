// Package trade manages the open bracket bar-by-bar: arming the stop entry,
// breakeven and trailing moves, fast-flip and time-based exits.
package trade

import (
	"math"

	"github.com/quantfold/fms-engine/internal/market"
	"github.com/quantfold/fms-engine/internal/orders"
)

// Phase of the open-trade state machine.
type Phase int

const (
	NoTrade Phase = iota
	Pending       // stop entry working, not filled
	Armed         // filled, bracket live
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Armed:
		return "armed"
	default:
		return "no_trade"
	}
}

const (
	pendingTimeoutBars = 4
	maxBarsInTrade     = 10

	beTriggerR      = 0.35
	trailStartR     = 0.70
	atrTrailMult    = 1.0
	minTrailTicks   = 8.0
	fastFlipBars    = 2
	fastFlipMinOppDelta = 30
	fastFlipWickRatio   = 0.40
	fastFlipStopR   = -0.25
	tightenAfterBars = 5
	tightenBelowR    = 0.30
	tightenStopR     = -0.10
)

// Exit reasons as they appear in logs and reports.
const (
	ReasonStop     = "SL"
	ReasonTarget   = "TP"
	ReasonTime     = "TIME"
	ReasonCanceled = "CANCEL"
)

// Broker is the execution surface the manager drives. Implementations wrap
// the host platform's order API.
type Broker interface {
	Place(p orders.Proposal) error
	UpdateBracket(id string, stop, target float64) error
	CancelEntry(id string) error
}

// ExitReport summarizes a finished trade.
type ExitReport struct {
	ID        string
	Direction market.Direction
	Reason    string
	R         float64
	Bars      int
	MFE       float64 // best excursion, in R
	MAE       float64 // worst excursion, in R
	ExitPrice float64
}

// Stopped reports whether the trade ended on its protective stop.
func (r ExitReport) Stopped() bool { return r.Reason == ReasonStop }

// Manager owns at most one bracket at a time.
type Manager struct {
	broker Broker
	tick   float64

	phase Phase
	prop  orders.Proposal

	placedBar int
	startBar  int
	entry     float64
	stop      float64
	target    float64
	risk      float64

	mfe float64
	mae float64

	beDone       bool
	fastFlipDone bool
	tightenDone  bool
}

func NewManager(broker Broker, tick float64) *Manager {
	if tick <= 0 {
		tick = market.DefaultTick
	}
	return &Manager{broker: broker, tick: tick}
}

func (m *Manager) Phase() Phase  { return m.phase }
func (m *Manager) Active() bool  { return m.phase != NoTrade }
func (m *Manager) Stop() float64 { return m.stop }

// Proposal returns the working proposal; meaningful only while Active.
func (m *Manager) Proposal() orders.Proposal { return m.prop }

// Open submits the stop-entry bracket to the broker and registers it. The
// manager stays idle when the submit is refused.
func (m *Manager) Open(p orders.Proposal, barNumber int) error {
	if err := m.broker.Place(p); err != nil {
		return err
	}
	m.prop = p
	m.phase = Pending
	m.placedBar = barNumber
	m.startBar = 0
	m.entry = p.Trigger
	m.stop = p.Stop
	m.target = p.Target
	m.risk = float64(p.StopTicks) * m.tick
	m.mfe, m.mae = 0, 0
	m.beDone, m.fastFlipDone, m.tightenDone = false, false, false
	return nil
}

// OnBar advances the state machine with the just-closed bar. A non-nil
// report means the trade is finished and the manager is idle again.
func (m *Manager) OnBar(s *market.Series, atr float64) (*ExitReport, error) {
	cur, ok := s.Current()
	if !ok || m.phase == NoTrade {
		return nil, nil
	}

	switch m.phase {
	case Pending:
		return m.onPendingBar(cur)
	case Armed:
		return m.onArmedBar(cur, atr)
	}
	return nil, nil
}

func (m *Manager) onPendingBar(cur market.Bar) (*ExitReport, error) {
	filled := (m.prop.Direction == market.Long && cur.High >= m.prop.Trigger) ||
		(m.prop.Direction == market.Short && cur.Low <= m.prop.Trigger)
	if filled {
		m.phase = Armed
		m.startBar = cur.Number
		m.entry = m.prop.Trigger
		// resubmit the bracket against the actual fill
		if err := m.broker.UpdateBracket(m.prop.ID, m.stop, m.target); err != nil {
			return nil, err
		}
		// the fill bar can also resolve the bracket
		return m.checkBracket(cur)
	}

	if cur.Number-m.placedBar >= pendingTimeoutBars {
		err := m.broker.CancelEntry(m.prop.ID)
		rep := &ExitReport{
			ID: m.prop.ID, Direction: m.prop.Direction,
			Reason: ReasonCanceled,
		}
		m.reset()
		return rep, err
	}
	return nil, nil
}

func (m *Manager) onArmedBar(cur market.Bar, atr float64) (*ExitReport, error) {
	if rep, err := m.checkBracket(cur); rep != nil || err != nil {
		return rep, err
	}

	r := m.rAt(cur.Close)
	if hi := m.rAt(m.favorableExtreme(cur)); hi > m.mfe {
		m.mfe = hi
	}
	if lo := m.rAt(m.adverseExtreme(cur)); lo < m.mae {
		m.mae = lo
	}

	barsAlive := cur.Number - m.startBar
	if barsAlive >= maxBarsInTrade {
		rep := m.exitAt(cur.Close, ReasonTime, cur.Number)
		return rep, nil
	}

	newStop := m.stop

	// breakeven and trail key off the closed-bar unrealized R, not the
	// intrabar excursion
	if !m.beDone && r >= beTriggerR {
		newStop = m.betterStop(newStop, m.breakEvenStop())
		m.beDone = true
	}

	if r >= trailStartR {
		trail := math.Max(atrTrailMult*atr, minTrailTicks*m.tick)
		if math.IsNaN(trail) || trail <= 0 {
			trail = minTrailTicks * m.tick
		}
		var cand float64
		if m.prop.Direction == market.Long {
			cand = cur.Close - trail
		} else {
			cand = cur.Close + trail
		}
		if m.beDone {
			cand = m.betterStop(m.breakEvenStop(), cand)
		}
		newStop = m.betterStop(newStop, cand)
	}

	if !m.fastFlipDone && barsAlive <= fastFlipBars && m.flowFlipped(cur) {
		newStop = m.betterStop(newStop, m.stopAtR(fastFlipStopR))
		m.fastFlipDone = true
	}

	if !m.tightenDone && barsAlive >= tightenAfterBars && r < tightenBelowR {
		newStop = m.betterStop(newStop, m.stopAtR(tightenStopR))
		m.tightenDone = true
	}

	if newStop != m.stop {
		newStop = market.RoundToTick(newStop, m.tick)
		if newStop != m.stop {
			m.stop = newStop
			if err := m.broker.UpdateBracket(m.prop.ID, m.stop, m.target); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

// checkBracket resolves stop and target touches on the bar. Stop wins ties:
// with bar-close data there is no intrabar sequencing, so the conservative
// outcome is assumed.
func (m *Manager) checkBracket(cur market.Bar) (*ExitReport, error) {
	if m.prop.Direction == market.Long {
		if cur.Low <= m.stop {
			return m.exitAt(m.stop, ReasonStop, cur.Number), nil
		}
		if cur.High >= m.target {
			return m.exitAt(m.target, ReasonTarget, cur.Number), nil
		}
	} else {
		if cur.High >= m.stop {
			return m.exitAt(m.stop, ReasonStop, cur.Number), nil
		}
		if cur.Low <= m.target {
			return m.exitAt(m.target, ReasonTarget, cur.Number), nil
		}
	}
	return nil, nil
}

// flowFlipped detects an immediate order-flow reversal after the fill:
// strong opposing delta or a large rejection wick against the position.
func (m *Manager) flowFlipped(cur market.Bar) bool {
	oppDelta := cur.Delta
	if m.prop.Direction == market.Long {
		oppDelta = -oppDelta
	}
	if oppDelta >= fastFlipMinOppDelta {
		return true
	}
	r := cur.Range()
	if r <= 0 {
		return false
	}
	if m.prop.Direction == market.Long {
		return cur.UpperWick()/r >= fastFlipWickRatio
	}
	return cur.LowerWick()/r >= fastFlipWickRatio
}

func (m *Manager) exitAt(price float64, reason string, barNumber int) *ExitReport {
	r := m.rAt(price)
	if r > m.mfe {
		m.mfe = r
	}
	if r < m.mae {
		m.mae = r
	}
	rep := &ExitReport{
		ID:        m.prop.ID,
		Direction: m.prop.Direction,
		Reason:    reason,
		R:         r,
		Bars:      barNumber - m.startBar,
		MFE:       m.mfe,
		MAE:       m.mae,
		ExitPrice: price,
	}
	m.reset()
	return rep
}

func (m *Manager) reset() {
	m.phase = NoTrade
	m.prop = orders.Proposal{}
}

// rAt expresses a price as a multiple of the initial risk.
func (m *Manager) rAt(price float64) float64 {
	if m.risk <= 0 {
		return 0
	}
	if m.prop.Direction == market.Long {
		return (price - m.entry) / m.risk
	}
	return (m.entry - price) / m.risk
}

// stopAtR is the stop price sitting at the given R multiple.
func (m *Manager) stopAtR(r float64) float64 {
	if m.prop.Direction == market.Long {
		return m.entry + r*m.risk
	}
	return m.entry - r*m.risk
}

// breakEvenStop is entry plus one protective tick.
func (m *Manager) breakEvenStop() float64 {
	if m.prop.Direction == market.Long {
		return m.entry + m.tick
	}
	return m.entry - m.tick
}

// betterStop keeps whichever stop locks in more; stops only ever advance.
func (m *Manager) betterStop(a, b float64) float64 {
	if m.prop.Direction == market.Long {
		return math.Max(a, b)
	}
	return math.Min(a, b)
}

func (m *Manager) favorableExtreme(cur market.Bar) float64 {
	if m.prop.Direction == market.Long {
		return cur.High
	}
	return cur.Low
}

func (m *Manager) adverseExtreme(cur market.Bar) float64 {
	if m.prop.Direction == market.Long {
		return cur.Low
	}
	return cur.High
}
