package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SignalsEmitted counts accepted proposals by side.
	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fms",
		Name:      "signals_emitted_total",
		Help:      "Accepted trade proposals.",
	}, []string{"side"})

	// GateRejections counts blocked evaluations by the first gate that fired.
	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fms",
		Name:      "gate_rejections_total",
		Help:      "Signal evaluations blocked, by gate.",
	}, []string{"gate"})

	// TradesClosed counts finished trades by exit reason.
	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fms",
		Name:      "trades_closed_total",
		Help:      "Closed trades, by exit reason.",
	}, []string{"reason"})

	// AnalysisFailures counts external analysis calls that degraded to zero.
	AnalysisFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fms",
		Name:      "analysis_failures_total",
		Help:      "External analysis calls that returned no usable score.",
	})

	// StressIndex is the current fused regime stress.
	StressIndex = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fms",
		Name:      "regime_stress",
		Help:      "Fused regime stress index in [0,1].",
	})

	// ThrottleGauge is the current risk throttle.
	ThrottleGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fms",
		Name:      "risk_throttle",
		Help:      "Risk throttle in [0.1,1.0].",
	})
)

// MetricsHandler serves the prometheus scrape endpoint.
func MetricsHandler() http.Handler { return promhttp.Handler() }
