package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sessionWrites counts intercepted writes.
	// Labels: mode (async, sync), result (applied, noop, error)
	sessionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncedit",
		Subsystem: "session",
		Name:      "writes_total",
		Help:      "Writes intercepted by edit sessions",
	}, []string{"mode", "result"})

	// sessionFlushes counts flushes.
	// Labels: trigger (explicit, backlog)
	sessionFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncedit",
		Subsystem: "session",
		Name:      "flushes_total",
		Help:      "Backlog flushes",
	}, []string{"trigger"})

	// sessionChecks counts explicit async checks.
	// Labels: result (async, sync)
	sessionChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncedit",
		Subsystem: "session",
		Name:      "checks_total",
		Help:      "Explicit async capability checks",
	}, []string{"result"})

	sessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asyncedit",
		Subsystem: "session",
		Name:      "open",
		Help:      "Edit sessions currently open",
	})
)

func modeLabel(async bool) string {
	if async {
		return "async"
	}
	return "sync"
}
