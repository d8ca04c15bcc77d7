package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// placerTasks counts tasks handed to the placer.
	// Labels: kind (write, read)
	placerTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncedit",
		Subsystem: "placer",
		Name:      "tasks_total",
		Help:      "Tasks queued on region sequences",
	}, []string{"kind"})

	placerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asyncedit",
		Subsystem: "placer",
		Name:      "queue_depth",
		Help:      "Tasks queued but not yet executed",
	})

	placerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "asyncedit",
		Subsystem: "placer",
		Name:      "panics_total",
		Help:      "Tasks that panicked while executing",
	})

	// orderedRuns counts ordered executions by how they were served.
	// Labels: path (inline, queued, abandoned)
	orderedRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncedit",
		Subsystem: "placer",
		Name:      "ordered_runs_total",
		Help:      "Ordered executions by serving path",
	}, []string{"path"})

	journalAppends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "asyncedit",
		Subsystem: "journal",
		Name:      "appends_total",
		Help:      "Mutations buffered into the journal",
	})

	// journalFlushes counts segment flushes.
	// Labels: trigger (buffer, interval, shutdown)
	journalFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncedit",
		Subsystem: "journal",
		Name:      "flushes_total",
		Help:      "Journal buffer flushes to disk",
	}, []string{"trigger"})
)
