package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	updateRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gokrun",
			Subsystem: "update",
			Name:      "runs_total",
			Help:      "Number of finished update runs by outcome.",
		}, []string{"outcome"},
	)
	updateRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gokrun",
			Subsystem: "update",
			Name:      "rejected_total",
			Help:      "Number of update requests rejected because a run was in progress.",
		},
	)
	updateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gokrun",
			Subsystem: "update",
			Name:      "duration_seconds",
			Help:      "Wall time of update helper runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	updateProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gokrun",
			Subsystem: "update",
			Name:      "progress_percent",
			Help:      "Last reported download progress of the active update run.",
		},
	)

	streamConnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gokrun",
			Subsystem: "events",
			Name:      "connects_total",
			Help:      "Number of event stream connections established.",
		},
	)
	streamDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gokrun",
			Subsystem: "events",
			Name:      "disconnects_total",
			Help:      "Number of event stream disconnects by reason class.",
		}, []string{"reason"},
	)
	streamEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gokrun",
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Number of event frames delivered to subscribers.",
		},
	)
	streamState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gokrun",
			Subsystem: "events",
			Name:      "state",
			Help:      "Current event stream state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)

	scheduleTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gokrun",
			Subsystem: "schedule",
			Name:      "ticks_total",
			Help:      "Number of scheduled update checks by result (started, skipped, failed).",
		}, []string{"result"},
	)
	scheduleNext = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gokrun",
			Subsystem: "schedule",
			Name:      "next_run_timestamp_seconds",
			Help:      "Unix time of the next scheduled update check.",
		},
	)

	runtimeLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gokrun",
			Subsystem: "runtime",
			Name:      "launches_total",
			Help:      "Number of runtime host launches by host kind.",
		}, []string{"host"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		updateRuns, updateRejected, updateDuration, updateProgress,
		streamConnects, streamDisconnects, streamEvents, streamState,
		scheduleTicks, scheduleNext, runtimeLaunches,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncUpdateRun(outcome string) {
	if regOK.Load() {
		updateRuns.WithLabelValues(outcome).Inc()
	}
}

func IncUpdateRejected() {
	if regOK.Load() {
		updateRejected.Inc()
	}
}

func ObserveUpdateDuration(seconds float64) {
	if regOK.Load() {
		updateDuration.Observe(seconds)
	}
}

func SetUpdateProgress(percent int) {
	if regOK.Load() {
		updateProgress.Set(float64(percent))
	}
}

func IncStreamConnect() {
	if regOK.Load() {
		streamConnects.Inc()
	}
}

// IncStreamDisconnect records a disconnect. reason is the class prefix of the
// disconnect reason (text before the first ':').
func IncStreamDisconnect(reason string) {
	if regOK.Load() {
		streamDisconnects.WithLabelValues(reason).Inc()
	}
}

func IncStreamEvent() {
	if regOK.Load() {
		streamEvents.Inc()
	}
}

// SetStreamState marks state as the only active stream state.
func SetStreamState(state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		streamState.WithLabelValues(s).Set(v)
	}
}

func IncScheduleTick(result string) {
	if regOK.Load() {
		scheduleTicks.WithLabelValues(result).Inc()
	}
}

func SetScheduleNext(unix float64) {
	if regOK.Load() {
		scheduleNext.Set(unix)
	}
}

func IncRuntimeLaunch(host string) {
	if regOK.Load() {
		runtimeLaunches.WithLabelValues(host).Inc()
	}
}
