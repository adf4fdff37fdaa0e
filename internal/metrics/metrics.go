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

	installSuccesses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vsmgr",
			Subsystem: "install",
			Name:      "success_total",
			Help:      "Number of completed server installations.",
		},
	)
	installFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vsmgr",
			Subsystem: "install",
			Name:      "failure_total",
			Help:      "Number of failed server installations by error code.",
		}, []string{"code"},
	)
	installDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vsmgr",
			Subsystem: "install",
			Name:      "duration_seconds",
			Help:      "Wall time of successful installations.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	serverStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vsmgr",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful server starts.",
		},
	)
	serverStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vsmgr",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of explicit server stops (graceful or kill).",
		},
	)
	serverCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vsmgr",
			Subsystem: "server",
			Name:      "crashes_total",
			Help:      "Number of unexpected server exits.",
		},
	)
	serverRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vsmgr",
			Subsystem: "server",
			Name:      "running",
			Help:      "Whether the supervised server is currently running.",
		},
	)
	consoleLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vsmgr",
			Subsystem: "console",
			Name:      "lines_total",
			Help:      "Console output lines captured from the server.",
		},
	)
	commandsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vsmgr",
			Subsystem: "console",
			Name:      "commands_total",
			Help:      "Interactive commands injected into the server's stdin.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		installSuccesses, installFailures, installDuration,
		serverStarts, serverStops, serverCrashes, serverRunning,
		consoleLines, commandsSent,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until
// Register has been called.

func IncInstallSuccess() {
	if regOK.Load() {
		installSuccesses.Inc()
	}
}

func IncInstallFailure(code string) {
	if regOK.Load() {
		installFailures.WithLabelValues(code).Inc()
	}
}

func ObserveInstallDuration(seconds float64) {
	if regOK.Load() {
		installDuration.Observe(seconds)
	}
}

func IncServerStart() {
	if regOK.Load() {
		serverStarts.Inc()
	}
}

func IncServerStop() {
	if regOK.Load() {
		serverStops.Inc()
	}
}

func IncServerCrash() {
	if regOK.Load() {
		serverCrashes.Inc()
	}
}

func SetServerRunning(running bool) {
	if regOK.Load() {
		if running {
			serverRunning.Set(1)
		} else {
			serverRunning.Set(0)
		}
	}
}

func IncConsoleLine() {
	if regOK.Load() {
		consoleLines.Inc()
	}
}

func IncCommandSent() {
	if regOK.Load() {
		commandsSent.Inc()
	}
}
