// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qrexec

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one agent instance. A nil
// *Metrics is valid and every method on it is a no-op — this is how metrics
// stay opt-in without the core protocol code needing to know whether a
// registerer was ever supplied.
//
// Grounded on the pack's rockstar-0000-aistore dependency on
// github.com/prometheus/client_golang; the counter/histogram shape here is
// new (that repo's metrics cover a storage target, not a framed protocol),
// but the opt-in-via-registerer construction mirrors how that library is
// normally wired into a component that may or may not run with metrics
// enabled.
type Metrics struct {
	sessionsStarted  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	sessionDuration  prometheus.Histogram
	framesDispatched *prometheus.CounterVec
}

// NewMetrics registers this agent's collectors against reg and returns a
// live *Metrics. A nil reg disables metrics entirely: NewMetrics returns
// nil, and every method below tolerates a nil receiver.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrexec",
			Name:      "sessions_started_total",
			Help:      "Sessions dispatched by the listener, by execution mode.",
		}, []string{"mode"}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrexec",
			Name:      "sessions_finished_total",
			Help:      "Sessions that ran to completion, by execution mode and exit class.",
		}, []string{"mode", "exit_class"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qrexec",
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of a session from per-request channel open to flow close.",
			Buckets:   prometheus.DefBuckets,
		}),
		framesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrexec",
			Name:      "management_frames_dispatched_total",
			Help:      "Frames received on the management channel, by frame type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.sessionsStarted, m.sessionsFinished, m.sessionDuration, m.framesDispatched)
	return m
}

func (m *Metrics) sessionStarted(mode ExecMode) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(mode.String()).Inc()
}

func (m *Metrics) sessionFinished(mode ExecMode, exitCode int64, dur time.Duration) {
	if m == nil {
		return
	}
	class := "ok"
	if exitCode != 0 {
		class = "error"
	}
	m.sessionsFinished.WithLabelValues(mode.String(), class).Inc()
	m.sessionDuration.Observe(dur.Seconds())
}

func (m *Metrics) frameDispatched(t MsgType) {
	if m == nil {
		return
	}
	m.framesDispatched.WithLabelValues(t.String()).Inc()
}

// String renders an ExecMode for logging and metric labels.
func (m ExecMode) String() string {
	switch m {
	case JustExec:
		return "just_exec"
	case ExecCmdline:
		return "exec_cmdline"
	default:
		return "unknown"
	}
}
