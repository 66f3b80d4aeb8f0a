// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qrexec

import (
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
)

// Options holds the agent-level dependencies a Listener is constructed with.
// Its fields are unexported: callers set them only through Option functions
// passed to NewListener.
type Options struct {
	logger     hclog.Logger
	registerer prometheus.Registerer
}

func defaultOptions() *Options {
	return &Options{
		logger: hclog.NewNullLogger(),
	}
}

// Option configures a Listener at construction time.
type Option func(*Options)

// WithLogger supplies the hclog.Logger the listener and its sessions log
// through. Without it, log output is discarded.
func WithLogger(l hclog.Logger) Option {
	return func(o *Options) { o.logger = l }
}

// WithMetrics registers the agent's Prometheus collectors against reg. A nil
// reg (the default) disables metrics.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Options) { o.registerer = reg }
}
