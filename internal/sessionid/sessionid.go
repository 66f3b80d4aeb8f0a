// Copyright 2026 the domu-agent authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sessionid mints log-correlation identifiers for sessions. IDs have
// no wire representation — they exist purely so that concurrent sessions'
// log lines can be told apart.
package sessionid

import "github.com/google/uuid"

// New returns a fresh correlation id, short enough to keep log lines legible.
func New() string {
	return uuid.NewString()[:8]
}
