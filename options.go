// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Loop at construction time (spec.md §6.3
// "Configuration").
type Option func(*Loop)

// WithLogger overrides the default console zerolog.Logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) { l.log = logger }
}

// WithMaxBlockTime overrides the default 1000ms cap on how long a single
// tick may block in the backend poll (spec.md §4.1.1 step 2).
func WithMaxBlockTime(d time.Duration) Option {
	return func(l *Loop) { l.maxBlockTimeMs = int(d.Milliseconds()) }
}

// WithPauseInterval overrides the default 10ms sleep used while the loop is
// paused (spec.md §4.1 step 1).
func WithPauseInterval(d time.Duration) Option {
	return func(l *Loop) { l.pauseIntervalMs = int(d.Milliseconds()) }
}

// WithBackend overrides the platform-default IO watcher backend.
func WithBackend(b Backend) Option {
	return func(l *Loop) { l.backend = b }
}
