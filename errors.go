// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import "errors"

// Sentinel errors for input-validation failures (spec.md §7): returned to
// the caller with no side effects, never wrapped with a stack trace since
// there is no syscall boundary involved.
var (
	ErrZeroTimeout      = errors.New("evloop: timeout_ms must be non-zero")
	ErrInvalidPeriod    = errors.New("evloop: period fields out of range")
	ErrClosed           = errors.New("evloop: io handle is closed")
	ErrUnsupportedConn  = errors.New("evloop: connection type has no usable file descriptor")
	ErrBackendUnsupported = errors.New("evloop: no io watcher backend for this platform")
)
