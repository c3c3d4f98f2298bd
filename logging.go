// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evloop

import (
	"os"

	"github.com/rs/zerolog"
)

// defaultLogger mirrors the terse debug/warn split of hloop.c's
// printd/hloge calls: human-readable console output at Info level by
// default, with per-tick diagnostics gated behind Debug.
func defaultLogger() zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(w).Level(zerolog.InfoLevel).With().Timestamp().Str("component", "evloop").Logger()
}
