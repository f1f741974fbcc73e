// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"io"

	"github.com/rs/zerolog"
)

// newLogger returns a human-readable logger writing to w. Unparseable levels fall back to warn;
// settings are validated before this is called.
func newLogger(w io.Writer, level string, color bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    !color,
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Str("app", "rconc").Logger()
}
