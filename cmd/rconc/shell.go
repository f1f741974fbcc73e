// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/schultz-is/rcon"
)

// maxLine bounds a single line read from non-interactive input.
const maxLine = 1 << 20

// session is the part of [rcon.Session] the console drives once authenticated.
type session interface {
	RunCommand(ctx context.Context, cmd string) (string, error)
}

// result is everything one line of input produced.
type result struct {
	output  string
	warning error
	err     error
	fatal   error
	quit    bool
}

// shell runs console input against an authenticated session.
type shell struct {
	session session
	out     io.Writer
	errOut  io.Writer
	styles  styles
}

// runLine handles one line of input. Blank lines are ignored, "quit" and "exit" end the loop
// without contacting the server, and "stop" is sent before the loop ends.
func (sh *shell) runLine(ctx context.Context, line string) result {
	line = strings.TrimRight(line, "\r\n")
	switch strings.TrimSpace(line) {
	case "":
		return result{}
	case "quit", "exit":
		return result{quit: true}
	}

	out, err := sh.session.RunCommand(ctx, line)
	r := result{
		output: out,
		quit:   strings.TrimSpace(line) == "stop",
	}
	switch rcon.ClassifyError(err) {
	case rcon.SeverityWarning:
		r.warning = err
	case rcon.SeverityRecoverable:
		r.err = err
	case rcon.SeverityFatal:
		r.fatal = err
		r.quit = true
	}
	return r
}

// diagnostics renders the warning and error of r, if any.
func (sh *shell) diagnostics(r result) []string {
	var ds []string
	if r.warning != nil {
		ds = append(ds, sh.styles.warning(r.warning.Error()))
	}
	if r.err != nil {
		ds = append(ds, sh.styles.error(r.err.Error()))
	}
	return ds
}

// step runs line and writes what it produced. It reports whether the loop should end, with an
// error when it ended because the session failed.
func (sh *shell) step(ctx context.Context, line string) (bool, error) {
	r := sh.runLine(ctx, line)
	if r.output != "" {
		fmt.Fprintln(sh.out, strings.TrimRight(r.output, "\n"))
	}
	for _, d := range sh.diagnostics(r) {
		fmt.Fprintln(sh.errOut, d)
	}
	if r.fatal != nil {
		return true, &exitError{code: exUnavailable, err: r.fatal}
	}
	return r.quit, nil
}

// batch runs each command in order, as if typed.
func (sh *shell) batch(ctx context.Context, cmds []string) error {
	for _, c := range cmds {
		if done, err := sh.step(ctx, c); done {
			return err
		}
	}
	return nil
}

// readLines runs each line of r until end of input.
func (sh *shell) readLines(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	for sc.Scan() {
		if done, err := sh.step(ctx, sc.Text()); done {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
