// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/schultz-is/rcon"
)

// Exit statuses, from sysexits.h.
const (
	exUsage       = 64
	exNoHost      = 68
	exUnavailable = 69
	exIOErr       = 74
	exConfig      = 78
)

// exitError ends the process with a specific status.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// remoteSession is a connected but not yet authenticated session.
type remoteSession interface {
	session
	Authenticate(ctx context.Context, password string) error
	Close() error
}

// app holds the process environment of a console run.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	lookupEnv  func(string) (string, bool)
	open       func(ctx context.Context, host, port string, cfg rcon.SessionConfig) (remoteSession, error)
	isTerminal func() bool
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:         in,
		out:        out,
		errOut:     errOut,
		lookupEnv:  os.LookupEnv,
		open:       openSession,
		isTerminal: func() bool { return isTerminal(in) && isTerminal(out) },
	}
}

func openSession(ctx context.Context, host, port string, cfg rcon.SessionConfig) (remoteSession, error) {
	s, err := rcon.Open(ctx, host, port, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func isTerminal(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// flags holds the raw command line values. Only flags that were set override other sources.
type flags struct {
	config     string
	host       string
	port       string
	password   string
	logLevel   string
	maxPayload int
	timeout    time.Duration
	commands   []string
}

func (a *app) command() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "rconc",
		Short: "Interactive console for Source RCON servers",
		Long: `rconc connects to a game server over the Source RCON protocol, authenticates, and
sends each line of input as a command, printing the server's response.

Type "quit" or "exit" to leave. "stop" is sent to the server and then ends the session.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, &f)
		},
	}
	cmd.SetIn(a.in)
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)

	fs := cmd.Flags()
	fs.StringVarP(&f.host, "host", "H", "", `server host name or address (default "localhost")`)
	fs.StringVarP(&f.port, "port", "p", "", `server port (default "25575")`)
	fs.StringVarP(&f.password, "password", "P", "", "server password, also read from "+envPassword)
	fs.StringVar(&f.config, "config", "", "config file (.toml, .yaml or .yml)")
	fs.StringVar(&f.logLevel, "log-level", "", `log level: trace, debug, info, warn, error (default "warn")`)
	fs.IntVar(&f.maxPayload, "max-payload", 0, "largest command or response body in bytes (default 4096)")
	fs.DurationVar(&f.timeout, "timeout", 0, "limit for each network read or write (default 5s)")
	fs.StringArrayVarP(&f.commands, "command", "c", nil, "run `command` and exit instead of reading input, may be repeated")

	return cmd
}

// execute runs the console with args and returns the process exit status.
func (a *app) execute(ctx context.Context, args []string) int {
	if args == nil {
		// cobra falls back to os.Args when given nil.
		args = []string{}
	}
	cmd := a.command()
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	st := newStyles(a.errOut)
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintln(a.errOut, st.error(ee.Error()))
		return ee.code
	}
	fmt.Fprintln(a.errOut, st.error(err.Error()))
	fmt.Fprint(a.errOut, cmd.UsageString())
	return exUsage
}

// resolve layers flags over the environment, the config file and the defaults.
func (a *app) resolve(cmd *cobra.Command, f *flags) (settings, error) {
	s := defaultSettings()
	if f.config != "" {
		if err := s.loadFile(f.config); err != nil {
			return settings{}, &exitError{code: exConfig, err: err}
		}
	}
	s.loadEnv(a.lookupEnv)

	changed := cmd.Flags().Changed
	if changed("host") {
		s.Host = f.host
		s.supplied["host"] = true
	}
	if changed("port") {
		s.Port = f.port
		s.supplied["port"] = true
	}
	if changed("password") {
		s.Password = f.password
		s.supplied["password"] = true
	}
	if changed("log-level") {
		s.LogLevel = f.logLevel
		s.supplied["log_level"] = true
	}
	if changed("max-payload") {
		s.MaxPayload = f.maxPayload
		s.supplied["max_payload"] = true
	}
	if changed("timeout") {
		s.Timeout = f.timeout
		s.supplied["timeout"] = true
	}

	if err := s.validate(); err != nil {
		return settings{}, &exitError{code: exUsage, err: err}
	}
	return s, nil
}

func (a *app) run(cmd *cobra.Command, f *flags) error {
	s, err := a.resolve(cmd, f)
	if err != nil {
		return err
	}

	st := newStyles(a.errOut)
	for _, w := range s.defaulted() {
		fmt.Fprintln(a.errOut, st.warning(w))
	}

	logger := newLogger(a.errOut, s.LogLevel, isTerminal(a.errOut))
	ctx := cmd.Context()

	sess, err := a.open(ctx, s.Host, s.Port, s.sessionConfig(&logger))
	if err != nil {
		return &exitError{code: exNoHost, err: fmt.Errorf("connection failed: %w", err)}
	}
	defer sess.Close()

	if err := sess.Authenticate(ctx, s.Password); err != nil {
		if errors.Is(err, rcon.ErrAuth) {
			return &exitError{code: exUnavailable, err: errors.New("login failed")}
		}
		return &exitError{code: exUnavailable, err: fmt.Errorf("login failed: %w", err)}
	}

	sh := &shell{session: sess, out: a.out, errOut: a.errOut, styles: st}
	switch {
	case len(f.commands) > 0:
		err = sh.batch(ctx, f.commands)
	case a.isTerminal():
		err = sh.interactive(ctx, a.in)
	default:
		err = sh.readLines(ctx, a.in)
	}

	var ee *exitError
	if err != nil && !errors.As(err, &ee) {
		return &exitError{code: exIOErr, err: err}
	}
	return err
}
