// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/schultz-is/rcon"
)

type reply struct {
	out string
	err error
}

// fakeSession answers commands from a fixed table and records what it was asked.
type fakeSession struct {
	replies  map[string]reply
	authErr  error
	password string
	commands []string
	closes   int
}

func (f *fakeSession) Authenticate(_ context.Context, password string) error {
	f.password = password
	return f.authErr
}

func (f *fakeSession) RunCommand(_ context.Context, cmd string) (string, error) {
	f.commands = append(f.commands, cmd)
	r := f.replies[cmd]
	return r.out, r.err
}

func (f *fakeSession) Close() error {
	f.closes++
	return nil
}

// dialRecord captures the arguments a console run opened its session with.
type dialRecord struct {
	calls int
	host  string
	port  string
	cfg   rcon.SessionConfig
}

// newTestApp returns an app reading from in, with its output buffers, that opens sess.
func newTestApp(in io.Reader, sess *fakeSession, env map[string]string) (*app, *bytes.Buffer, *bytes.Buffer, *dialRecord) {
	var out, errOut bytes.Buffer
	a := newApp(in, &out, &errOut)
	a.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	a.isTerminal = func() bool { return false }

	rec := &dialRecord{}
	a.open = func(_ context.Context, host, port string, cfg rcon.SessionConfig) (remoteSession, error) {
		rec.calls++
		rec.host, rec.port, rec.cfg = host, port, cfg
		return sess, nil
	}
	return a, &out, &errOut, rec
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %s", path, err)
	}
	return path
}

func newTestShell(sess session) (*shell, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &shell{session: sess, out: &out, errOut: &errOut, styles: newStyles(&errOut)}, &out, &errOut
}
