// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

// Command rconc is an interactive console for game servers that speak the Source RCON protocol.
//
// Usage:
//
//	rconc [-H host] [-p port] [-P password] [--config file] [-c command]...
//
// Without -c, rconc reads commands from standard input until "quit", "exit" or end of input. The
// "stop" command is sent to the server and then ends the session.
package main

import (
	"context"
	"os"
)

func main() {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	os.Exit(a.execute(context.Background(), os.Args[1:]))
}
