// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// resultMsg carries the outcome of a submitted line back to the editor.
type resultMsg result

// lineEditor is the interactive prompt: a single editable line with in-memory history. Submitted
// lines run one at a time; input is ignored until the previous line has completed.
type lineEditor struct {
	ctx   context.Context
	shell *shell

	line   []rune
	cursor int

	history []string
	// recall indexes history while browsing it, and equals len(history) on a new line.
	recall int
	draft  []rune

	busy     bool
	quitting bool
	fatal    error
}

func newLineEditor(ctx context.Context, sh *shell) lineEditor {
	return lineEditor{ctx: ctx, shell: sh}
}

func (m lineEditor) Init() tea.Cmd {
	return nil
}

func (m lineEditor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}
		if m.busy {
			return m, nil
		}
		return m.key(msg)

	case resultMsg:
		m.busy = false
		r := result(msg)

		var cmds []tea.Cmd
		if r.output != "" {
			cmds = append(cmds, tea.Println(strings.TrimRight(r.output, "\n")))
		}
		for _, d := range m.shell.diagnostics(r) {
			cmds = append(cmds, tea.Println(d))
		}
		if r.quit {
			m.quitting = true
			m.fatal = r.fatal
			cmds = append(cmds, tea.Quit)
		}
		return m, tea.Sequence(cmds...)
	}
	return m, nil
}

func (m lineEditor) key(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		return m.submit()
	case tea.KeyCtrlD:
		if len(m.line) == 0 {
			m.quitting = true
			return m, tea.Quit
		}
		m.deleteForward()
	case tea.KeyRunes, tea.KeySpace:
		m.insert(msg.Runes)
	case tea.KeyBackspace, tea.KeyCtrlH:
		if m.cursor > 0 {
			m.line = slices.Delete(m.line, m.cursor-1, m.cursor)
			m.cursor--
		}
	case tea.KeyDelete:
		m.deleteForward()
	case tea.KeyLeft, tea.KeyCtrlB:
		if m.cursor > 0 {
			m.cursor--
		}
	case tea.KeyRight, tea.KeyCtrlF:
		if m.cursor < len(m.line) {
			m.cursor++
		}
	case tea.KeyHome, tea.KeyCtrlA:
		m.cursor = 0
	case tea.KeyEnd, tea.KeyCtrlE:
		m.cursor = len(m.line)
	case tea.KeyCtrlU:
		m.line = slices.Delete(m.line, 0, m.cursor)
		m.cursor = 0
	case tea.KeyCtrlK:
		m.line = m.line[:m.cursor]
	case tea.KeyUp, tea.KeyCtrlP:
		m.previous()
	case tea.KeyDown, tea.KeyCtrlN:
		m.next()
	}
	return m, nil
}

// submit echoes the current line above the prompt and runs it.
func (m lineEditor) submit() (tea.Model, tea.Cmd) {
	line := string(m.line)
	echo := tea.Println(m.shell.styles.prompt.Render(prompt) + line)

	m.line = nil
	m.cursor = 0
	m.draft = nil
	if strings.TrimSpace(line) != "" && (len(m.history) == 0 || m.history[len(m.history)-1] != line) {
		m.history = append(m.history, line)
	}
	m.recall = len(m.history)

	if strings.TrimSpace(line) == "" {
		return m, echo
	}
	m.busy = true
	return m, tea.Sequence(echo, m.run(line))
}

// run executes line off the update loop.
func (m lineEditor) run(line string) tea.Cmd {
	ctx, sh := m.ctx, m.shell
	return func() tea.Msg {
		return resultMsg(sh.runLine(ctx, line))
	}
}

func (m *lineEditor) insert(rs []rune) {
	m.line = slices.Insert(m.line, m.cursor, rs...)
	m.cursor += len(rs)
}

func (m *lineEditor) deleteForward() {
	if m.cursor < len(m.line) {
		m.line = slices.Delete(m.line, m.cursor, m.cursor+1)
	}
}

func (m *lineEditor) previous() {
	if m.recall == 0 {
		return
	}
	if m.recall == len(m.history) {
		m.draft = slices.Clone(m.line)
	}
	m.recall--
	m.line = []rune(m.history[m.recall])
	m.cursor = len(m.line)
}

func (m *lineEditor) next() {
	if m.recall >= len(m.history) {
		return
	}
	m.recall++
	if m.recall == len(m.history) {
		m.line = m.draft
		m.draft = nil
	} else {
		m.line = []rune(m.history[m.recall])
	}
	m.cursor = len(m.line)
}

func (m lineEditor) View() string {
	if m.busy || m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.shell.styles.prompt.Render(prompt))
	b.WriteString(string(m.line[:m.cursor]))
	if m.cursor < len(m.line) {
		b.WriteString(m.shell.styles.cursor.Render(string(m.line[m.cursor])))
		b.WriteString(string(m.line[m.cursor+1:]))
	} else {
		b.WriteString(m.shell.styles.cursor.Render(" "))
	}
	return b.String()
}

// interactive runs the line editor on a terminal until the user quits or the session fails.
// Warnings and errors are printed above the prompt on the terminal output with the responses,
// unlike batch and piped input where they go to errOut.
func (sh *shell) interactive(ctx context.Context, in io.Reader) error {
	p := tea.NewProgram(
		newLineEditor(ctx, sh),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(sh.out),
	)
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	if m, ok := final.(lineEditor); ok && m.fatal != nil {
		return &exitError{code: exUnavailable, err: m.fatal}
	}
	return nil
}
