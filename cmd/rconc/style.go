// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

const prompt = "» "

type styles struct {
	prompt  lipgloss.Style
	cursor  lipgloss.Style
	errTag  lipgloss.Style
	warnTag lipgloss.Style
}

// newStyles binds the console styles to w, so that colors are only emitted when w supports them.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		prompt:  r.NewStyle().Bold(true),
		cursor:  r.NewStyle().Reverse(true),
		errTag:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		warnTag: r.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
	}
}

func (s styles) error(msg string) string {
	return s.errTag.Render("error") + ": " + msg
}

func (s styles) warning(msg string) string {
	return s.warnTag.Render("warning") + ": " + msg
}
