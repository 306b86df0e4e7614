// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/forkbombeu/avdrun/internal/avd"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

func renderSummary(results []deviceResult) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Device summary") + "\n")
	failed := 0
	for _, r := range results {
		serial := r.Serial
		if serial == "" {
			serial = "-"
		}
		detail := subtleStyle.Render(fmt.Sprintf("%s  %s", serial, r.Duration.Round(time.Second)))
		if r.Err == nil {
			fmt.Fprintf(&b, "%s %s  %s\n", successStyle.Render("✓"), r.Device, detail)
			continue
		}
		failed++
		stage := "setup"
		if s, ok := avd.FailedStage(r.Err); ok {
			stage = string(s)
		}
		fmt.Fprintf(&b, "%s %s  %s\n", errorStyle.Render("✗"), r.Device, detail)
		fmt.Fprintf(&b, "    %s %s\n", errorStyle.Render(stage+":"), firstLine(r.Err.Error()))
	}
	b.WriteString(subtleStyle.Render(strings.Repeat("─", 60)) + "\n")
	fmt.Fprintf(&b, "%d passed, %d failed\n", len(results)-failed, failed)
	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
