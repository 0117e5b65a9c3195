// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the setup CLI. Styling
// degrades to plain text when stdout is not a terminal, so logs captured by
// the desktop app stay readable.
package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Opinari color palette - warm berry tones with a cool accent
var (
	ColorBerry    = lipgloss.Color("#C2418A") // Primary berry - brand color
	ColorBerrySft = lipgloss.Color("#D981B5") // Soft berry - secondary elements
	ColorPlum     = lipgloss.Color("#6C3BAA") // Plum - titles, highlights
	ColorSky      = lipgloss.Color("#4FA3D1") // Sky - interactive elements

	// Semantic colors
	ColorSuccess = lipgloss.Color("#3DBF7F") // Green for success
	ColorWarning = lipgloss.Color("#F4B63F") // Amber for warnings
	ColorError   = lipgloss.Color("#E05252") // Red for errors
	ColorMuted   = lipgloss.Color("#6B7280") // Gray for muted text
)

// plainOutput disables styling when stdout is a pipe.
var plainOutput = !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorPlum),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorBerrySft),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorBerry).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBerry).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	if plainOutput {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Title prints a styled title
func Title(text string) {
	if plainOutput {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	if plainOutput {
		fmt.Printf("OK: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func Warning(text string) {
	if plainOutput {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func Error(text string) {
	if plainOutput {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational message
func Info(text string) {
	if plainOutput {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints muted/secondary text
func Muted(text string) {
	if plainOutput {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// Detail prints an indented multi-line block, used for error detail and
// remediation text.
func Detail(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		Muted("  " + line)
	}
}

// Box prints content in a rounded box with a title line
func Box(title, content string) {
	if plainOutput {
		fmt.Printf("%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(60)
	titleLine := Styles.Title.Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// ErrorBox prints content in an error-styled box
func ErrorBox(title, content string) {
	if plainOutput {
		fmt.Fprintf(os.Stderr, "ERROR %s: %s\n", title, content)
		return
	}
	boxStyle := Styles.ErrorBox.Width(60)
	titleLine := Styles.Error.Bold(true).Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// ProgressBar renders a single-line progress bar for percent 0-100
func ProgressBar(percent int, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	if plainOutput {
		return fmt.Sprintf("%d%%", percent)
	}
	bar := Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3d%%", bar, percent)
}
