// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package infra

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DiagnosticReport is the aggregated result of every environment check,
// rendered by the diagnose command.
type DiagnosticReport struct {
	GeneratedAt time.Time

	RuntimeInstalled bool
	RuntimePath      string
	ServerReachable  bool
	ServerVersion    string

	InstalledModels []string

	NetworkOK     bool
	NetworkDetail string

	ModelStoragePath string
	DiskFreeGB       float64

	EnvironmentReady bool
}

// healthMark renders the pass/fail glyph.
func healthMark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

// String renders the report for terminal output.
func (r *DiagnosticReport) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Setup Diagnostics (%s)\n", r.GeneratedAt.Format(time.RFC3339))
	b.WriteString(strings.Repeat("-", 50) + "\n")

	fmt.Fprintf(&b, "%s Runtime installed", healthMark(r.RuntimeInstalled))
	if r.RuntimePath != "" {
		fmt.Fprintf(&b, " (%s)", r.RuntimePath)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s Runtime server reachable", healthMark(r.ServerReachable))
	if r.ServerVersion != "" {
		fmt.Fprintf(&b, " (v%s)", r.ServerVersion)
	}
	b.WriteString("\n")

	if len(r.InstalledModels) > 0 {
		fmt.Fprintf(&b, "  Installed models: %s\n", strings.Join(r.InstalledModels, ", "))
	}

	fmt.Fprintf(&b, "%s Network connectivity", healthMark(r.NetworkOK))
	if r.NetworkDetail != "" {
		fmt.Fprintf(&b, " (%s)", r.NetworkDetail)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "  Model storage: %s (%.1fGB free)\n", r.ModelStoragePath, r.DiskFreeGB)
	fmt.Fprintf(&b, "%s Analytics environment ready\n", healthMark(r.EnvironmentReady))

	return b.String()
}

// VersionProber is the slice of the Ollama client the report needs.
type VersionProber interface {
	Version(ctx context.Context) (string, error)
	ListModelNames(ctx context.Context) ([]string, error)
}

// RunDiagnostics executes every check and returns the report. Individual
// check failures are recorded, never propagated; the report always renders.
func RunDiagnostics(ctx context.Context, checker SystemChecker, env EnvironmentChecker, prober VersionProber) *DiagnosticReport {
	r := &DiagnosticReport{GeneratedAt: time.Now()}

	r.RuntimeInstalled = checker.RuntimeInstalled()
	if p, err := checker.RuntimePath(); err == nil {
		r.RuntimePath = p
	}

	if prober != nil {
		if v, err := prober.Version(ctx); err == nil {
			r.ServerReachable = true
			r.ServerVersion = v
		}
		if names, err := prober.ListModelNames(ctx); err == nil {
			r.InstalledModels = names
		}
	}

	if err := checker.CheckNetwork(ctx); err != nil {
		r.NetworkDetail = err.Error()
	} else {
		r.NetworkOK = true
	}

	r.ModelStoragePath = checker.ModelStoragePath()
	if free, err := checker.AvailableDiskSpace(r.ModelStoragePath); err == nil {
		r.DiskFreeGB = float64(free) / (1 << 30)
	}

	if env != nil {
		r.EnvironmentReady = env.EnvironmentReady()
	}

	return r
}
