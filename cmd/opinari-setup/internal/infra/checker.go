// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package infra performs environment checks and repairs for the setup wizard:
runtime binary discovery and installation, network reachability, disk space
pre-flight and analytics environment readiness.

# Problem Statement

Desktop installs land on machines in every state: Ollama installed via brew
but not on PATH, installed in ~/.local/bin, not installed at all, network
behind a captive portal, disk nearly full. The wizard must diagnose each of
these precisely and, where safe, repair them itself instead of printing a
generic "setup failed".

# Solution

DefaultSystemChecker resolves the runtime binary across PATH plus the known
per-platform install locations (cached after first hit), installs it with
the platform mechanism when allowed (brew on macOS, the official install
script on Linux), probes network reachability with bounded retries, and
checks free disk space before any multi-gigabyte download.

# Usage

	checker := infra.NewSystemChecker()
	if !checker.RuntimeInstalled() {
	    if err := checker.InstallRuntime(ctx); err != nil { ... }
	}
	if err := checker.CheckDiskSpace(checker.ModelStoragePath(), 5<<30); err != nil { ... }

# Related Files

  - report.go — RunDiagnostics aggregates these checks into a printable
    DiagnosticReport.
  - environment.go — analytics runtime readiness.

# Environment Variables

  - OPINARI_MODELS_DIR: overrides the model storage path.
  - OPINARI_NETWORK_TIMEOUT: per-attempt network probe timeout (e.g. "5s").
  - OPINARI_NETWORK_RETRIES: network probe attempts (default 3).
*/
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"
)

const (
	defaultNetworkTimeout = 5 * time.Second
	defaultNetworkRetries = 3

	// networkProbeURL must answer plain HTTP HEAD without auth. The model
	// registry is the natural choice since downloads go there anyway.
	networkProbeURL = "https://ollama.com"
)

// runtimeSearchPaths lists where the Ollama binary lands outside PATH,
// keyed by GOOS.
var runtimeSearchPaths = map[string][]string{
	"darwin": {
		"/usr/local/bin/ollama",
		"/opt/homebrew/bin/ollama",
		"/Applications/Ollama.app/Contents/Resources/ollama",
	},
	"linux": {
		"/usr/local/bin/ollama",
		"/usr/bin/ollama",
	},
	"windows": {
		`C:\Program Files\Ollama\ollama.exe`,
	},
}

// SystemChecker is the environment check surface consumed by the wizard and
// the diagnose command.
type SystemChecker interface {
	// RuntimeInstalled reports whether the Ollama binary can be found.
	RuntimeInstalled() bool

	// RuntimePath returns the resolved binary path.
	RuntimePath() (string, error)

	// CanInstallRuntime reports whether this platform supports unattended
	// installation.
	CanInstallRuntime() bool

	// InstallRuntime installs the runtime with the platform mechanism.
	InstallRuntime(ctx context.Context) error

	// InstallInstructions returns manual install steps for this platform.
	InstallInstructions() string

	// StartServer launches `ollama serve` detached if the binary exists.
	StartServer(ctx context.Context) error

	// CheckNetwork probes outbound reachability with bounded retries.
	CheckNetwork(ctx context.Context) error

	// CheckDiskSpace fails when path's filesystem has less than required
	// bytes free.
	CheckDiskSpace(path string, required int64) error

	// AvailableDiskSpace returns free bytes on path's filesystem.
	AvailableDiskSpace(path string) (int64, error)

	// ModelStoragePath returns where the runtime stores models.
	ModelStoragePath() string
}

// DefaultSystemChecker is the production SystemChecker.
type DefaultSystemChecker struct {
	goos       string
	lookPath   func(file string) (string, error)
	statFile   func(name string) (os.FileInfo, error)
	runCommand func(ctx context.Context, name string, args ...string) error
	startCmd   func(name string, args ...string) error
	httpClient *http.Client

	mu         sync.Mutex
	cachedPath string
	pathKnown  bool
}

// NewSystemChecker creates a checker bound to the real platform.
func NewSystemChecker() *DefaultSystemChecker {
	return &DefaultSystemChecker{
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		statFile: os.Stat,
		runCommand: func(ctx context.Context, name string, args ...string) error {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Stdout = os.Stderr
			cmd.Stderr = os.Stderr
			return cmd.Run()
		},
		startCmd: func(name string, args ...string) error {
			cmd := exec.Command(name, args...)
			if err := cmd.Start(); err != nil {
				return err
			}
			// Detach: the server outlives the wizard.
			return cmd.Process.Release()
		},
		httpClient: &http.Client{},
	}
}

// ---- Runtime discovery ----

// RuntimeInstalled reports whether the binary resolves anywhere we know to
// look.
func (c *DefaultSystemChecker) RuntimeInstalled() bool {
	_, err := c.RuntimePath()
	return err == nil
}

// RuntimePath resolves the binary via PATH, then the per-platform
// locations. The result (including a miss) is cached; Invalidate clears it
// after an install.
func (c *DefaultSystemChecker) RuntimePath() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pathKnown {
		if c.cachedPath == "" {
			return "", c.missingErr()
		}
		return c.cachedPath, nil
	}

	c.pathKnown = true
	if p, err := c.lookPath("ollama"); err == nil {
		c.cachedPath = p
		return p, nil
	}
	for _, candidate := range runtimeSearchPaths[c.goos] {
		if info, err := c.statFile(candidate); err == nil && !info.IsDir() {
			c.cachedPath = candidate
			slog.Debug("runtime found outside PATH", "path", candidate)
			return candidate, nil
		}
	}
	return "", c.missingErr()
}

// Invalidate clears the cached binary resolution.
func (c *DefaultSystemChecker) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pathKnown = false
	c.cachedPath = ""
}

func (c *DefaultSystemChecker) missingErr() *CheckError {
	return &CheckError{
		Type:        CheckErrRuntimeMissing,
		Message:     "Ollama runtime not found",
		Remediation: c.InstallInstructions(),
	}
}

// ---- Installation ----

// CanInstallRuntime reports whether unattended install is supported: brew
// on macOS, the official script on Linux. Windows users download the
// installer themselves.
func (c *DefaultSystemChecker) CanInstallRuntime() bool {
	switch c.goos {
	case "darwin":
		_, err := c.lookPath("brew")
		return err == nil
	case "linux":
		_, err := c.lookPath("sh")
		return err == nil
	default:
		return false
	}
}

// InstallRuntime performs the unattended install and invalidates the path
// cache so the new binary resolves.
func (c *DefaultSystemChecker) InstallRuntime(ctx context.Context) error {
	var err error
	switch c.goos {
	case "darwin":
		err = c.runCommand(ctx, "brew", "install", "ollama")
	case "linux":
		err = c.runCommand(ctx, "sh", "-c", "curl -fsSL https://ollama.com/install.sh | sh")
	default:
		return &CheckError{
			Type:        CheckErrRuntimeInstall,
			Message:     "unattended install is not supported on " + c.goos,
			Remediation: c.InstallInstructions(),
		}
	}
	if err != nil {
		return &CheckError{
			Type:        CheckErrRuntimeInstall,
			Message:     "runtime installation failed",
			Detail:      err.Error(),
			Remediation: c.InstallInstructions(),
			Err:         err,
		}
	}

	c.Invalidate()
	slog.Info("runtime installed", "platform", c.goos)
	return nil
}

// InstallInstructions returns manual install steps for this platform.
func (c *DefaultSystemChecker) InstallInstructions() string {
	switch c.goos {
	case "darwin":
		return "Install Ollama with 'brew install ollama' or from https://ollama.com/download/mac"
	case "linux":
		return "Install Ollama with 'curl -fsSL https://ollama.com/install.sh | sh'"
	case "windows":
		return "Download and run the installer from https://ollama.com/download/windows"
	default:
		return "Download Ollama from https://ollama.com/download"
	}
}

// StartServer launches `ollama serve` detached. Callers poll the version
// endpoint afterwards to confirm it came up.
func (c *DefaultSystemChecker) StartServer(ctx context.Context) error {
	path, err := c.RuntimePath()
	if err != nil {
		return err
	}
	if err := c.startCmd(path, "serve"); err != nil {
		return &CheckError{
			Type:        CheckErrRuntimeInstall,
			Message:     "could not start the Ollama server",
			Detail:      err.Error(),
			Remediation: "run 'ollama serve' in a terminal and retry setup",
			Err:         err,
		}
	}
	slog.Debug("runtime server started", "path", path)
	return nil
}

// ---- Network ----

// CheckNetwork probes outbound reachability with retries. Any HTTP status
// counts as reachable; only transport failures mean offline.
func (c *DefaultSystemChecker) CheckNetwork(ctx context.Context) error {
	timeout := defaultNetworkTimeout
	if v := os.Getenv("OPINARI_NETWORK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			timeout = d
		}
	}
	retries := defaultNetworkRetries
	if v := os.Getenv("OPINARI_NETWORK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			retries = n
		}
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodHead, networkProbeURL, nil)
		if err == nil {
			var resp *http.Response
			resp, err = c.httpClient.Do(req)
			if err == nil {
				resp.Body.Close()
				cancel()
				return nil
			}
		}
		cancel()
		lastErr = err
		slog.Debug("network probe failed", "attempt", attempt, "error", err)

		if ctx.Err() != nil {
			break
		}
		if attempt < retries {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
	}

	return &CheckError{
		Type:        CheckErrNetwork,
		Message:     "no network connectivity",
		Detail:      fmt.Sprintf("%d probe attempts failed: %v", retries, lastErr),
		Remediation: "check your internet connection; setup can continue offline if everything is already downloaded",
		Err:         lastErr,
	}
}

// ---- Disk ----

// CheckDiskSpace fails with a CheckError when fewer than required bytes are
// free on path's filesystem.
func (c *DefaultSystemChecker) CheckDiskSpace(path string, required int64) error {
	avail, err := c.AvailableDiskSpace(path)
	if err != nil {
		// Unknowable free space (unsupported platform, vanished mount) is
		// not a hard failure; the download itself will surface ENOSPC.
		slog.Debug("disk space check unavailable", "path", path, "error", err)
		return nil
	}
	if avail < required {
		return &CheckError{
			Type:    CheckErrDiskSpace,
			Message: "not enough disk space",
			Detail: fmt.Sprintf("need %.1fGB, %.1fGB available at %s",
				float64(required)/(1<<30), float64(avail)/(1<<30), path),
			Remediation: "free up disk space or choose a smaller model",
		}
	}
	return nil
}

// AvailableDiskSpace returns free bytes on path's filesystem. Implemented
// per-platform in disk_unix.go / disk_windows.go.
func (c *DefaultSystemChecker) AvailableDiskSpace(path string) (int64, error) {
	// Walk up to the nearest existing ancestor so pre-flight works before
	// the target directory is created.
	for {
		if _, err := c.statFile(path); err == nil {
			break
		}
		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}
	return availableDiskSpace(path)
}

// ModelStoragePath returns where the runtime stores models, honoring the
// override environment variable.
func (c *DefaultSystemChecker) ModelStoragePath() string {
	if dir := os.Getenv("OPINARI_MODELS_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ollama/models"
	}
	return filepath.Join(home, ".ollama", "models")
}
