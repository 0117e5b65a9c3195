// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package infra

import (
	"context"
	"os"
	"path/filepath"
)

// readyMarker is written by the desktop installer once the bundled
// analytics runtime has been unpacked and verified.
const readyMarker = ".env-ready"

// EnvironmentChecker reports whether the bundled analytics runtime the
// desktop app ships (interpreter, pipeline code) is usable. The wizard
// consumes this; it does not own the runtime.
type EnvironmentChecker interface {
	// EnvironmentReady reports whether the analytics runtime is unpacked
	// and verified.
	EnvironmentReady() bool

	// PrepareEnvironment attempts to finish an incomplete unpack. Failure
	// is fatal for setup: the app cannot run without its runtime.
	PrepareEnvironment(ctx context.Context) error
}

// DefaultEnvironmentChecker checks the installer's ready marker inside the
// runtime directory.
type DefaultEnvironmentChecker struct {
	// EnvDir is the analytics runtime root. Empty means the standard
	// location under the user config dir.
	EnvDir string
}

func (c *DefaultEnvironmentChecker) envDir() string {
	if c.EnvDir != "" {
		return c.EnvDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".opinari", "env")
	}
	return filepath.Join(home, ".opinari", "env")
}

// EnvironmentReady reports whether the ready marker exists.
func (c *DefaultEnvironmentChecker) EnvironmentReady() bool {
	_, err := os.Stat(filepath.Join(c.envDir(), readyMarker))
	return err == nil
}

// PrepareEnvironment re-checks readiness and surfaces a reinstall
// remediation when the runtime is broken. Unpacking is the installer's job;
// the wizard cannot repair a half-written runtime itself.
func (c *DefaultEnvironmentChecker) PrepareEnvironment(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.EnvironmentReady() {
		return nil
	}
	return &CheckError{
		Type:        CheckErrEnvironment,
		Message:     "analytics runtime is missing or incomplete",
		Detail:      "expected " + filepath.Join(c.envDir(), readyMarker),
		Remediation: "reinstall the application; the installer unpacks the analytics runtime",
	}
}
