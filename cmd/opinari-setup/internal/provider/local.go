// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/infra"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/ollama"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/progress"
)

// Unified progress scale for local setup: the software phase (install the
// runtime, start the server) owns 0-40, the model pull owns 40-100.
const (
	softwarePhaseEnd = 40
	modelPhaseSpan   = 100 - softwarePhaseEnd
)

// serverStartTimeout bounds how long we wait for a freshly launched server
// to answer its version endpoint.
const serverStartTimeout = 30 * time.Second

// defaultDiskLimit is the free-space floor checked before a pull.
const defaultDiskLimit int64 = 5 << 30

// LocalRuntimeInstaller installs the Ollama runtime and pulls the chosen
// model, reporting both phases on one 0-100 scale.
type LocalRuntimeInstaller struct {
	checker infra.SystemChecker
	client  ollama.ModelManager

	// DiskLimit overrides the free-space floor for the pull pre-flight.
	// Zero means defaultDiskLimit.
	DiskLimit int64

	// waitTick is the server liveness poll interval, shortened in tests.
	waitTick time.Duration
}

// NewLocalRuntimeInstaller wires the production dependencies.
func NewLocalRuntimeInstaller(checker infra.SystemChecker, client ollama.ModelManager) *LocalRuntimeInstaller {
	return &LocalRuntimeInstaller{
		checker:  checker,
		client:   client,
		waitTick: time.Second,
	}
}

// IsSatisfied reports whether the runtime answers and the model is present.
// A dead server means not satisfied, never an error: Install can repair
// that.
func (l *LocalRuntimeInstaller) IsSatisfied(ctx context.Context, choice Choice) (bool, error) {
	if !l.checker.RuntimeInstalled() {
		return false, nil
	}
	if _, err := l.client.Version(ctx); err != nil {
		return false, nil
	}
	has, err := l.client.HasModel(ctx, choice.ModelID)
	if err != nil {
		return false, err
	}
	return has, nil
}

// Install runs the check-install-check-pull ladder:
//
//  1. runtime binary present? install it if not (0-25)
//  2. server answering? start it if not (25-40)
//  3. model present? pull it if not (40-100)
//
// Each rung is skipped when already satisfied, so a re-run after a failed
// pull does not reinstall the runtime. A fully satisfied target publishes
// only the terminal complete event.
func (l *LocalRuntimeInstaller) Install(ctx context.Context, choice Choice, sink progress.Sink) error {
	satisfied, err := l.IsSatisfied(ctx, choice)
	if err == nil && satisfied {
		slog.Info("local provider already satisfied", "model", choice.ModelID)
		publishDone(sink, "Local provider ready")
		return nil
	}

	if !l.checker.RuntimeInstalled() {
		publish(sink, progress.StageInstallingRuntime, 0, "Installing Ollama runtime")
		if !l.checker.CanInstallRuntime() {
			err := &infra.CheckError{
				Type:        infra.CheckErrRuntimeInstall,
				Message:     "Ollama must be installed manually on this platform",
				Remediation: l.checker.InstallInstructions(),
			}
			publishFail(sink, err.Message, err.FullError())
			return err
		}
		if err := l.checker.InstallRuntime(ctx); err != nil {
			publishFail(sink, "Runtime installation failed", fullError(err))
			return err
		}
		publish(sink, progress.StageInstallingRuntime, 25, "Runtime installed")
	}

	if _, err := l.client.Version(ctx); err != nil {
		publish(sink, progress.StageInstallingRuntime, 30, "Starting Ollama server")
		if err := l.ensureServer(ctx); err != nil {
			publishFail(sink, "Ollama server did not start", fullError(err))
			return err
		}
		publish(sink, progress.StageInstallingRuntime, softwarePhaseEnd, "Runtime ready")
	}

	has, err := l.client.HasModel(ctx, choice.ModelID)
	if err != nil {
		publishFail(sink, "Could not query installed models", fullError(err))
		return err
	}
	if !has {
		if err := l.preflightDisk(ctx, choice.ModelID); err != nil {
			publishFail(sink, "Not enough disk space for the model", fullError(err))
			return err
		}

		publish(sink, progress.StagePullingModel, softwarePhaseEnd, "Pulling "+choice.ModelID)
		err := l.client.PullModel(ctx, choice.ModelID, func(p ollama.PullProgress) {
			pct := softwarePhaseEnd + p.Percent()*modelPhaseSpan/100
			publish(sink, progress.StagePullingModel, pct, p.Status)
		})
		if err != nil {
			publishFail(sink, "Model pull failed", fullError(err))
			return err
		}
	}

	publishDone(sink, "Local provider ready")
	return nil
}

// ensureServer starts the server and polls the version endpoint until it
// answers or the timeout expires.
func (l *LocalRuntimeInstaller) ensureServer(ctx context.Context) error {
	if err := l.checker.StartServer(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(serverStartTimeout)
	tick := l.waitTick
	if tick <= 0 {
		tick = time.Second
	}
	for {
		if _, err := l.client.Version(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return &infra.CheckError{
				Type:        infra.CheckErrRuntimeInstall,
				Message:     "Ollama server did not become ready",
				Remediation: "run 'ollama serve' in a terminal and retry setup",
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tick):
		}
	}
}

// preflightDisk checks free space against the model's size (or the
// conservative estimate for unknown models) plus the configured floor.
func (l *LocalRuntimeInstaller) preflightDisk(ctx context.Context, modelID string) error {
	limit := l.DiskLimit
	if limit <= 0 {
		limit = defaultDiskLimit
	}
	size, err := l.client.ModelSize(ctx, modelID)
	if err != nil {
		size = 0
	}
	return l.checker.CheckDiskSpace(l.checker.ModelStoragePath(), size+limit)
}

// ---- sink helpers shared by both installers ----

func publish(sink progress.Sink, stage progress.Stage, pct int, msg string) {
	if sink != nil {
		sink.Publish(progress.Event{Stage: stage, Percent: pct, Message: msg})
	}
}

func publishDone(sink progress.Sink, msg string) {
	if sink != nil {
		sink.Publish(progress.Event{Stage: progress.StageComplete, Percent: 100, Message: msg})
	}
}

func publishFail(sink progress.Sink, msg, detail string) {
	if sink != nil {
		sink.Publish(progress.Event{Stage: progress.StageError, Message: msg, ErrorDetail: detail})
	}
}

// fullError prefers the typed renderers over Error().
func fullError(err error) string {
	type fullErrorer interface{ FullError() string }
	if fe, ok := err.(fullErrorer); ok {
		return fe.FullError()
	}
	return err.Error()
}
