// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package hardware detects the machine's capability tier so the wizard can
recommend a local model that will actually run.

# Problem Statement

Recommending an 8B model to a 4GB laptop produces an unusable install;
asking users to self-report their RAM and GPU produces wrong answers.
Detection has to work without elevated privileges and without failing the
wizard when a probe is unavailable (headless CI, exotic distros, Windows).

# Solution

DefaultProbe reads total RAM from the platform source (/proc/meminfo on
Linux, `sysctl -n hw.memsize` on macOS), classifies the GPU by asking the
vendor tooling that is actually on PATH (`nvidia-smi` for dedicated cards,
Apple Silicon counts as integrated), and folds the readings into a tier:

	low  < 8GB RAM, no usable GPU
	mid  >= 8GB RAM
	high >= 32GB RAM, or a dedicated GPU with >= 8GB VRAM

Every probe degrades instead of failing: a missing tool or unreadable file
yields the zero reading and the classification proceeds with what is known.
Detect never returns an error.

# Related Files

  - probe_linux_meminfo.go-style parsing lives inline here; commands are
    injected for tests.
  - internal/recommend maps the tier to a model id.
*/
package hardware

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// probeTimeout bounds each external tool invocation.
const probeTimeout = 5 * time.Second

// GPUClass describes the best GPU the probe could identify.
type GPUClass int

const (
	GPUNone GPUClass = iota
	GPUIntegrated
	GPUDedicated
)

// String returns the wire/display form of the class.
func (g GPUClass) String() string {
	switch g {
	case GPUIntegrated:
		return "integrated"
	case GPUDedicated:
		return "dedicated"
	default:
		return "none"
	}
}

// Tier is the machine capability bucket used for model recommendation.
type Tier int

const (
	TierLow Tier = iota
	TierMid
	TierHigh
)

// String returns the wire/display form of the tier.
func (t Tier) String() string {
	switch t {
	case TierMid:
		return "mid"
	case TierHigh:
		return "high"
	default:
		return "low"
	}
}

// Capability is the full detection result.
type Capability struct {
	RAMGB  int
	GPU    GPUClass
	VRAMGB int
	Tier   Tier
}

// Probe detects machine capability.
//
// Implementations must not fail: unknown readings degrade to zero values
// and the tier is computed from whatever was detected.
type Probe interface {
	Detect(ctx context.Context) Capability
}

// runner abstracts command execution for tests.
type runner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// DefaultProbe is the production Probe.
type DefaultProbe struct {
	run      runner
	readFile func(name string) ([]byte, error)
	goos     string
	goarch   string
}

// NewProbe creates a probe bound to the real platform.
func NewProbe() *DefaultProbe {
	return &DefaultProbe{
		run:      execRunner,
		readFile: os.ReadFile,
		goos:     runtime.GOOS,
		goarch:   runtime.GOARCH,
	}
}

// Detect gathers RAM and GPU readings and classifies the machine.
//
// # Outputs
//
//   - Capability: always populated; zero readings mean "could not detect".
//
// # Limitations
//
//   - Windows RAM detection is not implemented; such machines classify as
//     TierLow and the wizard falls back to the smallest model.
func (p *DefaultProbe) Detect(ctx context.Context) Capability {
	ramGB := p.detectRAMGB(ctx)
	gpu, vramGB := p.detectGPU(ctx)

	cap := Capability{
		RAMGB:  ramGB,
		GPU:    gpu,
		VRAMGB: vramGB,
		Tier:   Classify(ramGB, gpu, vramGB),
	}

	slog.Debug("hardware detected",
		"ram_gb", cap.RAMGB,
		"gpu", cap.GPU.String(),
		"vram_gb", cap.VRAMGB,
		"tier", cap.Tier.String())
	return cap
}

// Classify folds raw readings into a tier. Pure and total.
func Classify(ramGB int, gpu GPUClass, vramGB int) Tier {
	if gpu == GPUDedicated && vramGB >= 8 {
		return TierHigh
	}
	if ramGB >= 32 {
		return TierHigh
	}
	if ramGB >= 8 {
		return TierMid
	}
	return TierLow
}

// ---- RAM detection ----

func (p *DefaultProbe) detectRAMGB(ctx context.Context) int {
	switch p.goos {
	case "linux":
		data, err := p.readFile("/proc/meminfo")
		if err != nil {
			slog.Debug("meminfo unreadable", "error", err)
			return 0
		}
		return parseMeminfoGB(string(data))
	case "darwin":
		out, err := p.run(ctx, "sysctl", "-n", "hw.memsize")
		if err != nil {
			slog.Debug("sysctl hw.memsize failed", "error", err)
			return 0
		}
		bytes, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
		if err != nil {
			return 0
		}
		return int(bytes >> 30)
	default:
		return 0
	}
}

// parseMeminfoGB extracts MemTotal (reported in kB) from /proc/meminfo.
func parseMeminfoGB(meminfo string) int {
	scanner := bufio.NewScanner(strings.NewReader(meminfo))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return int(kb >> 20)
	}
	return 0
}

// ---- GPU detection ----

func (p *DefaultProbe) detectGPU(ctx context.Context) (GPUClass, int) {
	// NVIDIA first: a discrete card outranks everything else.
	if out, err := p.run(ctx, "nvidia-smi",
		"--query-gpu=memory.total", "--format=csv,noheader,nounits"); err == nil {
		if vram := parseNvidiaVRAMGB(out); vram > 0 {
			return GPUDedicated, vram
		}
	}

	// Apple Silicon shares system memory with the GPU.
	if p.goos == "darwin" && p.goarch == "arm64" {
		return GPUIntegrated, 0
	}

	return GPUNone, 0
}

// parseNvidiaVRAMGB reads the first line of nvidia-smi's MiB output.
func parseNvidiaVRAMGB(out string) int {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	mib, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil || mib <= 0 {
		return 0
	}
	return int(mib / 1024)
}
