// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package hardware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		ramGB  int
		gpu    GPUClass
		vramGB int
		want   Tier
	}{
		{"tiny laptop", 4, GPUNone, 0, TierLow},
		{"8gb no gpu", 8, GPUNone, 0, TierMid},
		{"16gb integrated", 16, GPUIntegrated, 0, TierMid},
		{"32gb no gpu", 32, GPUNone, 0, TierHigh},
		{"dedicated 8gb vram", 16, GPUDedicated, 8, TierHigh},
		{"dedicated small vram", 16, GPUDedicated, 4, TierMid},
		{"zero readings", 0, GPUNone, 0, TierLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ramGB, tt.gpu, tt.vramGB))
		})
	}
}

func TestParseMeminfoGB(t *testing.T) {
	meminfo := "MemTotal:       16303204 kB\nMemFree:         1174936 kB\n"
	assert.Equal(t, 15, parseMeminfoGB(meminfo))

	assert.Equal(t, 0, parseMeminfoGB("garbage"))
	assert.Equal(t, 0, parseMeminfoGB("MemTotal: notanumber kB"))
}

func TestParseNvidiaVRAMGB(t *testing.T) {
	assert.Equal(t, 24, parseNvidiaVRAMGB("24576\n"))
	// Multi-GPU output: only the first card matters for classification.
	assert.Equal(t, 8, parseNvidiaVRAMGB("8192\n8192\n"))
	assert.Equal(t, 0, parseNvidiaVRAMGB("NVIDIA-SMI has failed"))
	assert.Equal(t, 0, parseNvidiaVRAMGB(""))
}

func TestDetectDegradesOnProbeFailure(t *testing.T) {
	p := &DefaultProbe{
		run: func(ctx context.Context, name string, args ...string) (string, error) {
			return "", errors.New("not found")
		},
		readFile: func(string) ([]byte, error) {
			return nil, errors.New("no meminfo")
		},
		goos:   "linux",
		goarch: "amd64",
	}

	cap := p.Detect(context.Background())
	assert.Equal(t, 0, cap.RAMGB)
	assert.Equal(t, GPUNone, cap.GPU)
	assert.Equal(t, TierLow, cap.Tier)
}

func TestDetectLinuxWithNvidia(t *testing.T) {
	p := &DefaultProbe{
		run: func(ctx context.Context, name string, args ...string) (string, error) {
			if name == "nvidia-smi" {
				return "12288\n", nil
			}
			return "", errors.New("unexpected command: " + name)
		},
		readFile: func(string) ([]byte, error) {
			return []byte("MemTotal:       32917492 kB\n"), nil
		},
		goos:   "linux",
		goarch: "amd64",
	}

	cap := p.Detect(context.Background())
	assert.Equal(t, 31, cap.RAMGB)
	assert.Equal(t, GPUDedicated, cap.GPU)
	assert.Equal(t, 12, cap.VRAMGB)
	assert.Equal(t, TierHigh, cap.Tier)
}

func TestDetectAppleSilicon(t *testing.T) {
	p := &DefaultProbe{
		run: func(ctx context.Context, name string, args ...string) (string, error) {
			switch name {
			case "sysctl":
				return "17179869184\n", nil
			default:
				return "", errors.New("not found")
			}
		},
		readFile: func(string) ([]byte, error) { return nil, errors.New("unused") },
		goos:     "darwin",
		goarch:   "arm64",
	}

	cap := p.Detect(context.Background())
	assert.Equal(t, 16, cap.RAMGB)
	assert.Equal(t, GPUIntegrated, cap.GPU)
	assert.Equal(t, TierMid, cap.Tier)
}
