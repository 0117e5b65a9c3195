// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package artifacts downloads and verifies the auxiliary classifier models the
analytics pipeline needs, independent of which LLM provider was chosen.

# Problem Statement

Four transformer checkpoints (roughly 1.4GB total) must exist in the local
model cache before the first analysis run. Downloads fail mid-flight on
laptops (sleep, wifi changes); a failed artifact must not destroy siblings
that already downloaded, and a re-run must skip everything already present
instead of re-fetching gigabytes.

# Solution

DefaultProvisioner mirrors the upstream snapshot cache layout

	<cacheDir>/models--<org>--<name>/snapshots/main/<file>

and ensures each required artifact with a check-first loop: an artifact
whose snapshot directory is non-empty is cached and skipped; otherwise every
payload file is fetched to a temp name and renamed in, with byte progress
weighted by the catalog size estimates so one 0-100 scale covers the whole
step. The first failing artifact aborts the step; completed artifacts stay.

# Usage

	p := artifacts.NewProvisioner(cacheDir)
	result, err := p.EnsureArtifacts(ctx, artifacts.AllKeys(), sink)

# Related Files

  - catalog.go — the artifact catalog with size estimates.
  - internal/setup — runs this during the model-provisioning step.
*/
package artifacts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/progress"
)

// DefaultBaseURL is the upstream artifact host.
const DefaultBaseURL = "https://huggingface.co"

// ---- Errors ----

// ErrorType classifies provisioning failures.
type ErrorType int

const (
	ErrTypeUnknownKey ErrorType = iota
	ErrTypeDownload
	ErrTypeVerify
	ErrTypeCancelled
)

// String returns the short name of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeUnknownKey:
		return "unknown_key"
	case ErrTypeDownload:
		return "download"
	case ErrTypeVerify:
		return "verify"
	case ErrTypeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the typed failure for artifact operations.
type Error struct {
	Type        ErrorType
	Key         string
	Message     string
	Remediation string
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("artifact %s: %s: %s", e.Key, e.Type, e.Message)
	}
	return fmt.Sprintf("artifact %s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// ---- Types ----

// Status describes one artifact after an ensure pass.
type Status struct {
	Key        string
	Repo       string
	Cached     bool
	Downloaded bool
	Bytes      int64
}

// Result summarizes an ensure pass.
type Result struct {
	Statuses []Status
	Duration time.Duration
}

// Provisioner ensures required artifacts exist locally.
type Provisioner interface {
	// EnsureArtifacts makes every required key present, downloading what is
	// missing. Progress goes to sink on the downloading-models stage; the
	// terminal event is the caller's to publish.
	EnsureArtifacts(ctx context.Context, required []string, sink progress.Sink) (*Result, error)

	// IsCached reports whether one artifact is already present.
	IsCached(key string) bool

	// DownloadSizeMB estimates the bytes still to fetch for the required
	// keys given the current cache state.
	DownloadSizeMB(required []string) int64
}

// DefaultProvisioner is the production Provisioner.
type DefaultProvisioner struct {
	cacheDir   string
	baseURL    string
	httpClient *http.Client
}

// NewProvisioner creates a provisioner over cacheDir, talking to the real
// upstream host.
func NewProvisioner(cacheDir string) *DefaultProvisioner {
	return NewProvisionerWithHost(cacheDir, DefaultBaseURL, &http.Client{})
}

// NewProvisionerWithHost injects the host and client for tests.
func NewProvisionerWithHost(cacheDir, baseURL string, client *http.Client) *DefaultProvisioner {
	return &DefaultProvisioner{
		cacheDir:   cacheDir,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// DefaultCacheDir returns the standard artifact cache location, shared with
// the pipeline's model loader.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".opinari", "models")
	}
	return filepath.Join(home, ".opinari", "models")
}

// repoDir maps org/name to the cache directory name.
func repoDir(repo string) string {
	return "models--" + strings.ReplaceAll(repo, "/", "--")
}

// snapshotDir is where payload files live for an artifact.
func (p *DefaultProvisioner) snapshotDir(a Artifact) string {
	return filepath.Join(p.cacheDir, repoDir(a.Repo), "snapshots", "main")
}

// IsCached reports whether the artifact's snapshot directory exists and is
// non-empty. Matches how the pipeline's loader decides to go offline.
func (p *DefaultProvisioner) IsCached(key string) bool {
	a, ok := Lookup(key)
	if !ok {
		return false
	}
	entries, err := os.ReadDir(p.snapshotDir(a))
	return err == nil && len(entries) > 0
}

// DownloadSizeMB sums the size estimates of required artifacts not yet
// cached. Unknown keys count zero; EnsureArtifacts rejects them properly.
func (p *DefaultProvisioner) DownloadSizeMB(required []string) int64 {
	var total int64
	for _, key := range required {
		if p.IsCached(key) {
			continue
		}
		if a, ok := Lookup(key); ok {
			total += a.EstimatedMB
		}
	}
	return total
}

// EnsureArtifacts ensures every required artifact, reporting weighted
// progress. The first failure aborts with completed artifacts preserved.
func (p *DefaultProvisioner) EnsureArtifacts(ctx context.Context, required []string, sink progress.Sink) (*Result, error) {
	start := time.Now()
	result := &Result{}

	// Resolve all keys before any network traffic so a typo cannot waste a
	// gigabyte of downloads.
	todo := make([]Artifact, 0, len(required))
	for _, key := range required {
		a, ok := Lookup(key)
		if !ok {
			return nil, &Error{
				Type:        ErrTypeUnknownKey,
				Key:         key,
				Message:     "not in the artifact catalog",
				Remediation: "known artifacts: " + strings.Join(AllKeys(), ", "),
			}
		}
		todo = append(todo, a)
	}

	var totalMB, doneMB int64
	for _, a := range todo {
		if !p.IsCached(a.Key) {
			totalMB += a.EstimatedMB
		}
	}

	report := func(msg string, inFlightBytes int64) {
		if sink == nil {
			return
		}
		pct := 100
		if totalMB > 0 {
			pct = int((doneMB*100 + inFlightBytes*100/(1<<20)) / totalMB)
			if pct > 100 {
				pct = 100
			}
		}
		sink.Publish(progress.Event{
			Stage:   progress.StageDownloadingModels,
			Percent: pct,
			Message: msg,
		})
	}

	for _, a := range todo {
		if err := ctx.Err(); err != nil {
			return result, &Error{Type: ErrTypeCancelled, Key: a.Key, Message: "provisioning cancelled", Err: err}
		}

		status := Status{Key: a.Key, Repo: a.Repo}
		if p.IsCached(a.Key) {
			status.Cached = true
			result.Statuses = append(result.Statuses, status)
			slog.Debug("artifact cached", "key", a.Key)
			continue
		}

		report("Downloading "+a.Repo, 0)
		bytes, err := p.downloadArtifact(ctx, a, func(fetched int64) {
			report("Downloading "+a.Repo, fetched)
		})
		if err != nil {
			// Completed siblings stay; only the failing artifact's partial
			// snapshot is removed by downloadArtifact.
			return result, err
		}

		status.Downloaded = true
		status.Bytes = bytes
		result.Statuses = append(result.Statuses, status)
		doneMB += a.EstimatedMB
		report("Downloaded "+a.Repo, 0)
		slog.Info("artifact downloaded", "key", a.Key, "bytes", bytes)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// downloadArtifact fetches every payload file into the snapshot directory.
// On failure the whole snapshot is removed so a half-written artifact never
// passes the cached check.
func (p *DefaultProvisioner) downloadArtifact(ctx context.Context, a Artifact, onBytes func(int64)) (int64, error) {
	dir := p.snapshotDir(a)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, &Error{Type: ErrTypeDownload, Key: a.Key, Message: "create snapshot dir", Err: err}
	}

	var total int64
	for _, file := range a.Files {
		n, err := p.downloadFile(ctx, a, file, dir, func(fetched int64) {
			onBytes(total + fetched)
		})
		if err != nil {
			os.RemoveAll(filepath.Join(p.cacheDir, repoDir(a.Repo)))
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (p *DefaultProvisioner) downloadFile(ctx context.Context, a Artifact, file, dir string, onBytes func(int64)) (int64, error) {
	url := fmt.Sprintf("%s/%s/resolve/main/%s", p.baseURL, a.Repo, file)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &Error{Type: ErrTypeDownload, Key: a.Key, Message: "build request for " + file, Err: err}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, &Error{Type: ErrTypeCancelled, Key: a.Key, Message: "download cancelled", Err: ctx.Err()}
		}
		return 0, &Error{
			Type:        ErrTypeDownload,
			Key:         a.Key,
			Message:     "fetch " + file,
			Remediation: "check your internet connection and retry the step",
			Err:         err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &Error{
			Type:    ErrTypeDownload,
			Key:     a.Key,
			Message: fmt.Sprintf("fetch %s: upstream returned %d", file, resp.StatusCode),
		}
	}

	tmp, err := os.CreateTemp(dir, "."+file+".part-*")
	if err != nil {
		return 0, &Error{Type: ErrTypeDownload, Key: a.Key, Message: "create temp file", Err: err}
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, &countingReader{r: resp.Body, onBytes: onBytes})
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmpName)
		if err == nil {
			err = closeErr
		}
		if ctx.Err() != nil {
			return 0, &Error{Type: ErrTypeCancelled, Key: a.Key, Message: "download cancelled", Err: ctx.Err()}
		}
		return 0, &Error{Type: ErrTypeDownload, Key: a.Key, Message: "write " + file, Err: err}
	}

	// Verification: a zero-byte payload means a broken mirror or a bad
	// redirect, and Content-Length mismatches mean truncation.
	if written == 0 {
		os.Remove(tmpName)
		return 0, &Error{Type: ErrTypeVerify, Key: a.Key, Message: file + " downloaded empty"}
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(tmpName)
		return 0, &Error{
			Type:    ErrTypeVerify,
			Key:     a.Key,
			Message: fmt.Sprintf("%s truncated: got %d of %d bytes", file, written, resp.ContentLength),
		}
	}

	if err := os.Rename(tmpName, filepath.Join(dir, file)); err != nil {
		os.Remove(tmpName)
		return 0, &Error{Type: ErrTypeDownload, Key: a.Key, Message: "finalize " + file, Err: err}
	}
	return written, nil
}

// countingReader reports cumulative bytes read to a callback.
type countingReader struct {
	r       io.Reader
	read    int64
	onBytes func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		if c.onBytes != nil {
			c.onBytes(c.read)
		}
	}
	return n, err
}
