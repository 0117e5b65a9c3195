// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package ollama is a minimal HTTP client for the local Ollama server, covering
exactly the surface the provisioning wizard needs: liveness, model listing,
model presence checks and streaming pulls.

# Problem Statement

The wizard must answer "is the runtime up", "is model X already present" and
"pull model X with live progress" against whatever Ollama the user has. The
official SDK drags in a large dependency tree for what is four endpoints;
model names also need normalization ("mistral" and "mistral:latest" are the
same model) or presence checks report false negatives and trigger redundant
multi-gigabyte pulls.

# Solution

A small client over net/http:

	client := ollama.NewClient("http://localhost:11434")
	ok, err := client.HasModel(ctx, "mistral:7b")
	err = client.PullModel(ctx, "mistral:7b", func(p ollama.PullProgress) {
	    fmt.Printf("%s %d%%\n", p.Status, p.Percent())
	})

Model listings are cached for a short TTL because the wizard checks presence
several times per step; the cache is invalidated after every pull.

# Related Files

  - internal/provider/local.go — drives this client during provider setup.
  - internal/infra — finds/installs the ollama binary; this package only
    talks to a running server.
*/
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is where a stock Ollama install listens.
const DefaultBaseURL = "http://localhost:11434"

// modelCacheTTL bounds staleness of the /api/tags cache.
const modelCacheTTL = 30 * time.Second

// ---- Errors ----

// ErrorType classifies client failures for remediation.
type ErrorType int

const (
	ErrTypeConnection ErrorType = iota
	ErrTypeNotFound
	ErrTypePullFailed
	ErrTypeServerError
	ErrTypeCancelled
)

// String returns the short name of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeConnection:
		return "connection"
	case ErrTypeNotFound:
		return "not_found"
	case ErrTypePullFailed:
		return "pull_failed"
	case ErrTypeServerError:
		return "server_error"
	case ErrTypeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every client operation.
type Error struct {
	Type        ErrorType
	Model       string
	Message     string
	Remediation string
	Err         error
}

// Error implements the error interface with the short message.
func (e *Error) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("ollama %s: %s (model %s)", e.Type, e.Message, e.Model)
	}
	return fmt.Sprintf("ollama %s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// FullError renders the message plus remediation for terminal display.
func (e *Error) FullError() string {
	var b strings.Builder
	b.WriteString(e.Error())
	if e.Remediation != "" {
		b.WriteString("\n  Remediation: ")
		b.WriteString(e.Remediation)
	}
	return b.String()
}

func connErr(err error) *Error {
	return &Error{
		Type:        ErrTypeConnection,
		Message:     "cannot reach the Ollama server",
		Remediation: "start the runtime with 'ollama serve' or re-run setup to install it",
		Err:         err,
	}
}

// ---- Types ----

// Model is one entry from /api/tags.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// PullProgress is one decoded line of the streaming /api/pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Percent converts the byte counters to 0-100. Status-only lines (manifest
// negotiation, verification) report 0.
func (p PullProgress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	pct := int(p.Completed * 100 / p.Total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// PullCallback receives streaming pull updates. Called from the pull
// goroutine; must not block for long.
type PullCallback func(p PullProgress)

// ModelManager is the client surface the rest of the wizard depends on.
type ModelManager interface {
	Version(ctx context.Context) (string, error)
	ListModels(ctx context.Context) ([]Model, error)
	HasModel(ctx context.Context, name string) (bool, error)
	ModelSize(ctx context.Context, name string) (int64, error)
	PullModel(ctx context.Context, name string, cb PullCallback) error
}

// ---- Client ----

// Client talks to one Ollama server.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu          sync.RWMutex
	cachedList  []Model
	cacheExpiry time.Time
}

// NewClient creates a client for the given base URL (DefaultBaseURL for a
// stock install). Pull requests stream for as long as the context allows;
// the HTTP client itself carries no overall timeout.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Version returns the server version string, doubling as the liveness probe.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return "", connErr(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", connErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{
			Type:    ErrTypeServerError,
			Message: fmt.Sprintf("version endpoint returned %d", resp.StatusCode),
		}
	}

	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &Error{Type: ErrTypeServerError, Message: "malformed version response", Err: err}
	}
	return body.Version, nil
}

// ListModels returns the installed models, serving from cache within the
// TTL.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	c.mu.RLock()
	if time.Now().Before(c.cacheExpiry) && c.cachedList != nil {
		cached := c.cachedList
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, connErr(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Type:    ErrTypeServerError,
			Message: fmt.Sprintf("tags endpoint returned %d", resp.StatusCode),
		}
	}

	var body struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Type: ErrTypeServerError, Message: "malformed tags response", Err: err}
	}

	c.mu.Lock()
	c.cachedList = body.Models
	c.cacheExpiry = time.Now().Add(modelCacheTTL)
	c.mu.Unlock()

	return body.Models, nil
}

// HasModel reports whether the named model is installed, matching with
// normalized names so "mistral" finds "mistral:latest".
func (c *Client) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	want := NormalizeName(name)
	for _, m := range models {
		if NormalizeName(m.Name) == want {
			return true, nil
		}
	}
	return false, nil
}

// ModelSize returns the installed size in bytes, or a conservative 500MB
// estimate for models the server does not know yet (used for disk
// pre-flight before a pull).
func (c *Client) ModelSize(ctx context.Context, name string) (int64, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return 0, err
	}
	want := NormalizeName(name)
	for _, m := range models {
		if NormalizeName(m.Name) == want {
			return m.Size, nil
		}
	}
	return 500 << 20, nil
}

// PullModel downloads a model, streaming progress to cb. Returns when the
// pull finishes, fails, or ctx is cancelled. The model list cache is
// invalidated on success.
//
// # Limitations
//
//   - Ollama reports per-layer byte counters; Percent() can briefly drop
//     when a new layer starts. Callers that need monotonic progress clamp
//     downstream.
func (c *Client) PullModel(ctx context.Context, name string, cb PullCallback) error {
	payload, err := json.Marshal(map[string]any{"name": name, "stream": true})
	if err != nil {
		return &Error{Type: ErrTypePullFailed, Model: name, Message: "encode pull request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return connErr(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Type: ErrTypeCancelled, Model: name, Message: "pull cancelled", Err: ctx.Err()}
		}
		return connErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Error{
			Type:        ErrTypeNotFound,
			Model:       name,
			Message:     "model not found in the registry",
			Remediation: "check the model id spelling at https://ollama.com/library",
		}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{
			Type:    ErrTypePullFailed,
			Model:   name,
			Message: fmt.Sprintf("pull endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	// Pull responses are newline-delimited JSON; individual lines stay small
	// but allow headroom for verbose error payloads.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return &Error{Type: ErrTypeCancelled, Model: name, Message: "pull cancelled", Err: ctx.Err()}
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var progress struct {
			PullProgress
			Error string `json:"error,omitempty"`
		}
		if err := json.Unmarshal(line, &progress); err != nil {
			slog.Debug("skipping malformed pull line", "model", name, "error", err)
			continue
		}
		if progress.Error != "" {
			return &Error{
				Type:    ErrTypePullFailed,
				Model:   name,
				Message: progress.Error,
			}
		}
		if cb != nil {
			cb(progress.PullProgress)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return &Error{Type: ErrTypeCancelled, Model: name, Message: "pull cancelled", Err: ctx.Err()}
		}
		return &Error{Type: ErrTypePullFailed, Model: name, Message: "pull stream interrupted", Err: err}
	}

	c.mu.Lock()
	c.cachedList = nil
	c.cacheExpiry = time.Time{}
	c.mu.Unlock()

	slog.Info("model pulled", "model", name)
	return nil
}

// NormalizeName lowercases a model id and strips an explicit ":latest" tag
// so equivalent spellings compare equal.
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(n, ":latest")
}
