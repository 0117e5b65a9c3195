// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/progress"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/secrets"
)

// CredentialCode classifies a failed cloud validation. The wizard renders a
// different remediation for each: a rejected key means re-enter it, an
// empty balance means add billing, a network failure means retry later.
type CredentialCode string

const (
	CredentialOK        CredentialCode = "ok"
	CredentialInvalid   CredentialCode = "invalid"
	CredentialNoCredits CredentialCode = "no_credits"
	CredentialNetwork   CredentialCode = "network"
	CredentialUnknown   CredentialCode = "unknown"
)

// ValidationResult is the outcome of a key validation.
type ValidationResult struct {
	Valid   bool
	Code    CredentialCode
	Message string
}

// CredentialError carries a failed ValidationResult as an error so the
// sequencer can transition on it.
type CredentialError struct {
	Result ValidationResult
}

// Error implements the error interface.
func (e *CredentialError) Error() string {
	return "credential validation failed (" + string(e.Result.Code) + "): " + e.Result.Message
}

// CloudKeyValidator validates an OpenAI API key without installing
// anything. It satisfies Installer so provider-setup treats both provider
// families uniformly.
type CloudKeyValidator struct {
	// BaseURL overrides the OpenAI endpoint, used by tests. Empty means
	// the real API.
	BaseURL string
}

// NewCloudKeyValidator creates a validator against the real API.
func NewCloudKeyValidator() *CloudKeyValidator {
	return &CloudKeyValidator{}
}

func (v *CloudKeyValidator) newClient(key string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	if v.BaseURL != "" {
		cfg.BaseURL = v.BaseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// IsSatisfied always reports false: a key is only known good after
// validating against the live API, and validation is cheap enough to rerun.
func (v *CloudKeyValidator) IsSatisfied(ctx context.Context, choice Choice) (bool, error) {
	return false, nil
}

// Install validates the credential and publishes the outcome. A failed
// validation returns a *CredentialError wrapping the classification.
func (v *CloudKeyValidator) Install(ctx context.Context, choice Choice, sink progress.Sink) error {
	publish(sink, progress.StageValidatingCredential, 10, "Validating API key")

	result := v.Validate(ctx, choice.Credential, choice.ModelID)
	if !result.Valid {
		publishFail(sink, "API key validation failed", result.Message)
		return &CredentialError{Result: result}
	}

	publishDone(sink, "API key validated")
	return nil
}

// Validate classifies the credential. The ladder:
//
//  1. format precheck (no network round trip for obvious typos)
//  2. ListModels: a 401 means the key is rejected outright
//  3. a 1-token completion: a key can list models yet have no quota, and
//     only a billable call surfaces insufficient_quota
//
// Transport failures at either rung classify as network, not invalid, so
// the wizard never tells the user to rekey over bad wifi.
func (v *CloudKeyValidator) Validate(ctx context.Context, cred *secrets.Credential, modelID string) ValidationResult {
	var key string
	if err := cred.Use(func(plaintext []byte) error {
		key = string(plaintext)
		return nil
	}); err != nil {
		return ValidationResult{Code: CredentialInvalid, Message: "no API key provided"}
	}

	if !plausibleKeyFormat(key) {
		return ValidationResult{Code: CredentialInvalid, Message: "the key does not look like an OpenAI API key (expected sk-...)"}
	}

	client := v.newClient(key)

	if _, err := client.ListModels(ctx); err != nil {
		return classifyOpenAIError(err, "listing models")
	}

	if modelID == "" {
		modelID = openai.GPT4oMini
	}
	_, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     modelID,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	if err != nil {
		return classifyOpenAIError(err, "test completion")
	}

	slog.Info("cloud credential validated", "model", modelID)
	return ValidationResult{Valid: true, Code: CredentialOK, Message: "key accepted"}
}

// plausibleKeyFormat rejects obvious non-keys before any network call.
func plausibleKeyFormat(key string) bool {
	return strings.HasPrefix(key, "sk-") && len(key) >= 20
}

// classifyOpenAIError maps API and transport failures onto credential
// codes.
func classifyOpenAIError(err error, during string) ValidationResult {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401:
			return ValidationResult{Code: CredentialInvalid, Message: "the API rejected the key"}
		case apiErr.Code == "insufficient_quota" || apiErr.Type == "insufficient_quota":
			return ValidationResult{Code: CredentialNoCredits, Message: "the key is valid but the account has no remaining credits"}
		case apiErr.HTTPStatusCode == 429:
			// Plain rate limiting on a fresh validation call is effectively
			// transient.
			return ValidationResult{Code: CredentialNetwork, Message: "the API is rate limiting; try again shortly"}
		default:
			return ValidationResult{Code: CredentialUnknown, Message: "unexpected API error while " + during + ": " + apiErr.Message}
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ValidationResult{Code: CredentialUnknown, Message: "unexpected API response while " + during + ": " + reqErr.Error()}
	}

	return ValidationResult{Code: CredentialNetwork, Message: "could not reach the API while " + during + ": " + err.Error()}
}
