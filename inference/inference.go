/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package inference abstracts the model backends behind a single-shot
// completion interface. Each backend classifies its own transient errors and
// retries boundedly; callers see either text or a terminal error.
package inference

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoContent indicates the backend returned a well-formed response with no
// usable text. It is terminal, not transient.
var ErrNoContent = errors.New("model returned no content")

// Client is a single-shot completion client.
type Client interface {
	// Complete sends the prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)
}

// CredentialResolver yields the API credential for a completion call. It is
// resolved per call so rotated credentials take effect without a restart.
type CredentialResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// StaticCredential is a CredentialResolver backed by a fixed value.
type StaticCredential string

// Resolve implements CredentialResolver.
func (s StaticCredential) Resolve(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("credential is empty")
	}
	return string(s), nil
}

// Backend names accepted by New.
const (
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendGemini    = "gemini"
)

// New constructs the Client for the named backend.
func New(backend, model string, creds CredentialResolver) (Client, error) {
	switch backend {
	case BackendAnthropic:
		return NewAnthropic(model, creds), nil
	case BackendOpenAI:
		return NewOpenAI(model, creds), nil
	case BackendGemini:
		return NewGemini(model, creds), nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", backend)
	}
}
