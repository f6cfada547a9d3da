/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package inference

import (
	"context"
	"fmt"
	"strings"

	"chainguard.dev/pullrider/metrics"
	"chainguard.dev/pullrider/retry"
	"github.com/chainguard-dev/clog"
	"google.golang.org/genai"
)

// Gemini is a Client backed by the Gemini API.
type Gemini struct {
	model       string
	creds       CredentialResolver
	retryConfig retry.Config
	genai       *metrics.GenAI
}

// NewGemini creates a Gemini-backed client for the given model.
func NewGemini(model string, creds CredentialResolver) *Gemini {
	return &Gemini{
		model:       model,
		creds:       creds,
		retryConfig: retry.DefaultConfig(),
		genai:       metrics.NewGenAI("chainguard.dev/pullrider"),
	}
}

// Complete implements Client.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	log := clog.FromContext(ctx).With("backend", BackendGemini, "model", g.model)

	key, err := g.creds.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving credential: %w", err)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("creating gemini client: %w", err)
	}

	log.With("prompt_length", len(prompt)).Info("Requesting completion")

	response, err := retry.Do(ctx, g.retryConfig, "gemini_generate_content", isRetryableGeminiError,
		func(ctx context.Context) (*genai.GenerateContentResponse, error) {
			return client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
		})
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	if response.UsageMetadata != nil {
		g.genai.RecordTokens(ctx, g.model,
			int64(response.UsageMetadata.PromptTokenCount),
			int64(response.UsageMetadata.CandidatesTokenCount))
	}

	text := response.Text()
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}

// isRetryableGeminiError reports whether an error is a transient Gemini API
// error. Returns true for rate limit, quota exhaustion, and server errors.
func isRetryableGeminiError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Resource exhausted") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "Overloaded") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "Internal error") ||
		strings.Contains(errStr, "server error")
}
