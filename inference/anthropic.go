/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/pullrider/metrics"
	"chainguard.dev/pullrider/retry"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/chainguard-dev/clog"
)

const defaultMaxTokens = 8192

// Anthropic is a Client backed by the Anthropic Messages API.
type Anthropic struct {
	model       string
	creds       CredentialResolver
	maxTokens   int64
	retryConfig retry.Config
	genai       *metrics.GenAI
	// extra request options, used by tests to point at a fake server
	opts []option.RequestOption
}

// NewAnthropic creates an Anthropic-backed client for the given model.
func NewAnthropic(model string, creds CredentialResolver, opts ...option.RequestOption) *Anthropic {
	return &Anthropic{
		model:       model,
		creds:       creds,
		maxTokens:   defaultMaxTokens,
		retryConfig: retry.DefaultConfig(),
		genai:       metrics.NewGenAI("chainguard.dev/pullrider"),
		opts:        opts,
	}
}

// Complete implements Client.
func (a *Anthropic) Complete(ctx context.Context, prompt string) (string, error) {
	log := clog.FromContext(ctx).With("backend", BackendAnthropic, "model", a.model)

	key, err := a.creds.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving credential: %w", err)
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(key)}, a.opts...)...)

	log.With("prompt_length", len(prompt)).Info("Requesting completion")

	message, err := retry.Do(ctx, a.retryConfig, "anthropic_messages", isRetryableAnthropicError,
		func(ctx context.Context) (*anthropic.Message, error) {
			return client.Messages.New(ctx, anthropic.MessageNewParams{
				Model:     anthropic.Model(a.model),
				MaxTokens: a.maxTokens,
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
				},
			})
		})
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}

	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		a.genai.RecordTokens(ctx, a.model, message.Usage.InputTokens, message.Usage.OutputTokens)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrNoContent
	}
	return sb.String(), nil
}

// isRetryableAnthropicError reports whether an error is a transient Anthropic
// API error. Returns true for rate limit, overloaded, and server errors.
func isRetryableAnthropicError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 503, 504, 529:
			return true
		}
	}
	return false
}
