/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package inference

import (
	"context"
	"errors"
	"fmt"

	"chainguard.dev/pullrider/metrics"
	"chainguard.dev/pullrider/retry"
	"github.com/chainguard-dev/clog"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI is a Client backed by the OpenAI Chat Completions API.
type OpenAI struct {
	model       string
	creds       CredentialResolver
	retryConfig retry.Config
	genai       *metrics.GenAI
	opts        []option.RequestOption
}

// NewOpenAI creates an OpenAI-backed client for the given model.
func NewOpenAI(model string, creds CredentialResolver, opts ...option.RequestOption) *OpenAI {
	return &OpenAI{
		model:       model,
		creds:       creds,
		retryConfig: retry.DefaultConfig(),
		genai:       metrics.NewGenAI("chainguard.dev/pullrider"),
		opts:        opts,
	}
}

// Complete implements Client.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	log := clog.FromContext(ctx).With("backend", BackendOpenAI, "model", o.model)

	key, err := o.creds.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving credential: %w", err)
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(key)}, o.opts...)...)

	log.With("prompt_length", len(prompt)).Info("Requesting completion")

	completion, err := retry.Do(ctx, o.retryConfig, "openai_chat_completion", isRetryableOpenAIError,
		func(ctx context.Context) (*openai.ChatCompletion, error) {
			return client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
				Model: o.model,
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.UserMessage(prompt),
				},
			})
		})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}

	if completion.Usage.PromptTokens > 0 || completion.Usage.CompletionTokens > 0 {
		o.genai.RecordTokens(ctx, o.model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", ErrNoContent
	}
	return completion.Choices[0].Message.Content, nil
}

// isRetryableOpenAIError reports whether an error is a transient OpenAI API
// error. Returns true for rate limit and server errors.
func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}
