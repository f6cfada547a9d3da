/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics provides the daemon's observability counters: OpenTelemetry
// counters for model token usage, and Prometheus counters for event handling
// outcomes served on the /metrics endpoint.
package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// GenAI records token usage per model. If a counter fails to initialize it
// degrades to a no-op rather than failing the caller.
type GenAI struct {
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
}

// NewGenAI creates the token counters under a unified meter; the model name
// is a dimension on each recording.
func NewGenAI(meterName string) *GenAI {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	promptTokens, err := meter.Int64Counter("genai.token.prompt",
		metric.WithDescription("The number of prompt tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create prompt tokens counter, token metrics disabled", "error", err, "meter", meterName)
		promptTokens = noop.Int64Counter{}
	}

	completionTokens, err := meter.Int64Counter("genai.token.completion",
		metric.WithDescription("The number of completion tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create completion tokens counter, token metrics disabled", "error", err, "meter", meterName)
		completionTokens = noop.Int64Counter{}
	}

	return &GenAI{promptTokens: promptTokens, completionTokens: completionTokens}
}

// RecordTokens records prompt and completion token usage for one completion.
func (m *GenAI) RecordTokens(ctx context.Context, model string, promptTokens, completionTokens int64) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.promptTokens.Add(ctx, promptTokens, attrs)
	m.completionTokens.Add(ctx, completionTokens, attrs)
}

// Prometheus counters for event handling. Registered on the default
// registry and served by promhttp in the daemon.
var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pullrider_events_received_total",
		Help: "Inbound platform events by kind.",
	}, []string{"kind"})

	IntentsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pullrider_intents_classified_total",
		Help: "Classified intents, including ignore.",
	}, []string{"intent"})

	CommentsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pullrider_comments_posted_total",
		Help: "Comments successfully posted, by intent.",
	}, []string{"intent"})

	CASLosses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pullrider_cas_losses_total",
		Help: "Phase transitions abandoned because another unit of work won.",
	})

	InferenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pullrider_inference_failures_total",
		Help: "Units of work abandoned after exhausting inference retries.",
	})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pullrider_publish_failures_total",
		Help: "Comment posts that failed after exhausting retries.",
	})

	MalformedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pullrider_malformed_events_total",
		Help: "Events dropped because classification failed.",
	})
)
