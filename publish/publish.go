/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package publish posts the single comment a unit of work is entitled to and
// records the post in the thread tracker. Winning the phase transition is the
// caller's responsibility; by the time a Publisher runs, the comment is owed.
package publish

import (
	"context"
	"fmt"
	"time"

	"chainguard.dev/pullrider/event"
	"chainguard.dev/pullrider/metrics"
	"chainguard.dev/pullrider/state"
	"github.com/chainguard-dev/clog"
)

// CommentPoster is the transport surface publishing needs.
type CommentPoster interface {
	PostComment(ctx context.Context, owner, repo string, number int, body string) error
	CloseSubject(ctx context.Context, owner, repo string, number int) error
}

// Publisher posts comments and records them on the thread.
type Publisher struct {
	poster  CommentPoster
	tracker state.Tracker
	clock   func() time.Time
}

// New creates a Publisher.
func New(poster CommentPoster, tracker state.Tracker) *Publisher {
	return &Publisher{poster: poster, tracker: tracker, clock: time.Now}
}

// Comment posts body on the event's subject and marks the thread commented.
// When revision is non-empty it is recorded as the reviewed head revision.
// The intent labels the posted-comments metric.
func (p *Publisher) Comment(ctx context.Context, ev event.Event, intent, revision, body string) error {
	log := clog.FromContext(ctx).With("repo", ev.RepoFullName(), "number", ev.Number, "intent", intent)

	if err := p.poster.PostComment(ctx, ev.Owner, ev.Repo, ev.Number, body); err != nil {
		metrics.PublishFailures.Inc()
		return fmt.Errorf("publishing comment: %w", err)
	}
	metrics.CommentsPosted.WithLabelValues(intent).Inc()

	ex := state.Exchange{Summary: body, PostedAt: p.clock()}
	if err := p.tracker.MarkCommented(ctx, ev.RepoFullName(), ev.Number, revision, ex); err != nil {
		// The comment is live; a tracker failure here must not look like a
		// publish failure or the caller might post again.
		log.With("error", err).Error("Comment posted but tracker update failed")
		return nil
	}
	log.Info("Published comment")
	return nil
}

// CommentAndClose posts body and then closes the subject. Ordering matters:
// the reply must land while the subject is still open so the author is
// notified before the close.
func (p *Publisher) CommentAndClose(ctx context.Context, ev event.Event, intent, body string) error {
	if err := p.Comment(ctx, ev, intent, "", body); err != nil {
		return err
	}
	if err := p.poster.CloseSubject(ctx, ev.Owner, ev.Repo, ev.Number); err != nil {
		metrics.PublishFailures.Inc()
		return fmt.Errorf("closing subject: %w", err)
	}
	return nil
}
