/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package state tracks per-subject review lifecycle. The compare-and-set
// phase transition is the sole concurrency-safety mechanism in the system:
// whichever unit of work wins the transition owns the right to post the
// comment for it, and everyone else abandons theirs.
package state

import (
	"context"
	"time"
)

// Phase is a subject's position in its review lifecycle.
type Phase string

const (
	// PhaseNew is the implicit phase of a subject with no thread record.
	PhaseNew Phase = "NEW"
	// PhaseAwaitingReady marks a draft PR that received its courtesy note.
	PhaseAwaitingReady Phase = "AWAITING_READY"
	// PhaseReviewed marks a subject that received its review comment.
	PhaseReviewed Phase = "REVIEWED"
	// PhaseAwaitingImprovement marks an issue that received coaching and
	// stays open pending human action.
	PhaseAwaitingImprovement Phase = "AWAITING_IMPROVEMENT"
	// PhaseClosedAsChatter marks an issue closed as non-actionable.
	PhaseClosedAsChatter Phase = "CLOSED_AS_CHATTER"
	// PhaseClosed is terminal.
	PhaseClosed Phase = "CLOSED"
)

// Conversation bounds. Prompts must stay bounded no matter how chatty a
// thread gets, so older exchanges age out and long bodies are clipped.
const (
	MaxConversationEntries = 10
	MaxExchangeSummaryLen  = 2000
)

// Exchange is one prior bot response on a thread, summarized.
type Exchange struct {
	Summary  string    `json:"summary"`
	PostedAt time.Time `json:"posted_at"`
}

// Thread is the per-subject lifecycle record.
type Thread struct {
	Repo   string // owner-qualified, e.g. "octo/widgets"
	Number int

	Phase                Phase
	InitialCommentPosted bool
	// LastReviewedRevision is the opaque revision token (PR head SHA) the
	// last review covered; an identical token arriving again is a duplicate
	// delivery.
	LastReviewedRevision string
	Conversation         []Exchange
	UpdatedAt            time.Time
}

// Tracker is the keyed thread-state store. Implementations must make
// CompareAndSetPhase atomic with respect to concurrent callers on the same
// (repo, number) key.
type Tracker interface {
	// Get returns the thread record, reporting absence separately from
	// storage errors. An absent record means the subject is in PhaseNew.
	Get(ctx context.Context, repo string, number int) (Thread, bool, error)

	// CompareAndSetPhase transitions the subject from expected to next,
	// returning whether this caller won the transition. Transitioning from
	// PhaseNew creates the record if absent. A false return is not an
	// error; the caller must abandon its pending post.
	CompareAndSetPhase(ctx context.Context, repo string, number int, expected, next Phase) (bool, error)

	// MarkCommented records a successful post: sets the initial-comment
	// flag, updates the reviewed revision when non-empty, and appends the
	// exchange to the bounded conversation summary.
	MarkCommented(ctx context.Context, repo string, number int, revision string, ex Exchange) error

	// SweepClosed deletes terminal-phase records older than the cutoff and
	// reports how many were removed. A zero retention disables sweeping.
	SweepClosed(ctx context.Context, retention time.Duration) (int, error)
}

// clipExchange enforces the per-exchange summary bound.
func clipExchange(ex Exchange) Exchange {
	if len(ex.Summary) > MaxExchangeSummaryLen {
		ex.Summary = ex.Summary[:MaxExchangeSummaryLen]
	}
	return ex
}

// appendBounded appends ex and ages out the oldest entries beyond the cap.
func appendBounded(conv []Exchange, ex Exchange) []Exchange {
	conv = append(conv, clipExchange(ex))
	if n := len(conv) - MaxConversationEntries; n > 0 {
		conv = append([]Exchange(nil), conv[n:]...)
	}
	return conv
}

// terminal reports whether a phase is eligible for retention sweeping.
func terminal(p Phase) bool {
	return p == PhaseClosed || p == PhaseClosedAsChatter
}
