/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package event

import (
	"errors"
	"fmt"
	"strings"
)

// Intent is the semantic meaning of an inbound event.
type Intent string

const (
	// IntentIgnore means no response is owed.
	IntentIgnore Intent = "ignore"
	// IntentDeferDraft means a one-time courtesy note is owed on a draft PR.
	IntentDeferDraft Intent = "defer_draft"
	// IntentReviewPR means a full review is owed.
	IntentReviewPR Intent = "review_pr"
	// IntentReReview means the bot was mentioned on a PR and owes a fresh
	// comment that acknowledges its earlier advice.
	IntentReReview Intent = "re_review"
	// IntentRespondIssueComment means the bot was mentioned on an issue.
	IntentRespondIssueComment Intent = "respond_issue_comment"
	// IntentTriageIssue means a newly opened issue needs triage.
	IntentTriageIssue Intent = "triage_issue"
	// IntentMarkClosed means the subject was closed and its thread record
	// should reach its terminal phase.
	IntentMarkClosed Intent = "mark_closed"
)

// ErrMalformedEvent reports an event missing fields required for
// classification. Such events are dropped without retry; redelivery is the
// platform's responsibility.
var ErrMalformedEvent = errors.New("malformed event")

// Classifier maps raw events to intents.
type Classifier struct {
	// MentionToken triggers re-review when present in a comment body.
	// Matching is case-sensitive substring containment.
	MentionToken string
	// BotLogin is the bot's own account login; its comments never trigger.
	BotLogin string
}

// Classify maps an event to an intent, in strict priority order. A nil error
// with IntentIgnore is the common case for actions the bot does not react to.
func (c Classifier) Classify(ev Event) (Intent, error) {
	if ev.Owner == "" || ev.Repo == "" || ev.Number <= 0 {
		return IntentIgnore, fmt.Errorf("%w: missing subject identity (owner=%q repo=%q number=%d)",
			ErrMalformedEvent, ev.Owner, ev.Repo, ev.Number)
	}

	switch ev.Kind {
	case KindPullRequest:
		switch ev.Action {
		case ActionOpened:
			if ev.Draft {
				return IntentDeferDraft, nil
			}
			return IntentReviewPR, nil
		case ActionReadyForReview:
			return IntentReviewPR, nil
		case ActionClosed:
			return IntentMarkClosed, nil
		}
		return IntentIgnore, nil

	case KindIssue:
		switch ev.Action {
		case ActionOpened:
			return IntentTriageIssue, nil
		case ActionClosed:
			return IntentMarkClosed, nil
		}
		return IntentIgnore, nil

	case KindComment:
		if ev.Action != ActionCreated {
			return IntentIgnore, nil
		}
		if ev.Author == c.BotLogin {
			// Never respond to ourselves.
			return IntentIgnore, nil
		}
		if c.MentionToken == "" || !strings.Contains(ev.Body, c.MentionToken) {
			return IntentIgnore, nil
		}
		if ev.OnPullRequest {
			return IntentReReview, nil
		}
		return IntentRespondIssueComment, nil

	case "":
		return IntentIgnore, fmt.Errorf("%w: missing kind", ErrMalformedEvent)
	}

	return IntentIgnore, nil
}
