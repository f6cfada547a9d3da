/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package event defines the inbound event model and the intent classifier
// that decides what, if anything, the bot owes in response.
package event

import "fmt"

// Kind is the platform object an event concerns.
type Kind string

const (
	KindPullRequest Kind = "pull_request"
	KindIssue       Kind = "issue"
	KindComment     Kind = "comment"
)

// Action is the platform action verb carried by the event.
type Action string

const (
	ActionOpened         Action = "opened"
	ActionReadyForReview Action = "ready_for_review"
	ActionEdited         Action = "edited"
	ActionCreated        Action = "created"
	ActionClosed         Action = "closed"
	ActionSynchronize    Action = "synchronize"
)

// Event is an immutable inbound platform event. Fields beyond the identity
// tuple are populated on a best-effort basis by the webhook decoder; the
// classifier validates what it needs.
type Event struct {
	Kind   Kind
	Action Action

	// Owner/Repo/Number identify the subject.
	Owner  string
	Repo   string
	Number int

	Author string
	Title  string
	Body   string

	// Draft is meaningful for pull request events only.
	Draft bool

	// OnPullRequest distinguishes comments on PRs from comments on issues.
	OnPullRequest bool

	// HeadSHA is the PR head revision when known; used as the opaque
	// revision token for duplicate-delivery detection.
	HeadSHA string

	// CommentID is the platform comment identifier for comment events. Two
	// mentions on the same subject carry distinct comment IDs; redeliveries
	// of the same mention share one.
	CommentID int64

	// InstallationID identifies the app installation for credential
	// resolution downstream.
	InstallationID int64

	// DeliveryID is the platform's delivery GUID, for logging only.
	DeliveryID string
}

// RepoFullName returns the owner-qualified repository name.
func (e Event) RepoFullName() string {
	return e.Owner + "/" + e.Repo
}

// SubjectKey identifies the PR or issue this event concerns, for per-subject
// bookkeeping.
func (e Event) SubjectKey() string {
	return fmt.Sprintf("%s/%s#%d", e.Owner, e.Repo, e.Number)
}

// DedupeKey distinguishes redeliveries of the same logical event from
// distinct events on the same subject. Comment events are keyed by comment
// ID so a second mention is answered rather than swallowed as a duplicate.
func (e Event) DedupeKey() string {
	if e.Kind == KindComment {
		return fmt.Sprintf("%s/%s/%s#%d/%d", e.Kind, e.Action, e.RepoFullName(), e.Number, e.CommentID)
	}
	return fmt.Sprintf("%s/%s/%s#%d/%s", e.Kind, e.Action, e.RepoFullName(), e.Number, e.HeadSHA)
}
