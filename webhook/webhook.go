/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package webhook turns GitHub webhook deliveries into events. Deliveries
// must carry a valid X-Hub-Signature-256; event types the agent does not act
// on are acknowledged and dropped.
package webhook

import (
	"fmt"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"

	"chainguard.dev/pullrider/event"
	"chainguard.dev/pullrider/metrics"
)

// Submitter accepts decoded events for processing. Satisfied by
// dispatch.Dispatcher.
type Submitter interface {
	Submit(ev event.Event) bool
}

// RuleInvalidator drops a repository's cached rules so the next unit of work
// rereads them. Satisfied by rules.Loader.
type RuleInvalidator interface {
	Invalidate(owner, repo string)
}

// Handler is the /webhook endpoint.
type Handler struct {
	secret      []byte
	submitter   Submitter
	invalidator RuleInvalidator
	rulesPath   string
}

// NewHandler creates the webhook endpoint. secret is the shared webhook
// secret used to verify delivery signatures. Pushes touching rulesPath
// invalidate the repository's cached rules.
func NewHandler(secret string, submitter Submitter, invalidator RuleInvalidator, rulesPath string) *Handler {
	return &Handler{
		secret:      []byte(secret),
		submitter:   submitter,
		invalidator: invalidator,
		rulesPath:   rulesPath,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := clog.FromContext(r.Context()).With("delivery_id", github.DeliveryID(r))

	// ValidatePayload compares the HMAC SHA-256 signature in constant time.
	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		log.With("error", err).Warn("Rejecting delivery with bad signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	if github.WebHookType(r) == "push" {
		h.handlePush(r, w, payload)
		return
	}

	ev, ok, err := ParseEvent(github.WebHookType(r), payload)
	if err != nil {
		log.With("error", err).Warn("Undecodable payload")
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if !ok {
		// Not an event type the agent acts on.
		w.WriteHeader(http.StatusOK)
		return
	}
	ev.DeliveryID = github.DeliveryID(r)

	metrics.EventsReceived.WithLabelValues(string(ev.Kind)).Inc()
	if !h.submitter.Submit(ev) {
		// Suppressed duplicate or draining; either way the delivery is
		// acknowledged so the platform does not redeliver.
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handlePush invalidates cached rules when a push touches the rules path.
// Pushes never become units of work; they only keep the rules cache honest.
func (h *Handler) handlePush(r *http.Request, w http.ResponseWriter, payload []byte) {
	log := clog.FromContext(r.Context()).With("delivery_id", github.DeliveryID(r))

	hook, err := github.ParseWebHook("push", payload)
	if err != nil {
		log.With("error", err).Warn("Undecodable push payload")
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	push, ok := hook.(*github.PushEvent)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.invalidator != nil && pushTouches(push, h.rulesPath) {
		owner := push.GetRepo().GetOwner().GetLogin()
		repo := push.GetRepo().GetName()
		h.invalidator.Invalidate(owner, repo)
		log.With("repo", owner+"/"+repo, "path", h.rulesPath).
			Info("Rules file changed, dropping cached rules")
	}
	w.WriteHeader(http.StatusOK)
}

// pushTouches reports whether any commit in the push added, modified, or
// removed the given path.
func pushTouches(push *github.PushEvent, path string) bool {
	for _, c := range push.Commits {
		for _, changed := range [][]string{c.Added, c.Modified, c.Removed} {
			for _, p := range changed {
				if p == path {
					return true
				}
			}
		}
	}
	return false
}

// ParseEvent decodes a webhook payload into an event. ok is false for event
// types the agent ignores.
func ParseEvent(eventType string, payload []byte) (event.Event, bool, error) {
	hook, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return event.Event{}, false, fmt.Errorf("parsing %s payload: %w", eventType, err)
	}

	switch e := hook.(type) {
	case *github.PullRequestEvent:
		pr := e.GetPullRequest()
		return event.Event{
			Kind:           event.KindPullRequest,
			Action:         event.Action(e.GetAction()),
			Owner:          e.GetRepo().GetOwner().GetLogin(),
			Repo:           e.GetRepo().GetName(),
			Number:         pr.GetNumber(),
			Author:         pr.GetUser().GetLogin(),
			Title:          pr.GetTitle(),
			Body:           pr.GetBody(),
			Draft:          pr.GetDraft(),
			HeadSHA:        pr.GetHead().GetSHA(),
			InstallationID: e.GetInstallation().GetID(),
		}, true, nil

	case *github.IssuesEvent:
		issue := e.GetIssue()
		if issue.IsPullRequest() {
			// PR lifecycle arrives via pull_request events; the issues
			// mirror would double-count.
			return event.Event{}, false, nil
		}
		return event.Event{
			Kind:           event.KindIssue,
			Action:         event.Action(e.GetAction()),
			Owner:          e.GetRepo().GetOwner().GetLogin(),
			Repo:           e.GetRepo().GetName(),
			Number:         issue.GetNumber(),
			Author:         issue.GetUser().GetLogin(),
			Title:          issue.GetTitle(),
			Body:           issue.GetBody(),
			InstallationID: e.GetInstallation().GetID(),
		}, true, nil

	case *github.IssueCommentEvent:
		issue := e.GetIssue()
		return event.Event{
			Kind:           event.KindComment,
			Action:         event.Action(e.GetAction()),
			Owner:          e.GetRepo().GetOwner().GetLogin(),
			Repo:           e.GetRepo().GetName(),
			Number:         issue.GetNumber(),
			Author:         e.GetComment().GetUser().GetLogin(),
			Title:          issue.GetTitle(),
			Body:           e.GetComment().GetBody(),
			CommentID:      e.GetComment().GetID(),
			OnPullRequest:  issue.IsPullRequest(),
			InstallationID: e.GetInstallation().GetID(),
		}, true, nil

	default:
		return event.Event{}, false, nil
	}
}
