/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"chainguard.dev/pullrider/event"
)

const (
	testSecret = "hunter2"
	rulesPath  = ".github/pullrider.yml"
)

type captureSubmitter struct {
	events []event.Event
	reject bool
}

func (c *captureSubmitter) Submit(ev event.Event) bool {
	if c.reject {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

type captureInvalidator struct {
	repos []string
}

func (c *captureInvalidator) Invalidate(owner, repo string) {
	c.repos = append(c.repos, owner+"/"+repo)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func deliver(t *testing.T, h http.Handler, eventType, signature string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-GitHub-Delivery", "delivery-123")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

var prOpenedPayload = []byte(`{
	"action": "opened",
	"repository": {"name": "widgets", "owner": {"login": "acme"}},
	"installation": {"id": 99},
	"pull_request": {
		"number": 7,
		"title": "Add frobnicator",
		"body": "adds the frobnicator",
		"draft": true,
		"user": {"login": "alice"},
		"head": {"sha": "abc123"}
	}
}`)

func TestValidDeliveryIsSubmitted(t *testing.T) {
	t.Parallel()

	sub := &captureSubmitter{}
	h := NewHandler(testSecret, sub, nil, rulesPath)

	w := deliver(t, h, "pull_request", sign(testSecret, prOpenedPayload), prOpenedPayload)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}

	want := event.Event{
		Kind:           event.KindPullRequest,
		Action:         event.ActionOpened,
		Owner:          "acme",
		Repo:           "widgets",
		Number:         7,
		Author:         "alice",
		Title:          "Add frobnicator",
		Body:           "adds the frobnicator",
		Draft:          true,
		HeadSHA:        "abc123",
		InstallationID: 99,
		DeliveryID:     "delivery-123",
	}
	if len(sub.events) != 1 {
		t.Fatalf("submitted %d events, want 1", len(sub.events))
	}
	if diff := cmp.Diff(want, sub.events[0]); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	t.Parallel()

	sub := &captureSubmitter{}
	h := NewHandler(testSecret, sub, nil, rulesPath)

	for name, sig := range map[string]string{
		"missing":      "",
		"wrong secret": sign("other-secret", prOpenedPayload),
		"garbage":      "sha256=deadbeef",
	} {
		w := deliver(t, h, "pull_request", sig, prOpenedPayload)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s signature: status = %d, want %d", name, w.Code, http.StatusForbidden)
		}
	}
	if len(sub.events) != 0 {
		t.Errorf("submitted %d events from unsigned deliveries, want 0", len(sub.events))
	}
}

func TestUnhandledEventTypeAcknowledged(t *testing.T) {
	t.Parallel()

	sub := &captureSubmitter{}
	h := NewHandler(testSecret, sub, nil, rulesPath)

	body := []byte(`{"action": "created", "repository": {"name": "widgets", "owner": {"login": "acme"}}}`)
	w := deliver(t, h, "star", sign(testSecret, body), body)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(sub.events) != 0 {
		t.Errorf("submitted %d events for a star delivery, want 0", len(sub.events))
	}
}

func TestPushTouchingRulesFileInvalidatesCache(t *testing.T) {
	t.Parallel()

	sub := &captureSubmitter{}
	inv := &captureInvalidator{}
	h := NewHandler(testSecret, sub, inv, rulesPath)

	body := []byte(`{
		"ref": "refs/heads/main",
		"repository": {"name": "widgets", "owner": {"login": "acme"}},
		"commits": [
			{"id": "c1", "added": [], "modified": ["README.md"], "removed": []},
			{"id": "c2", "added": [], "modified": [".github/pullrider.yml"], "removed": []}
		]
	}`)
	w := deliver(t, h, "push", sign(testSecret, body), body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(sub.events) != 0 {
		t.Errorf("submitted %d events for a push delivery, want 0", len(sub.events))
	}
	if diff := cmp.Diff([]string{"acme/widgets"}, inv.repos); diff != "" {
		t.Errorf("invalidated repos mismatch (-want +got):\n%s", diff)
	}
}

func TestPushElsewhereLeavesCacheAlone(t *testing.T) {
	t.Parallel()

	inv := &captureInvalidator{}
	h := NewHandler(testSecret, &captureSubmitter{}, inv, rulesPath)

	body := []byte(`{
		"ref": "refs/heads/main",
		"repository": {"name": "widgets", "owner": {"login": "acme"}},
		"commits": [
			{"id": "c1", "added": ["pkg/frob.go"], "modified": [], "removed": [".github/workflows/ci.yml"]}
		]
	}`)
	w := deliver(t, h, "push", sign(testSecret, body), body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(inv.repos) != 0 {
		t.Errorf("invalidated %v for a push that never touched the rules file, want none", inv.repos)
	}
}

func TestRemovedRulesFileInvalidatesCache(t *testing.T) {
	t.Parallel()

	inv := &captureInvalidator{}
	h := NewHandler(testSecret, &captureSubmitter{}, inv, rulesPath)

	body := []byte(`{
		"ref": "refs/heads/main",
		"repository": {"name": "widgets", "owner": {"login": "acme"}},
		"commits": [
			{"id": "c1", "added": [], "modified": [], "removed": [".github/pullrider.yml"]}
		]
	}`)
	deliver(t, h, "push", sign(testSecret, body), body)
	if diff := cmp.Diff([]string{"acme/widgets"}, inv.repos); diff != "" {
		t.Errorf("invalidated repos mismatch (-want +got):\n%s", diff)
	}
}

func TestSuppressedDuplicateStillAcknowledged(t *testing.T) {
	t.Parallel()

	h := NewHandler(testSecret, &captureSubmitter{reject: true}, nil, rulesPath)
	w := deliver(t, h, "pull_request", sign(testSecret, prOpenedPayload), prOpenedPayload)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (acknowledge so the platform does not redeliver)", w.Code, http.StatusOK)
	}
}

func TestParseIssueCommentEvent(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"action": "created",
		"repository": {"name": "widgets", "owner": {"login": "acme"}},
		"issue": {
			"number": 7,
			"title": "Add frobnicator",
			"user": {"login": "alice"},
			"pull_request": {"url": "https://api.github.com/repos/acme/widgets/pulls/7"}
		},
		"comment": {"id": 555, "body": "@pullrider take another look", "user": {"login": "bob"}}
	}`)

	got, ok, err := ParseEvent("issue_comment", payload)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if !ok {
		t.Fatal("ParseEvent() ok = false, want true")
	}

	want := event.Event{
		Kind:          event.KindComment,
		Action:        event.ActionCreated,
		Owner:         "acme",
		Repo:          "widgets",
		Number:        7,
		Author:        "bob",
		Title:         "Add frobnicator",
		Body:          "@pullrider take another look",
		CommentID:     555,
		OnPullRequest: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestParseIssuesEventSkipsPullRequestMirror(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"action": "opened",
		"repository": {"name": "widgets", "owner": {"login": "acme"}},
		"issue": {
			"number": 7,
			"pull_request": {"url": "https://api.github.com/repos/acme/widgets/pulls/7"}
		}
	}`)

	_, ok, err := ParseEvent("issues", payload)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ok {
		t.Error("ParseEvent() ok = true for the issues mirror of a PR, want false")
	}
}

func TestParseIssuesEvent(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"action": "opened",
		"repository": {"name": "widgets", "owner": {"login": "acme"}},
		"issue": {
			"number": 42,
			"title": "hello",
			"body": "hello",
			"user": {"login": "bob"}
		}
	}`)

	got, ok, err := ParseEvent("issues", payload)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if !ok {
		t.Fatal("ParseEvent() ok = false, want true")
	}
	want := event.Event{
		Kind:   event.KindIssue,
		Action: event.ActionOpened,
		Owner:  "acme",
		Repo:   "widgets",
		Number: 42,
		Author: "bob",
		Title:  "hello",
		Body:   "hello",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}
