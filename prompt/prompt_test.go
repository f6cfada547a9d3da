/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package prompt

import (
	"strings"
	"testing"

	"chainguard.dev/pullrider/assemble"
	"chainguard.dev/pullrider/rules"
)

func sampleContext() *assemble.ReviewContext {
	return &assemble.ReviewContext{
		Title: "Add frobnicator",
		Files: []assemble.File{
			{Path: "a.go", Content: "package a\n\nfunc Frob() {}\n"},
			{Path: "b.go", Content: "package a\n\nfunc Nicate() {}\n"},
		},
		Diff:  "diff --git a/a.go b/a.go\n+func Frob() {}",
		Rules: rules.RuleSet{Repo: "octo/widgets", Rules: []string{"Avoid global state"}},
	}
}

func TestReviewDeterministic(t *testing.T) {
	one, err := Review(sampleContext())
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	two, err := Review(sampleContext())
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if one != two {
		t.Error("Review is not deterministic for identical inputs")
	}
}

func TestReviewContent(t *testing.T) {
	got, err := Review(sampleContext())
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	for _, want := range []string{
		"Add frobnicator",
		"--- a.go ---",
		"func Frob() {}",
		"--- b.go ---",
		"Avoid global state",
		"```diff",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "truncated") {
		t.Error("untruncated context should carry no truncation caveat")
	}
}

func TestReviewEmptyRules(t *testing.T) {
	rc := sampleContext()
	rc.Rules = rules.RuleSet{Repo: "octo/widgets"}
	got, err := Review(rc)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !strings.Contains(got, "No custom rules declared.") {
		t.Error("empty rule set should be stated explicitly")
	}
}

func TestReviewCaveats(t *testing.T) {
	rc := sampleContext()
	rc.Truncated = true
	rc.RulesDegraded = true
	got, err := Review(rc)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !strings.Contains(got, "truncated") {
		t.Error("truncated context must carry a partial-review caveat")
	}
	if !strings.Contains(got, "could not be parsed") {
		t.Error("degraded rules must carry a caveat")
	}
}

func TestReviewTrimmedFilePlaceholder(t *testing.T) {
	rc := sampleContext()
	rc.Files[1].Content = ""
	rc.Files[1].Trimmed = true
	got, err := Review(rc)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !strings.Contains(got, "content omitted") {
		t.Error("trimmed file should be marked as omitted")
	}
}

func TestReReviewCarriesConversation(t *testing.T) {
	rc := sampleContext()
	rc.Conversation = []string{"I flagged the unbounded loop in a.go.", "Second pass: loop still unbounded."}
	got, err := ReReview(rc)
	if err != nil {
		t.Fatalf("ReReview: %v", err)
	}
	if !strings.Contains(got, "unbounded loop in a.go") {
		t.Error("prior conversation missing from re-review prompt")
	}
	if !strings.Contains(got, "[2] Second pass") {
		t.Error("conversation entries should be numbered oldest first")
	}
}

func TestTriageIssuePrompt(t *testing.T) {
	got, err := TriageIssue("octocat", "it broke", "")
	if err != nil {
		t.Fatalf("TriageIssue: %v", err)
	}
	for _, want := range []string{
		"octocat",
		"it broke",
		"(no description provided)",
		`"category"`,
		"Spam/Unclear",
		"JSON only",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("triage prompt missing %q", want)
		}
	}

	// Determinism matters for triage too.
	again, err := TriageIssue("octocat", "it broke", "")
	if err != nil {
		t.Fatalf("TriageIssue: %v", err)
	}
	if got != again {
		t.Error("TriageIssue is not deterministic")
	}
}

func TestIssueCommentPrompt(t *testing.T) {
	got, err := IssueComment("octocat", "login fails", "@pullrider any update?", []string{"I asked for a stack trace."})
	if err != nil {
		t.Fatalf("IssueComment: %v", err)
	}
	for _, want := range []string{
		"login fails",
		"@pullrider any update?",
		"stack trace",
		`"substantive"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("comment prompt missing %q", want)
		}
	}
}

func TestFixedMessages(t *testing.T) {
	if !strings.Contains(DraftCourtesy("octocat"), "@octocat") {
		t.Error("draft courtesy should address the author")
	}
	if !strings.Contains(TrivialAcknowledgement("octocat"), "@octocat") {
		t.Error("trivial acknowledgement should address the author")
	}
}

func TestTriageShouldClose(t *testing.T) {
	tests := []struct {
		category TriageCategory
		want     bool
	}{
		{CategorySocial, true},
		{CategoryQuestion, true},
		{CategoryBugReport, false},
		{CategoryFeatureRequest, false},
		{CategorySpamUnclear, false},
	}
	for _, tc := range tests {
		if got := (TriageResult{Category: tc.category}).ShouldClose(); got != tc.want {
			t.Errorf("ShouldClose(%q) = %v, want %v", tc.category, got, tc.want)
		}
	}
}
