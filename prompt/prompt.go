/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package prompt composes the instruction text sent to the model. Every
// composition is a pure function of its inputs: the same review context
// always yields the same prompt, so prompt content is directly testable.
package prompt

import (
	"fmt"
	"strings"

	"chainguard.dev/pullrider/assemble"
	"chainguard.dev/pullrider/promptbuilder"
)

// TriageCategory is the model's classification of a new issue.
type TriageCategory string

const (
	CategoryBugReport      TriageCategory = "Bug Report"
	CategoryFeatureRequest TriageCategory = "Feature Request"
	CategoryQuestion       TriageCategory = "Question"
	CategorySocial         TriageCategory = "Social"
	CategorySpamUnclear    TriageCategory = "Spam/Unclear"
)

// TriageResult is the structured response requested for new issues.
type TriageResult struct {
	// Category is one of the TriageCategory values.
	Category TriageCategory `json:"category" jsonschema:"required,enum=Bug Report,enum=Feature Request,enum=Question,enum=Social,enum=Spam/Unclear"`
	// Reply is the comment to post, written for the issue author.
	Reply string `json:"reply" jsonschema:"required"`
}

// ShouldClose reports whether the category warrants closing the issue.
// Social chat and general questions are redirected and closed; everything
// else stays open with coaching.
func (r TriageResult) ShouldClose() bool {
	return r.Category == CategorySocial || r.Category == CategoryQuestion
}

// CommentResult is the structured response requested for issue comments
// that mention the bot.
type CommentResult struct {
	// Substantive is false for social or non-actionable chatter.
	Substantive bool `json:"substantive"`
	// Reply is the comment to post.
	Reply string `json:"reply" jsonschema:"required"`
}

var reviewPrompt = promptbuilder.Must(`ROLE: PullRider, an expert code reviewer with a friendly, direct voice.

TASK: Review the pull request below. Summarize the change, praise what is
done well, and flag bugs, risks, and style problems. Cite specific files and
lines. Apply the repository's custom rules where any are given.

PR TITLE: {{title}}

CUSTOM RULES TO ENFORCE:
{{rules}}

FULL FILE CONTENTS:
{{files}}

DIFF:
{{diff}}
{{caveats}}
Write a concise, human review in Markdown. Actionable suggestions over
exhaustive lists; keep it friendly and to the point.`)

var reReviewPrompt = promptbuilder.Must(`ROLE: PullRider, doing a follow-up review after being mentioned.

TASK: You reviewed this pull request before; your earlier comments are below.
Acknowledge the updates, check whether your main suggestions were addressed
(praise the ones that were, gently restate the ones that were not), and
review what changed since for new issues.

PR TITLE: {{title}}

YOUR PREVIOUS COMMENTS (oldest first):
{{conversation}}

CUSTOM RULES TO ENFORCE:
{{rules}}

FULL FILE CONTENTS:
{{files}}

DIFF:
{{diff}}
{{caveats}}
Keep it short, conversational, and focused on what changed since last time.`)

var triagePrompt = promptbuilder.Must(`ROLE: PullRider, triaging a newly opened issue.

TASK: Classify the issue and write the reply to post.
- Bug Report / Feature Request / Spam-Unclear: assess the report's quality.
  If it is vague or missing detail (steps, versions, expected behavior),
  coach the author on what to add, specifically and kindly. If it is a
  well-written report, say so.
- Social: a greeting or chat, not a real issue. Write a short, witty, warm
  reply and mention the issue will be closed to keep the tracker tidy.
- Question: point the author at the repository's discussion space and
  mention the issue will be closed.

ISSUE AUTHOR: {{author}}
ISSUE TITLE: {{title}}
ISSUE BODY:
{{body}}

Respond with JSON only, matching this schema:
{{schema}}`)

var issueCommentPrompt = promptbuilder.Must(`ROLE: PullRider, replying after being mentioned on an issue.

TASK: Decide whether the comment is substantive (a real question or report
about the issue) or social chatter, and write the reply to post. For
substantive comments, answer helpfully using the thread so far. For chatter,
reply briefly and playfully.

ISSUE TITLE: {{title}}
THREAD SO FAR (your prior replies, oldest first):
{{conversation}}

COMMENT FROM {{author}}:
{{comment}}

Respond with JSON only, matching this schema:
{{schema}}`)

// DraftCourtesy is the fixed note posted once on a draft PR. No model call
// is involved.
func DraftCourtesy(author string) string {
	return fmt.Sprintf("Hey @%s, thanks for starting this PR! Since it's still a draft, "+
		"I'll hold off on a full review until you mark it ready. No pressure — "+
		"just flip it to \"Ready for review\" when you want my take.", author)
}

// TrivialAcknowledgement is the fixed note for docs-only changes. No model
// call is involved.
func TrivialAcknowledgement(author string) string {
	return fmt.Sprintf("Thanks for the cleanup, @%s! Docs and housekeeping changes like "+
		"this don't need a full review from me — appreciated as always.", author)
}

// Review composes the full-review prompt.
func Review(rc *assemble.ReviewContext) (string, error) {
	return bindReview(reviewPrompt, rc)
}

// ReReview composes the follow-up prompt, which additionally carries the
// bot's prior comments.
func ReReview(rc *assemble.ReviewContext) (string, error) {
	p, err := reReviewPrompt.Bind("conversation", renderConversation(rc.Conversation))
	if err != nil {
		return "", err
	}
	return bindReview(p, rc)
}

// TriageIssue composes the issue-triage prompt, requesting a TriageResult.
func TriageIssue(author, title, body string) (string, error) {
	schema, err := schemaJSON[TriageResult]()
	if err != nil {
		return "", err
	}
	if body == "" {
		body = "(no description provided)"
	}
	p := triagePrompt
	for name, value := range map[string]string{
		"author": author,
		"title":  title,
		"body":   body,
		"schema": schema,
	} {
		if p, err = p.Bind(name, value); err != nil {
			return "", err
		}
	}
	return p.Build()
}

// IssueComment composes the mention-reply prompt, requesting a CommentResult.
func IssueComment(author, title, comment string, conversation []string) (string, error) {
	schema, err := schemaJSON[CommentResult]()
	if err != nil {
		return "", err
	}
	p := issueCommentPrompt
	for name, value := range map[string]string{
		"author":       author,
		"title":        title,
		"comment":      comment,
		"conversation": renderConversation(conversation),
		"schema":       schema,
	} {
		if p, err = p.Bind(name, value); err != nil {
			return "", err
		}
	}
	return p.Build()
}

func bindReview(p *promptbuilder.Prompt, rc *assemble.ReviewContext) (string, error) {
	var err error
	if p, err = p.Bind("title", rc.Title); err != nil {
		return "", err
	}
	if rc.Rules.Empty() {
		p, err = p.Bind("rules", "No custom rules declared.")
	} else {
		p, err = p.BindYAML("rules", rc.Rules.Rules)
	}
	if err != nil {
		return "", err
	}
	if p, err = p.Bind("files", renderFiles(rc.Files)); err != nil {
		return "", err
	}
	if p, err = p.Bind("diff", renderDiff(rc.Diff)); err != nil {
		return "", err
	}
	if p, err = p.Bind("caveats", renderCaveats(rc)); err != nil {
		return "", err
	}
	return p.Build()
}

// renderFiles lays out full file contents in path order (the assembler
// sorts), fencing each file.
func renderFiles(files []assemble.File) string {
	if len(files) == 0 {
		return "(no file contents available)"
	}
	var sb strings.Builder
	for i, f := range files {
		if i > 0 {
			sb.WriteString("\n")
		}
		if f.Trimmed {
			fmt.Fprintf(&sb, "--- %s ---\n(content omitted to fit the context budget; see diff)\n", f.Path)
			continue
		}
		fmt.Fprintf(&sb, "--- %s ---\n```\n%s\n```\n", f.Path, strings.TrimRight(f.Content, "\n"))
	}
	return sb.String()
}

func renderDiff(diff string) string {
	if diff == "" {
		return "(no diff available)"
	}
	return "```diff\n" + strings.TrimRight(diff, "\n") + "\n```"
}

func renderConversation(conversation []string) string {
	if len(conversation) == 0 {
		return "(no prior comments on record)"
	}
	var sb strings.Builder
	for i, c := range conversation {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, strings.TrimSpace(c))
	}
	return sb.String()
}

// renderCaveats adds degradation notices the model must surface in its
// reply, so a partial review never masquerades as a complete one.
func renderCaveats(rc *assemble.ReviewContext) string {
	var caveats []string
	if rc.Truncated {
		caveats = append(caveats,
			"NOTE: The context was truncated to fit size limits. State clearly in your reply that this is a partial review.")
	}
	if rc.RulesDegraded {
		caveats = append(caveats,
			"NOTE: The repository's custom rules file could not be parsed. Mention in your reply that custom rules were skipped.")
	}
	if len(caveats) == 0 {
		return ""
	}
	return "\n" + strings.Join(caveats, "\n") + "\n"
}
