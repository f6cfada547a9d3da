/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package orchestrate runs the per-event control loop: classify the event,
// read the thread phase, assemble context, call the model, and post at most
// one comment guarded by the tracker's compare-and-set. The CAS is the only
// synchronization; losing it means another unit of work owns the transition
// and this one abandons its pending post silently.
package orchestrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"

	"chainguard.dev/pullrider/assemble"
	"chainguard.dev/pullrider/event"
	"chainguard.dev/pullrider/inference"
	"chainguard.dev/pullrider/metrics"
	"chainguard.dev/pullrider/prompt"
	"chainguard.dev/pullrider/rules"
	"chainguard.dev/pullrider/state"
)

// Publisher is the posting surface the orchestrator needs. Satisfied by
// publish.Publisher.
type Publisher interface {
	Comment(ctx context.Context, ev event.Event, intent, revision, body string) error
	CommentAndClose(ctx context.Context, ev event.Event, intent, body string) error
}

// PullRequestGetter reads current pull request state. Comment events do not
// carry a head revision, so mention-driven work resolves it at processing
// time. Satisfied by ghclient.Client.
type PullRequestGetter interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
}

// Config collects the orchestrator's collaborators.
type Config struct {
	Classifier   event.Classifier
	Tracker      state.Tracker
	Rules        *rules.Loader
	Assembler    *assemble.Assembler
	Provider     assemble.ContentProvider
	PullRequests PullRequestGetter
	Model        inference.Client
	Publisher    Publisher
}

// Orchestrator handles one event at a time; units of work for different
// events may run concurrently.
type Orchestrator struct {
	classifier event.Classifier
	tracker    state.Tracker
	rules      *rules.Loader
	assembler  *assemble.Assembler
	provider   assemble.ContentProvider
	prs        PullRequestGetter
	model      inference.Client
	publisher  Publisher
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		classifier: cfg.Classifier,
		tracker:    cfg.Tracker,
		rules:      cfg.Rules,
		assembler:  cfg.Assembler,
		provider:   cfg.Provider,
		prs:        cfg.PullRequests,
		model:      cfg.Model,
		publisher:  cfg.Publisher,
	}
}

// Handle processes one inbound event to completion. Malformed events are
// dropped with a log line, not returned as errors; redeliveries and lost
// races are no-ops.
func (o *Orchestrator) Handle(ctx context.Context, ev event.Event) error {
	log := clog.FromContext(ctx).With("delivery_id", ev.DeliveryID, "subject", ev.SubjectKey())
	ctx = clog.WithLogger(ctx, log)

	intent, err := o.classifier.Classify(ev)
	if err != nil {
		if errors.Is(err, event.ErrMalformedEvent) {
			metrics.MalformedEvents.Inc()
			log.With("error", err).Warn("Dropping malformed event")
			return nil
		}
		return fmt.Errorf("classifying event: %w", err)
	}
	metrics.IntentsClassified.WithLabelValues(string(intent)).Inc()
	log = log.With("intent", string(intent))
	ctx = clog.WithLogger(ctx, log)

	switch intent {
	case event.IntentIgnore:
		return nil
	case event.IntentDeferDraft:
		return o.deferDraft(ctx, ev)
	case event.IntentReviewPR:
		return o.reviewPR(ctx, ev)
	case event.IntentReReview:
		return o.reReview(ctx, ev)
	case event.IntentTriageIssue:
		return o.triageIssue(ctx, ev)
	case event.IntentRespondIssueComment:
		return o.respondIssueComment(ctx, ev)
	case event.IntentMarkClosed:
		return o.markClosed(ctx, ev)
	default:
		log.Warn("Unhandled intent")
		return nil
	}
}

// deferDraft posts the courtesy note on a freshly opened draft, exactly once.
func (o *Orchestrator) deferDraft(ctx context.Context, ev event.Event) error {
	won, err := o.tracker.CompareAndSetPhase(ctx, ev.RepoFullName(), ev.Number, state.PhaseNew, state.PhaseAwaitingReady)
	if err != nil {
		return fmt.Errorf("transitioning %s to awaiting-ready: %w", ev.SubjectKey(), err)
	}
	if !won {
		metrics.CASLosses.Inc()
		return nil
	}
	return o.publisher.Comment(ctx, ev, string(event.IntentDeferDraft), "", prompt.DraftCourtesy(ev.Author))
}

// reviewPR produces the one full review a PR gets on open or on leaving
// draft. The CAS into the reviewed phase runs after inference so a lost race
// discards the pending post, never the other way around.
func (o *Orchestrator) reviewPR(ctx context.Context, ev event.Event) error {
	log := clog.FromContext(ctx)

	thread, ok, err := o.tracker.Get(ctx, ev.RepoFullName(), ev.Number)
	if err != nil {
		return fmt.Errorf("reading thread for %s: %w", ev.SubjectKey(), err)
	}
	expected := state.PhaseNew
	if ok {
		expected = thread.Phase
	}

	if expected == state.PhaseReviewed && ev.HeadSHA != "" && thread.LastReviewedRevision == ev.HeadSHA {
		log.With("revision", ev.HeadSHA).Info("Revision already reviewed, ignoring redelivery")
		return nil
	}
	if expected != state.PhaseNew && expected != state.PhaseAwaitingReady {
		// Re-entering an occupied phase is a no-op, not an error.
		log.With("phase", string(expected)).Info("Subject already past review, ignoring")
		return nil
	}

	changed, err := o.provider.ListChangedFiles(ctx, ev.Owner, ev.Repo, ev.Number)
	if err != nil {
		return fmt.Errorf("listing changed files for %s: %w", ev.SubjectKey(), err)
	}

	if assemble.IsTrivial(changed) {
		won, err := o.tracker.CompareAndSetPhase(ctx, ev.RepoFullName(), ev.Number, expected, state.PhaseReviewed)
		if err != nil {
			return fmt.Errorf("transitioning %s to reviewed: %w", ev.SubjectKey(), err)
		}
		if !won {
			metrics.CASLosses.Inc()
			return nil
		}
		return o.publisher.Comment(ctx, ev, string(event.IntentReviewPR), ev.HeadSHA, prompt.TrivialAcknowledgement(ev.Author))
	}

	rc, err := o.assembler.AssembleFromFiles(ctx, ev, changed, false)
	if err != nil {
		return fmt.Errorf("assembling context for %s: %w", ev.SubjectKey(), err)
	}
	o.applyRules(ctx, ev, rc)

	p, err := prompt.Review(rc)
	if err != nil {
		return fmt.Errorf("building review prompt for %s: %w", ev.SubjectKey(), err)
	}
	body, err := o.complete(ctx, p)
	if err != nil {
		return err
	}

	won, err := o.tracker.CompareAndSetPhase(ctx, ev.RepoFullName(), ev.Number, expected, state.PhaseReviewed)
	if err != nil {
		return fmt.Errorf("transitioning %s to reviewed: %w", ev.SubjectKey(), err)
	}
	if !won {
		// Another unit of work reviewed this subject first. Discard the
		// pending post.
		metrics.CASLosses.Inc()
		log.Info("Lost review transition, abandoning pending post")
		return nil
	}
	return o.publisher.Comment(ctx, ev, string(event.IntentReviewPR), ev.HeadSHA, body)
}

// reReview responds to an explicit mention on an already-reviewed PR. It
// posts a fresh comment informed by the bot's earlier ones and changes no
// phase; serialization against duplicate mentions is the dispatcher's job.
func (o *Orchestrator) reReview(ctx context.Context, ev event.Event) error {
	// Mentions arrive as comment events, which never carry the head
	// revision. Fetching file contents without a ref would read the default
	// branch against a diff from the PR head, so resolve the head first.
	if ev.HeadSHA == "" {
		pr, err := o.prs.GetPullRequest(ctx, ev.Owner, ev.Repo, ev.Number)
		if err != nil {
			return fmt.Errorf("resolving head revision for %s: %w", ev.SubjectKey(), err)
		}
		ev.HeadSHA = pr.GetHead().GetSHA()
	}

	rc, err := o.assembler.Assemble(ctx, ev, true)
	if err != nil {
		return fmt.Errorf("assembling context for %s: %w", ev.SubjectKey(), err)
	}
	o.applyRules(ctx, ev, rc)

	p, err := prompt.ReReview(rc)
	if err != nil {
		return fmt.Errorf("building re-review prompt for %s: %w", ev.SubjectKey(), err)
	}
	body, err := o.complete(ctx, p)
	if err != nil {
		return err
	}
	return o.publisher.Comment(ctx, ev, string(event.IntentReReview), ev.HeadSHA, body)
}

// triageIssue classifies a newly opened issue and either closes it with a
// reply (social chatter, questions) or posts coaching and leaves it open.
func (o *Orchestrator) triageIssue(ctx context.Context, ev event.Event) error {
	p, err := prompt.TriageIssue(ev.Author, ev.Title, ev.Body)
	if err != nil {
		return fmt.Errorf("building triage prompt for %s: %w", ev.SubjectKey(), err)
	}
	text, err := o.complete(ctx, p)
	if err != nil {
		return err
	}
	res, err := inference.Extract[prompt.TriageResult](text)
	if err != nil {
		metrics.InferenceFailures.Inc()
		return fmt.Errorf("parsing triage result for %s: %w", ev.SubjectKey(), err)
	}
	clog.FromContext(ctx).With("category", string(res.Category)).Info("Triaged issue")

	next := state.PhaseAwaitingImprovement
	if res.ShouldClose() {
		next = state.PhaseClosedAsChatter
	}
	won, err := o.tracker.CompareAndSetPhase(ctx, ev.RepoFullName(), ev.Number, state.PhaseNew, next)
	if err != nil {
		return fmt.Errorf("transitioning %s to %s: %w", ev.SubjectKey(), next, err)
	}
	if !won {
		metrics.CASLosses.Inc()
		return nil
	}
	if res.ShouldClose() {
		return o.publisher.CommentAndClose(ctx, ev, string(event.IntentTriageIssue), res.Reply)
	}
	return o.publisher.Comment(ctx, ev, string(event.IntentTriageIssue), "", res.Reply)
}

// respondIssueComment replies to a mention on an issue, feeding the model the
// bot's prior replies from the thread record. No phase change.
func (o *Orchestrator) respondIssueComment(ctx context.Context, ev event.Event) error {
	thread, _, err := o.tracker.Get(ctx, ev.RepoFullName(), ev.Number)
	if err != nil {
		return fmt.Errorf("reading thread for %s: %w", ev.SubjectKey(), err)
	}
	conversation := make([]string, 0, len(thread.Conversation))
	for _, ex := range thread.Conversation {
		conversation = append(conversation, ex.Summary)
	}

	p, err := prompt.IssueComment(ev.Author, ev.Title, ev.Body, conversation)
	if err != nil {
		return fmt.Errorf("building issue-comment prompt for %s: %w", ev.SubjectKey(), err)
	}
	text, err := o.complete(ctx, p)
	if err != nil {
		return err
	}
	res, err := inference.Extract[prompt.CommentResult](text)
	if err != nil {
		metrics.InferenceFailures.Inc()
		return fmt.Errorf("parsing comment result for %s: %w", ev.SubjectKey(), err)
	}
	clog.FromContext(ctx).With("substantive", res.Substantive).Info("Replying to issue comment")
	return o.publisher.Comment(ctx, ev, string(event.IntentRespondIssueComment), "", res.Reply)
}

// markClosed records subject closure so the tracker row becomes eligible for
// the retention sweep. No comment is posted.
func (o *Orchestrator) markClosed(ctx context.Context, ev event.Event) error {
	thread, ok, err := o.tracker.Get(ctx, ev.RepoFullName(), ev.Number)
	if err != nil {
		return fmt.Errorf("reading thread for %s: %w", ev.SubjectKey(), err)
	}
	expected := state.PhaseNew
	if ok {
		expected = thread.Phase
	}
	if expected == state.PhaseClosed || expected == state.PhaseClosedAsChatter {
		return nil
	}
	won, err := o.tracker.CompareAndSetPhase(ctx, ev.RepoFullName(), ev.Number, expected, state.PhaseClosed)
	if err != nil {
		return fmt.Errorf("transitioning %s to closed: %w", ev.SubjectKey(), err)
	}
	if !won {
		metrics.CASLosses.Inc()
	}
	return nil
}

// applyRules attaches the repository's custom rules to the context. Load
// already degrades malformed files to an empty set; the orchestrator's only
// extra duty is flagging the degradation so the response caveats it.
func (o *Orchestrator) applyRules(ctx context.Context, ev event.Event, rc *assemble.ReviewContext) {
	rs, err := o.rules.Load(ctx, ev.Owner, ev.Repo)
	rc.Rules = rs
	if err != nil {
		rc.RulesDegraded = true
		clog.FromContext(ctx).With("error", err).Warn("Rules file unusable, reviewing without custom rules")
	}
}

// complete calls the model, mapping exhaustion of its bounded retries to an
// abandoned unit of work. The only user-visible failure mode is silence.
func (o *Orchestrator) complete(ctx context.Context, p string) (string, error) {
	body, err := o.model.Complete(ctx, p)
	if err != nil {
		metrics.InferenceFailures.Inc()
		return "", fmt.Errorf("inference failed, abandoning unit of work: %w", err)
	}
	return body, nil
}
