/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package assemble builds the review context for a subject: the full current
// content of every touched file (not just the changed lines; bugs are often
// visible only with surrounding code), the diff, and a bounded summary of
// the bot's prior comments on the thread.
package assemble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/waigani/diffparser"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/pullrider/event"
	"chainguard.dev/pullrider/rules"
)

// DefaultMaxBytes caps the total assembled context size.
const DefaultMaxBytes = 256 * 1024

// fetchParallelism bounds concurrent content fetches per subject.
const fetchParallelism = 4

// ChangedFile is one entry from the subject's diff listing.
type ChangedFile struct {
	Path   string
	Status string // added, modified, removed, renamed
	Patch  string // unified diff fragment for this file
}

// File is a touched file with its full current content.
type File struct {
	Path    string
	Content string
	// ChangedLines counts added plus removed lines in this file's hunks.
	ChangedLines int
	// Trimmed marks content dropped by truncation; the diff still covers
	// the file.
	Trimmed bool
}

// ReviewContext is the transient material a single review is built from.
// It is assembled fresh per triggering event and never persisted.
type ReviewContext struct {
	Title string
	// Files is sorted by path so downstream prompt construction is
	// deterministic.
	Files []File
	Diff  string
	Rules rules.RuleSet
	// Conversation holds summaries of the bot's prior comments, oldest
	// first. Populated for re-reviews only.
	Conversation []string
	// Truncated is set when the size cap forced content to be dropped;
	// the response must caveat the partial review.
	Truncated bool
	// RulesDegraded is set when the rules file existed but could not be
	// parsed.
	RulesDegraded bool
}

// ContentProvider is the repository access the assembler needs.
type ContentProvider interface {
	ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]ChangedFile, error)
	GetFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
	ListBotComments(ctx context.Context, owner, repo string, number int) ([]string, error)
}

// Assembler fetches and bounds review context.
type Assembler struct {
	provider ContentProvider
	maxBytes int
}

// New returns an Assembler with the given size cap (DefaultMaxBytes if 0).
func New(provider ContentProvider, maxBytes int) *Assembler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Assembler{provider: provider, maxBytes: maxBytes}
}

// Assemble builds the context for the event's subject. withConversation
// additionally gathers prior bot comments so the model remembers its own
// earlier advice.
func (a *Assembler) Assemble(ctx context.Context, ev event.Event, withConversation bool) (*ReviewContext, error) {
	changed, err := a.provider.ListChangedFiles(ctx, ev.Owner, ev.Repo, ev.Number)
	if err != nil {
		return nil, fmt.Errorf("listing changed files for %s: %w", ev.SubjectKey(), err)
	}
	return a.assemble(ctx, ev, changed, withConversation)
}

// AssembleFromFiles is Assemble for callers that already listed the changed
// files (the orchestrator lists them first to detect trivial changes).
func (a *Assembler) AssembleFromFiles(ctx context.Context, ev event.Event, changed []ChangedFile, withConversation bool) (*ReviewContext, error) {
	return a.assemble(ctx, ev, changed, withConversation)
}

func (a *Assembler) assemble(ctx context.Context, ev event.Event, changed []ChangedFile, withConversation bool) (*ReviewContext, error) {
	log := clog.FromContext(ctx)

	diff := synthesizeDiff(changed)
	changedLines := countChangedLines(diff)

	rc := &ReviewContext{
		Title: ev.Title,
		Diff:  diff,
	}

	// Fetch full contents concurrently; removed files have no current
	// content to fetch.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallelism)
	for _, cf := range changed {
		if cf.Status == "removed" {
			continue
		}
		g.Go(func() error {
			content, err := a.provider.GetFileContent(gctx, ev.Owner, ev.Repo, cf.Path, ev.HeadSHA)
			if err != nil {
				return fmt.Errorf("fetching %s@%s: %w", cf.Path, ev.HeadSHA, err)
			}
			mu.Lock()
			rc.Files = append(rc.Files, File{
				Path:         cf.Path,
				Content:      string(content),
				ChangedLines: changedLines[cf.Path],
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(rc.Files, func(i, j int) bool { return rc.Files[i].Path < rc.Files[j].Path })

	if withConversation {
		conv, err := a.provider.ListBotComments(ctx, ev.Owner, ev.Repo, ev.Number)
		if err != nil {
			return nil, fmt.Errorf("listing prior comments for %s: %w", ev.SubjectKey(), err)
		}
		rc.Conversation = conv
	}

	a.truncate(rc)
	if rc.Truncated {
		log.With("subject", ev.SubjectKey()).With("max_bytes", a.maxBytes).
			Info("Context exceeded size cap, trimmed largest-unchanged files")
	}
	return rc, nil
}

// truncate enforces the size cap. Priority order: prior conversation is kept
// fully, then file contents are trimmed largest-unchanged-portion first. The
// diff itself is always kept; a review with no diff is no review at all.
func (a *Assembler) truncate(rc *ReviewContext) {
	if rc.size() <= a.maxBytes {
		return
	}
	rc.Truncated = true

	// Candidate order: descending by unchanged bytes, approximated as
	// content size discounted by changed-line volume.
	order := make([]int, len(rc.Files))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return unchangedSize(rc.Files[order[i]]) > unchangedSize(rc.Files[order[j]])
	})

	for _, idx := range order {
		if rc.size() <= a.maxBytes {
			break
		}
		f := &rc.Files[idx]
		if f.Content == "" {
			continue
		}
		f.Content = ""
		f.Trimmed = true
	}
}

func (rc *ReviewContext) size() int {
	total := len(rc.Diff)
	for _, f := range rc.Files {
		total += len(f.Content)
	}
	for _, c := range rc.Conversation {
		total += len(c)
	}
	return total
}

// unchangedSize approximates the bytes of a file's content not covered by
// its hunks, assuming an average line length estimated from the content.
func unchangedSize(f File) int {
	if f.Content == "" {
		return 0
	}
	lines := strings.Count(f.Content, "\n") + 1
	if f.ChangedLines >= lines {
		return 0
	}
	avg := len(f.Content) / lines
	return (lines - f.ChangedLines) * avg
}

// IsTrivial reports whether every touched path is documentation or project
// housekeeping, in which case a review is not worth a model call.
func IsTrivial(changed []ChangedFile) bool {
	if len(changed) == 0 {
		return false
	}
	for _, cf := range changed {
		switch {
		case strings.HasSuffix(cf.Path, ".md"),
			strings.HasSuffix(cf.Path, ".txt"),
			strings.Contains(cf.Path, ".gitignore"):
		default:
			return false
		}
	}
	return true
}

// synthesizeDiff builds a unified diff document from per-file patch
// fragments, in listing order.
func synthesizeDiff(changed []ChangedFile) string {
	var sb strings.Builder
	for _, cf := range changed {
		if cf.Patch == "" {
			continue
		}
		fmt.Fprintf(&sb, "diff --git a/%s b/%s\n", cf.Path, cf.Path)
		fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", cf.Path, cf.Path)
		sb.WriteString(cf.Patch)
		if !strings.HasSuffix(cf.Patch, "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// countChangedLines parses the synthesized diff and counts added plus
// removed lines per file path.
func countChangedLines(diff string) map[string]int {
	counts := make(map[string]int)
	if diff == "" {
		return counts
	}
	parsed, err := diffparser.Parse(diff)
	if err != nil {
		// A parse failure only degrades truncation ordering.
		return counts
	}
	for _, f := range parsed.Files {
		path := f.NewName
		if path == "" {
			path = f.OrigName
		}
		for _, hunk := range f.Hunks {
			for _, line := range hunk.WholeRange.Lines {
				if line.Mode == diffparser.ADDED || line.Mode == diffparser.REMOVED {
					counts[path]++
				}
			}
		}
	}
	return counts
}
