/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package rules loads per-repository review rules. Rules are opaque
// natural-language strings forwarded verbatim to the model; this package
// never interprets them.
package rules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/chainguard-dev/clog"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where repositories declare custom review rules.
const DefaultPath = ".github/pullrider.yml"

// ErrRuleLoad reports a rules file that exists but cannot be parsed. Callers
// degrade to an empty RuleSet and annotate the eventual response; a broken
// rules file must never fail a review.
var ErrRuleLoad = errors.New("loading rules file")

// RuleSet is an ordered list of free-text rules for one repository.
type RuleSet struct {
	Repo  string
	Rules []string
}

// Empty reports whether the set carries no rules.
func (rs RuleSet) Empty() bool {
	return len(rs.Rules) == 0
}

// ContentFetcher fetches a file from the default branch of a repository.
// Absence is reported by wrapping fs.ErrNotExist.
type ContentFetcher interface {
	GetFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
}

// Loader fetches and caches rule sets per repository. The cache is shared by
// concurrent units of work; Invalidate makes a configuration change visible
// to every unit of work started afterwards.
type Loader struct {
	fetcher ContentFetcher
	path    string

	mu    sync.RWMutex
	cache map[string]RuleSet
}

// NewLoader returns a Loader reading rules from path (DefaultPath if empty).
func NewLoader(fetcher ContentFetcher, path string) *Loader {
	if path == "" {
		path = DefaultPath
	}
	return &Loader{
		fetcher: fetcher,
		path:    path,
		cache:   make(map[string]RuleSet),
	}
}

// Load returns the repository's rules. An absent file yields an empty set
// with no error; a malformed file yields an empty set and ErrRuleLoad.
func (l *Loader) Load(ctx context.Context, owner, repo string) (RuleSet, error) {
	full := owner + "/" + repo

	l.mu.RLock()
	cached, ok := l.cache[full]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	rs, err := l.fetch(ctx, owner, repo)
	if err != nil {
		return RuleSet{Repo: full}, err
	}

	l.mu.Lock()
	l.cache[full] = rs
	l.mu.Unlock()
	return rs, nil
}

// Invalidate drops the cached rules for a repository. Called when a push
// touches the rules path.
func (l *Loader) Invalidate(owner, repo string) {
	l.mu.Lock()
	delete(l.cache, owner+"/"+repo)
	l.mu.Unlock()
}

// Path returns the repository-relative rules file path this loader reads.
func (l *Loader) Path() string {
	return l.path
}

func (l *Loader) fetch(ctx context.Context, owner, repo string) (RuleSet, error) {
	full := owner + "/" + repo

	raw, err := l.fetcher.GetFileContent(ctx, owner, repo, l.path, "")
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// No rules file is the common case, not an error.
		return RuleSet{Repo: full}, nil
	case err != nil:
		return RuleSet{Repo: full}, fmt.Errorf("fetching %s from %s: %w", l.path, full, err)
	}

	var doc struct {
		Rules []string `yaml:"rules"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		clog.FromContext(ctx).With("repo", full).With("path", l.path).
			With("error", err.Error()).
			Warn("Rules file is malformed, proceeding without custom rules")
		return RuleSet{Repo: full}, fmt.Errorf("%w: %s in %s: %v", ErrRuleLoad, l.path, full, err)
	}

	return RuleSet{Repo: full, Rules: doc.Rules}, nil
}
