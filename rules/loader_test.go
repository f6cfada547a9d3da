/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package rules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeFetcher struct {
	files map[string][]byte
	calls int
}

func (f *fakeFetcher) GetFileContent(_ context.Context, owner, repo, path, _ string) ([]byte, error) {
	f.calls++
	key := fmt.Sprintf("%s/%s:%s", owner, repo, path)
	content, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, fs.ErrNotExist)
	}
	return content, nil
}

func TestLoadParsesRules(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string][]byte{
		"octo/widgets:.github/pullrider.yml": []byte("rules:\n  - Avoid global state\n  - All errors must be wrapped\n"),
	}}
	l := NewLoader(fetcher, "")

	rs, err := l.Load(context.Background(), "octo", "widgets")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := RuleSet{Repo: "octo/widgets", Rules: []string{"Avoid global state", "All errors must be wrapped"}}
	if diff := cmp.Diff(want, rs); diff != "" {
		t.Errorf("RuleSet mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadAbsentFileIsEmptyNotError(t *testing.T) {
	l := NewLoader(&fakeFetcher{}, "")
	rs, err := l.Load(context.Background(), "octo", "widgets")
	if err != nil {
		t.Fatalf("absent rules file should not error, got %v", err)
	}
	if !rs.Empty() {
		t.Errorf("RuleSet = %+v, want empty", rs)
	}
}

func TestLoadMalformedFileDegrades(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string][]byte{
		"octo/widgets:.github/pullrider.yml": []byte("rules: [unclosed"),
	}}
	l := NewLoader(fetcher, "")

	rs, err := l.Load(context.Background(), "octo", "widgets")
	if !errors.Is(err, ErrRuleLoad) {
		t.Fatalf("err = %v, want ErrRuleLoad", err)
	}
	if !rs.Empty() {
		t.Errorf("RuleSet = %+v, want empty on malformed file", rs)
	}
}

func TestLoadCachesPerRepo(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string][]byte{
		"octo/widgets:.github/pullrider.yml": []byte("rules: [one]"),
	}}
	l := NewLoader(fetcher, "")
	ctx := context.Background()

	for range 3 {
		if _, err := l.Load(ctx, "octo", "widgets"); err != nil {
			t.Fatalf("Load: %v", err)
		}
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times, want 1 (cached)", fetcher.calls)
	}

	// A different repo is a separate cache entry.
	if _, err := l.Load(ctx, "octo", "gadgets"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("fetcher called %d times, want 2", fetcher.calls)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string][]byte{
		"octo/widgets:.github/pullrider.yml": []byte("rules: [one]"),
	}}
	l := NewLoader(fetcher, "")
	ctx := context.Background()

	if _, err := l.Load(ctx, "octo", "widgets"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	fetcher.files["octo/widgets:.github/pullrider.yml"] = []byte("rules: [one, two]")
	l.Invalidate("octo", "widgets")

	rs, err := l.Load(ctx, "octo", "widgets")
	if err != nil {
		t.Fatalf("Load after invalidate: %v", err)
	}
	if len(rs.Rules) != 2 {
		t.Errorf("rules after invalidate = %v, want refreshed pair", rs.Rules)
	}
	if fetcher.calls != 2 {
		t.Errorf("fetcher called %d times, want 2", fetcher.calls)
	}
}

func TestCustomPath(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string][]byte{
		"octo/widgets:review-rules.yaml": []byte("rules: [be kind]"),
	}}
	l := NewLoader(fetcher, "review-rules.yaml")

	rs, err := l.Load(context.Background(), "octo", "widgets")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rs.Rules) != 1 || rs.Rules[0] != "be kind" {
		t.Errorf("RuleSet = %+v", rs)
	}
}
