/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package state

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryTracker is an in-process Tracker. It is the default for single-node
// deployments and the backbone of tests.
type MemoryTracker struct {
	mu      sync.Mutex
	threads map[string]*Thread
}

var _ Tracker = (*MemoryTracker)(nil)

// NewMemoryTracker returns an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{threads: make(map[string]*Thread)}
}

func key(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

// Get implements Tracker.
func (m *MemoryTracker) Get(_ context.Context, repo string, number int) (Thread, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[key(repo, number)]
	if !ok {
		return Thread{}, false, nil
	}
	cp := *th
	cp.Conversation = append([]Exchange(nil), th.Conversation...)
	return cp, true, nil
}

// CompareAndSetPhase implements Tracker.
func (m *MemoryTracker) CompareAndSetPhase(_ context.Context, repo string, number int, expected, next Phase) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(repo, number)
	th, ok := m.threads[k]
	if !ok {
		if expected != PhaseNew {
			return false, nil
		}
		m.threads[k] = &Thread{
			Repo:      repo,
			Number:    number,
			Phase:     next,
			UpdatedAt: time.Now().UTC(),
		}
		return true, nil
	}
	if th.Phase != expected {
		return false, nil
	}
	th.Phase = next
	th.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarkCommented implements Tracker.
func (m *MemoryTracker) MarkCommented(_ context.Context, repo string, number int, revision string, ex Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(repo, number)
	th, ok := m.threads[k]
	if !ok {
		// A post without a prior CAS happens for re-reviews on threads the
		// tracker never saw (e.g. after an eviction); recreate the record.
		th = &Thread{Repo: repo, Number: number, Phase: PhaseReviewed}
		m.threads[k] = th
	}
	th.InitialCommentPosted = true
	if revision != "" {
		th.LastReviewedRevision = revision
	}
	th.Conversation = appendBounded(th.Conversation, ex)
	th.UpdatedAt = time.Now().UTC()
	return nil
}

// SweepClosed implements Tracker.
func (m *MemoryTracker) SweepClosed(_ context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, th := range m.threads {
		if terminal(th.Phase) && th.UpdatedAt.Before(cutoff) {
			delete(m.threads, k)
			removed++
		}
	}
	return removed, nil
}
