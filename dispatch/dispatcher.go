/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package dispatch runs one unit of work per inbound event under a bounded
// concurrency budget. Redeliveries of an event already in flight are
// suppressed; distinct events on the same subject, such as two different
// mentions, each get their own unit of work.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/semaphore"

	"chainguard.dev/pullrider/event"
)

// DefaultTimeout bounds a single unit of work, covering context assembly and
// inference. An expired unit is abandoned with no comment posted.
const DefaultTimeout = 2 * time.Minute

// Handler processes one event to completion. Satisfied by
// orchestrate.Orchestrator.
type Handler interface {
	Handle(ctx context.Context, ev event.Event) error
}

// Dispatcher fans events out to independent units of work.
type Dispatcher struct {
	handler Handler
	sem     *semaphore.Weighted
	timeout time.Duration

	// base is the lifecycle context handed to units of work; it outlives
	// the webhook request that submitted the event.
	base context.Context

	mu       sync.Mutex
	inFlight map[string]struct{}
	draining bool
	wg       sync.WaitGroup
}

// New creates a Dispatcher running at most concurrency units of work at once,
// each bounded by timeout (DefaultTimeout if 0). ctx bounds the lifetime of
// all units of work.
func New(ctx context.Context, handler Handler, concurrency int64, timeout time.Duration) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		handler:  handler,
		sem:      semaphore.NewWeighted(concurrency),
		timeout:  timeout,
		base:     ctx,
		inFlight: make(map[string]struct{}),
	}
}

// Submit starts a unit of work for the event. It returns false when the event
// was not accepted: the dispatcher is draining, or the same logical event is
// already in flight.
func (d *Dispatcher) Submit(ev event.Event) bool {
	log := clog.FromContext(d.base).With("delivery_id", ev.DeliveryID, "subject", ev.SubjectKey())
	key := ev.DedupeKey()

	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		log.Warn("Draining, rejecting event")
		return false
	}
	if _, busy := d.inFlight[key]; busy {
		d.mu.Unlock()
		log.With("dedupe_key", key).Info("Duplicate event already in flight, suppressing")
		return false
	}
	d.inFlight[key] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inFlight, key)
			d.mu.Unlock()
		}()

		if err := d.sem.Acquire(d.base, 1); err != nil {
			log.With("error", err).Warn("Shutting down before unit of work started")
			return
		}
		defer d.sem.Release(1)

		ctx, cancel := context.WithTimeout(d.base, d.timeout)
		defer cancel()

		if err := d.handler.Handle(ctx, ev); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.With("timeout", d.timeout).Error("Unit of work timed out, abandoned")
				return
			}
			log.With("error", err).Error("Unit of work failed")
		}
	}()
	return true
}

// Drain stops accepting events and waits for in-flight units of work, or
// returns the context's error if it expires first.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
