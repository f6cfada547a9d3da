/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs the PullRider daemon: a webhook-driven agent that reviews
// pull requests, triages issues, and answers mentions on the repositories its
// installation covers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"

	"chainguard.dev/pullrider/assemble"
	"chainguard.dev/pullrider/dispatch"
	"chainguard.dev/pullrider/event"
	"chainguard.dev/pullrider/ghclient"
	"chainguard.dev/pullrider/inference"
	"chainguard.dev/pullrider/orchestrate"
	"chainguard.dev/pullrider/publish"
	"chainguard.dev/pullrider/rules"
	"chainguard.dev/pullrider/state"
	"chainguard.dev/pullrider/webhook"
)

type config struct {
	Port          int    `env:"PORT,default=8080"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`
	BotLogin      string `env:"BOT_LOGIN,default=pullrider[bot]"`
	MentionToken  string `env:"MENTION_TOKEN,default=@pullrider"`

	// GitHub auth: either a token or an App installation.
	GitHubToken    string `env:"GITHUB_TOKEN"`
	AppID          int64  `env:"GITHUB_APP_ID"`
	InstallationID int64  `env:"GITHUB_INSTALLATION_ID"`
	PrivateKeyPath string `env:"GITHUB_APP_PRIVATE_KEY_PATH"`

	Backend string `env:"INFERENCE_BACKEND,default=anthropic"`
	Model   string `env:"INFERENCE_MODEL,default=claude-sonnet-4-20250514"`
	APIKey  string `env:"INFERENCE_API_KEY,required"`

	// DBPath enables the durable tracker; empty keeps state in memory.
	DBPath          string        `env:"DB_PATH"`
	MaxContextBytes int           `env:"MAX_CONTEXT_BYTES,default=262144"`
	EventTimeout    time.Duration `env:"EVENT_TIMEOUT,default=2m"`
	Concurrency     int64         `env:"CONCURRENCY,default=8"`

	// Retention for closed threads; 0 disables the sweep.
	Retention     time.Duration `env:"RETENTION,default=720h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=1h"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	gh, err := newGitHubClient(ctx, cfg)
	if err != nil {
		clog.FatalContextf(ctx, "creating github client: %v", err)
	}

	var tracker state.Tracker
	var sqlite *state.SQLiteTracker
	if cfg.DBPath != "" {
		sqlite, err = state.OpenSQLite(cfg.DBPath)
		if err != nil {
			clog.FatalContextf(ctx, "opening state db at %s: %v", cfg.DBPath, err)
		}
		defer sqlite.Close()
		tracker = sqlite
		clog.InfoContextf(ctx, "Thread state persisted at %s", cfg.DBPath)
	} else {
		tracker = state.NewMemoryTracker()
		clog.InfoContextf(ctx, "Thread state held in memory; restarts forget review history")
	}

	model, err := inference.New(cfg.Backend, cfg.Model, inference.StaticCredential(cfg.APIKey))
	if err != nil {
		clog.FatalContextf(ctx, "creating inference client: %v", err)
	}

	ruleLoader := rules.NewLoader(gh, rules.DefaultPath)
	orch := orchestrate.New(orchestrate.Config{
		Classifier:   event.Classifier{MentionToken: cfg.MentionToken, BotLogin: cfg.BotLogin},
		Tracker:      tracker,
		Rules:        ruleLoader,
		Assembler:    assemble.New(gh, cfg.MaxContextBytes),
		Provider:     gh,
		PullRequests: gh,
		Model:        model,
		Publisher:    publish.New(gh, tracker),
	})

	var handler dispatch.Handler = orch
	if sqlite != nil {
		handler = &auditingHandler{inner: orch, audit: sqlite}
	}
	disp := dispatch.New(ctx, handler, cfg.Concurrency, cfg.EventTimeout)

	if cfg.Retention > 0 && sqlite != nil {
		go sweepClosed(ctx, sqlite, cfg.Retention, cfg.SweepInterval)
	}

	mux := http.NewServeMux()
	mux.Handle("/webhook", webhook.NewHandler(cfg.WebhookSecret, disp, ruleLoader, ruleLoader.Path()))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		clog.InfoContextf(ctx, "Listening on port %d (backend=%s model=%s)", cfg.Port, cfg.Backend, cfg.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.FatalContextf(ctx, "server failed: %v", err)
		}
	}()

	<-ctx.Done()
	clog.InfoContext(ctx, "Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		clog.ErrorContextf(ctx, "server shutdown: %v", err)
	}
	if err := disp.Drain(shutdownCtx); err != nil {
		clog.ErrorContextf(ctx, "draining units of work: %v", err)
	}
}

func newGitHubClient(ctx context.Context, cfg config) (*ghclient.Client, error) {
	switch {
	case cfg.AppID != 0:
		if cfg.InstallationID == 0 || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("GITHUB_APP_ID requires GITHUB_INSTALLATION_ID and GITHUB_APP_PRIVATE_KEY_PATH")
		}
		return ghclient.NewAppClient(cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath, cfg.BotLogin)
	case cfg.GitHubToken != "":
		return ghclient.NewTokenClient(ctx, cfg.GitHubToken, cfg.BotLogin), nil
	default:
		return nil, fmt.Errorf("either GITHUB_TOKEN or GITHUB_APP_ID must be set")
	}
}

// auditingHandler records each handled event in the durable event log before
// processing it.
type auditingHandler struct {
	inner dispatch.Handler
	audit *state.SQLiteTracker
}

func (h *auditingHandler) Handle(ctx context.Context, ev event.Event) error {
	if err := h.audit.RecordEvent(ctx, string(ev.Kind), ev.RepoFullName(), ev.Number, ev.Title, ev.Author); err != nil {
		// The audit log is best effort; processing proceeds regardless.
		clog.FromContext(ctx).With("error", err).Warn("Failed to record event audit row")
	}
	return h.inner.Handle(ctx, ev)
}

// sweepClosed periodically deletes closed-thread rows past the retention
// window.
func sweepClosed(ctx context.Context, tracker state.Tracker, retention, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tracker.SweepClosed(ctx, retention)
			if err != nil {
				clog.ErrorContextf(ctx, "retention sweep failed: %v", err)
				continue
			}
			if n > 0 {
				clog.InfoContextf(ctx, "Retention sweep removed %d closed threads", n)
			}
		}
	}
}
