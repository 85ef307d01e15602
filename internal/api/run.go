package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/blob"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/flow"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/messaging"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/scheduler"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/session"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
)

// Run is the composition root: it builds the store, blob client, messaging
// service, session layer and dispatcher from the given options, registers the
// maintenance jobs and serves the health endpoints until SIGINT/SIGTERM.
func Run(storeOpts []store.Option, blobOpts []blob.Option, msgOpts []messaging.Option, apiOpts []Option) error {
	opts := Opts{
		Addr:            DefaultAddr,
		CleanupInterval: 10 * time.Minute,
		SessionTTL:      session.DefaultTTL,
		SessionCapacity: session.DefaultCapacity,
	}
	for _, opt := range apiOpts {
		opt(&opts)
	}

	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	var blobClient blob.Client
	if len(blobOpts) > 0 {
		c, err := blob.NewClient(blobOpts...)
		if err != nil {
			return fmt.Errorf("failed to initialize blob client: %w", err)
		}
		blobClient = c
	} else {
		slog.Info("Run: no blob storage configured, lead photos disabled")
		opts.Flow.PhotosEnabled = false
	}

	msg, err := messaging.NewTelegramService(msgOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging service: %w", err)
	}

	sessions := session.NewStore(
		session.WithTTL(opts.SessionTTL),
		session.WithCapacity(opts.SessionCapacity),
	)
	var limiterOpts []session.RateLimiterOption
	if opts.RateLimitRequests > 0 {
		limiterOpts = append(limiterOpts, session.WithRateLimit(opts.RateLimitRequests))
	}
	if opts.RateLimitWindow > 0 {
		limiterOpts = append(limiterOpts, session.WithRateWindow(opts.RateLimitWindow))
	}
	limiter := session.NewRateLimiter(limiterOpts...)

	deps := &flow.Deps{
		Store:    st,
		Blob:     blobClient,
		Msg:      msg,
		Sessions: sessions,
		Limiter:  limiter,
		Tracker:  session.NewMessageTracker(),
		States:   flow.NewStateManager(st, sessions),
		Unique:   flow.NewUniquenessChecker(st),
		Cfg:      opts.Flow,
	}
	disp := flow.NewDispatcher(deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msg.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer msg.Stop()

	go disp.Run(ctx)

	srv := NewServer(st, disp, opts.CleanupInterval)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddInterval(opts.CleanupInterval, func() {
		evicted := sessions.EvictExpired(session.NoExclude)
		trimmed := sessions.EnforceCapacity(session.NoExclude)
		swept := limiter.Sweep()
		srv.Beat()
		slog.Debug("Run: maintenance sweep completed",
			"evicted", evicted, "trimmed", trimmed, "rate_windows_swept", swept)
	}); err != nil {
		return fmt.Errorf("failed to schedule maintenance job: %w", err)
	}

	httpServer := &http.Server{Addr: opts.Addr, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Run: health endpoints listening", "addr", opts.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Run: shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("health server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Run: health server shutdown failed", "error", err)
	}
	slog.Info("Run: service stopped")
	return nil
}

// buildStore constructs the record store backend the options select; no
// options means the in-memory store.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	switch cfg.Driver {
	case "postgres":
		slog.Info("Run: using PostgreSQL store")
		return store.NewPostgresStore(storeOpts...)
	case "sqlite3":
		slog.Info("Run: using SQLite store", "path", cfg.DSN)
		return store.NewSQLiteStore(storeOpts...)
	default:
		slog.Info("Run: no DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
}
