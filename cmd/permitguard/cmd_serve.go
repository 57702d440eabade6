package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/permitguard/permitguard/internal/api"
	"github.com/permitguard/permitguard/internal/config"
	"github.com/permitguard/permitguard/internal/db"
	"github.com/permitguard/permitguard/internal/db/migrations"
	"github.com/permitguard/permitguard/internal/ledger"
	"github.com/permitguard/permitguard/internal/security"
	"github.com/permitguard/permitguard/internal/service"
	"github.com/permitguard/permitguard/internal/store"
	"github.com/permitguard/permitguard/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, anchor workers and alert hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), skipMigrations)
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on startup")

	return cmd
}

// newLedger picks the real ledger client or the disabled no-op.
func newLedger(cfg config.LedgerConfig) service.Ledger {
	if !cfg.Enabled {
		return ledger.Disabled{}
	}

	return ledger.NewClient(cfg.URL, cfg.APIKey.Value(), cfg.Timeout)
}

func runServe(ctx context.Context, skipMigrations bool) error {
	cfg, log, pool, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if !skipMigrations {
		if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
			return err
		}
	}

	base := store.Base{Pool: pool, Log: log}
	entries := store.NewAuditStore(base)
	hub := ws.NewHub(log)

	queue := service.NewAnchorQueue(newLedger(cfg.Ledger), entries, hub, log, service.AnchorQueueConfig{
		Workers:    cfg.Anchor.Workers,
		QueueSize:  cfg.Anchor.QueueSize,
		MaxRetries: cfg.Anchor.MaxRetries,
		BaseDelay:  cfg.Anchor.BaseDelay,
		MaxDelay:   cfg.Anchor.MaxDelay,
	})

	recorder := service.NewAuditRecorder(
		entries, queue, security.NewMasker(cfg.Audit.MaskEmail), hub, cfg.Audit.FailOpenEvents, log,
	)
	lockout := service.NewLockoutTracker(store.NewLockoutStore(base), recorder, hub, service.LockoutPolicy{
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
	}, log)
	challenges := service.NewChallengeService(
		store.NewChallengeStore(base), lockout, recorder, security.NewCodeHasher(cfg.Challenge.Pepper.Value()),
		service.ChallengePolicy{
			TTL:         cfg.Challenge.TTL,
			MaxAttempts: cfg.Challenge.MaxAttempts,
			CodeLength:  cfg.Challenge.CodeLength,
		}, log,
	)
	approvals := service.NewApprovalService(
		store.NewApprovalStore(base), store.NewSubjectStore(base), recorder, hub,
		service.ApprovalPolicy{
			RequiredApprovals: cfg.Approval.RequiredApprovals,
			RejectThreshold:   cfg.Approval.RejectThreshold,
			TTL:               cfg.Approval.TTL,
		}, log,
	)

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(gctx, &api.RouterDeps{
			Log:         log,
			Pool:        pool,
			Hub:         hub,
			Audit:       recorder,
			Integrity:   service.NewIntegrityVerifier(entries, hub, log),
			Anchors:     queue,
			Lockout:     lockout,
			Challenges:  challenges,
			Approvals:   approvals,
			CORSOrigins: cfg.CORSOrigins,
			Version:     config.Version,
			ExposeCodes: cfg.Challenge.ExposeCodes,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		queue.Run(gctx)
		return nil
	})

	if n, err := queue.RequeuePending(gctx, cfg.Anchor.QueueSize/2); err != nil {
		log.WithError(err).Warn("could not re-enqueue pending anchors")
	} else if n > 0 {
		log.WithField("count", n).Info("recovered pending anchors from previous run")
	}

	if err := db.NewNotifyBridge(log, pool, hub).Start(gctx); err != nil {
		// Local alerts still flow; only cross-instance fan-out is lost.
		log.WithError(err).Warn("notify bridge unavailable")
	}

	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("permitguard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		hub.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
