// Command permitguard runs the audit, lockout, verification and approval
// service, and offers migration and integrity tooling against its database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/permitguard/permitguard/internal/config"
	"github.com/permitguard/permitguard/internal/dbpool"
)

var flagFmt string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "permitguard",
		Short:        "permitguard: tamper-evident audit trail, lockouts and multi-admin approvals",
		Version:      config.Version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate("permitguard version {{.Version}}\n")
	root.PersistentFlags().StringVar(&flagFmt, "format", "json", "Output format: json|table")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newVerifyCmd())

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from cfg.
func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}

// bootstrap loads configuration and opens the database pool shared by every
// subcommand. The caller closes the pool.
func bootstrap(ctx context.Context) (*config.Config, *logrus.Logger, *dbpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	log := newLogger(cfg)

	pool, err := dbpool.NewPool(ctx, cfg.DatabaseURL.Value(), cfg.DBMaxConns)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	return cfg, log, pool, nil
}
