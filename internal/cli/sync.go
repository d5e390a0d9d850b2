package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tableside/internal/logger"
	"tableside/internal/queue"
	"tableside/internal/remote"
	"tableside/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push all queued orders now, ignoring retry backoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync()
		},
	}
}

func runSync() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New("tableside-sync")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	client := remote.NewClient(cfg.Remote.BaseURL, &http.Client{}, cfg.Remote.Timeout)
	q := queue.New(store, log.Named("queue"))
	engine := syncer.New(q, client, log.Named("syncer"))

	report, err := engine.RunSync(ctx, true)
	if err != nil {
		return err
	}
	log.Info("sync_finished", map[string]any{
		"claimed": report.Claimed,
		"synced":  report.Synced,
		"failed":  report.Failed,
		"swept":   report.Swept,
	})
	return nil
}
