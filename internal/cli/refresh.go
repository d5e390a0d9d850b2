package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tableside/internal/cache"
	"tableside/internal/logger"
	"tableside/internal/remote"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-download the menu and table snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh()
		},
	}
}

func runRefresh() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New("tableside-refresh")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	client := remote.NewClient(cfg.Remote.BaseURL, &http.Client{}, cfg.Remote.Timeout)
	ref := cache.NewReference(store, client, log.Named("cache"))

	if err := ref.RefreshMenu(ctx); err != nil {
		return fmt.Errorf("refresh menu: %w", err)
	}
	if err := ref.RefreshTables(ctx); err != nil {
		return fmt.Errorf("refresh tables: %w", err)
	}

	menu, meta, err := ref.Menu(ctx)
	if err != nil {
		return err
	}
	tables, _, err := ref.Tables(ctx)
	if err != nil {
		return err
	}
	log.Info("snapshots_refreshed", map[string]any{
		"menu_groups": len(menu),
		"floors":      len(tables),
		"server_time": meta.ServerTime,
	})
	return nil
}
