package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tableside/internal/config"
	"tableside/internal/logger"
	"tableside/internal/storage"
)

var cfgPath string

// NewRootCmd builds the tableside command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tableside",
		Short:        "Offline-capable order taking client for the restaurant order service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (yaml)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newOrdersCmd())
	root.AddCommand(newRefreshCmd())
	return root
}

func loadConfig() (config.App, error) {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return config.App{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the durable store, falling back to an in-memory store so
// the client keeps working with reduced durability.
func openStore(cfg config.App, log *logger.Logger) (storage.Store, error) {
	st, err := storage.Open(cfg.Storage.Path)
	if err == nil {
		return st, nil
	}
	if errors.Is(err, storage.ErrUnavailable) {
		log.Warn("storage_unavailable_memory_fallback", map[string]any{
			"path":  cfg.Storage.Path,
			"error": err.Error(),
		})
		return storage.NewMemory(), nil
	}
	return nil, err
}
