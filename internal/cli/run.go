package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tableside/internal/alert"
	"tableside/internal/cache"
	"tableside/internal/domain"
	"tableside/internal/gateway"
	"tableside/internal/logger"
	"tableside/internal/queue"
	"tableside/internal/realtime"
	"tableside/internal/remote"
	"tableside/internal/syncer"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the client: background sync, reference refresh, live notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient()
		},
	}
}

func runClient() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New("tableside")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	interceptor := gateway.New(http.DefaultTransport, store, log.Named("gateway"), remote.SubmitOrderPath)
	httpClient := &http.Client{Transport: interceptor}
	client := remote.NewClient(cfg.Remote.BaseURL, httpClient, cfg.Remote.Timeout)

	q := queue.New(store, log.Named("queue"))
	ref := cache.NewReference(store, client, log.Named("cache"))
	engine := syncer.New(q, client, log.Named("syncer"))
	scheduler := syncer.NewScheduler(engine, cfg.Sync.Interval, log.Named("syncer"))

	transport := realtime.NewWSTransport(cfg.Remote.WebsocketURL, cfg.Remote.BaseURL)
	channel := realtime.NewChannel(transport, realtime.Options{
		Keepalive:     cfg.Channel.KeepaliveInterval,
		ReconnectBase: cfg.Channel.ReconnectBase,
		MaxAttempts:   cfg.Channel.MaxReconnects,
	}, log.Named("realtime"))

	var player alert.Player = &alert.BellPlayer{Out: os.Stdout}
	presenter := alert.NewPresenter(player, &alert.LogNotifier{Log: log.Named("alert")}, log.Named("alert"))
	presenter.SetMuted(!cfg.Alerts.Sound)
	presenter.Bind(channel)

	// The snapshot answering each connect's request_orders is authoritative
	// over anything missed while disconnected.
	channel.Handle(domain.MsgOrdersList, ordersSnapshotHandler(log.Named("realtime")))

	// Regaining the connection is the moment queued orders are most likely
	// to go through.
	channel.OnStateChange(func(s realtime.State) {
		switch s {
		case realtime.StateConnected:
			scheduler.Kick()
		case realtime.StateExhausted:
			log.Warn("notifications_offline", map[string]any{
				"hint": "restart or run 'tableside sync' to retry",
			})
		}
	})

	// Startup refresh is best effort; stale snapshots stay readable.
	if err := ref.RefreshMenu(ctx); err != nil {
		log.Warn("menu_refresh_failed", map[string]any{"error": err.Error()})
	}
	if err := ref.RefreshTables(ctx); err != nil {
		log.Warn("tables_refresh_failed", map[string]any{"error": err.Error()})
	}

	channel.Connect(ctx)
	defer channel.Disconnect()

	log.Info("client_started", map[string]any{
		"remote":        cfg.Remote.BaseURL,
		"sync_interval": cfg.Sync.Interval.String(),
	})
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("client_stopped", nil)
	return nil
}

// ordersSnapshotHandler records the full active-order list the service sends
// after each connect. The terminal surface reads it from the log until a
// richer order board lands.
func ordersSnapshotHandler(log *logger.Logger) realtime.Handler {
	return func(msg domain.Message) {
		var snap struct {
			Orders []json.RawMessage `json:"orders"`
		}
		if err := json.Unmarshal(msg.Payload, &snap); err != nil {
			log.Warn("orders_snapshot_unreadable", map[string]any{"error": err.Error()})
			return
		}
		log.Info("orders_snapshot", map[string]any{"orders": len(snap.Orders)})
	}
}
