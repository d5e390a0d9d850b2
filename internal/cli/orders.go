package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tableside/internal/domain"
	"tableside/internal/logger"
	"tableside/internal/queue"
)

func newOrdersCmd() *cobra.Command {
	var statusFilter string
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List locally queued orders and their sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listOrders(statusFilter)
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "only show orders with this status (pending|syncing|synced|failed)")
	return cmd
}

func listOrders(statusFilter string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New("tableside-orders")

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	q := queue.New(store, log.Named("queue"))
	ctx := context.Background()

	var orders []domain.PendingOrder
	if statusFilter != "" {
		orders, err = q.ListByStatus(ctx, domain.OrderStatus(statusFilter))
	} else {
		orders, err = q.List(ctx)
	}
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Println("no queued orders")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OFFLINE ID\tTABLE\tSEAT\tITEMS\tSTATUS\tATTEMPTS\tSERVER #\tLAST ERROR")
	for _, o := range orders {
		items := 0
		for _, it := range o.Items {
			items += it.Quantity
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%s\t%s\n",
			o.OfflineID, o.TableID, o.SeatID, items, o.Status, o.Attempts, o.ServerOrderNumber, o.LastError)
	}
	return w.Flush()
}
