package syncer

import (
	"context"
	"fmt"
	"sync"

	"tableside/internal/domain"
	"tableside/internal/logger"
	"tableside/internal/queue"
)

// Remote is the slice of the order service the engine needs. Satisfied by
// remote.Client; tests substitute a fake.
type Remote interface {
	SyncOrders(ctx context.Context, orders []domain.SyncOrder) (domain.SyncResponse, error)
}

// Report summarizes one sync pass.
type Report struct {
	Claimed int
	Synced  int
	Failed  int
	Swept   int
}

// Engine drains the pending-order queue against the remote sync endpoint.
// Every trigger (reconnect, timer, user action) converges on RunSync.
type Engine struct {
	queue  *queue.Queue
	remote Remote
	log    *logger.Logger

	mu sync.Mutex // serializes overlapping RunSync invocations
}

func New(q *queue.Queue, remote Remote, log *logger.Logger) *Engine {
	return &Engine{queue: q, remote: remote, log: log}
}

// RunSync claims every retry-eligible record, submits the batch, applies
// per-item outcomes and sweeps resolved records. It is idempotent and safe
// to invoke repeatedly; overlapping calls run one after another, and the
// syncing status written by Claim keeps a record out of two batches even
// across processes. force bypasses the per-record retry backoff (explicit
// user retry).
func (e *Engine) RunSync(ctx context.Context, force bool) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var report Report
	// A record still in syncing here was claimed by a run that died before
	// resolving it; put it back in play before claiming.
	if _, err := e.queue.Recover(ctx); err != nil {
		return report, err
	}
	batch, err := e.queue.Claim(ctx, force)
	if err != nil {
		return report, err
	}
	report.Claimed = len(batch)

	if len(batch) > 0 {
		orders := make([]domain.SyncOrder, 0, len(batch))
		for _, o := range batch {
			orders = append(orders, o.ToSyncOrder())
		}

		resp, err := e.remote.SyncOrders(ctx, orders)
		if err != nil {
			// No response reached us; assume nothing about server-side
			// effects and retry the whole batch later. The offline IDs
			// let the server deduplicate anything that did land.
			if relErr := e.queue.Release(ctx, batch, err); relErr != nil {
				return report, fmt.Errorf("release batch: %w", relErr)
			}
			report.Failed = len(batch)
			e.log.Warn("sync_transport_failure", map[string]any{
				"orders": len(batch),
				"error":  err.Error(),
			})
			return report, err
		}

		if err := e.queue.Resolve(ctx, resp.Results); err != nil {
			return report, fmt.Errorf("resolve sync results: %w", err)
		}
		// Count what Resolve actually applied, not the server's summary
		// counters; only results matching a claimed ID change local state.
		claimed := make(map[string]bool, len(batch))
		for _, o := range batch {
			claimed[o.OfflineID] = true
		}
		for _, res := range resp.Results {
			if !claimed[res.OfflineID] {
				continue
			}
			delete(claimed, res.OfflineID)
			if res.Success {
				report.Synced++
			} else {
				report.Failed++
			}
		}

		// Anything the server did not answer for stays retryable.
		if missing := missingResults(batch, resp.Results); len(missing) > 0 {
			e.log.Warn("sync_results_incomplete", map[string]any{"missing": len(missing)})
			if err := e.queue.Release(ctx, missing, fmt.Errorf("no result from sync endpoint")); err != nil {
				return report, fmt.Errorf("release unanswered orders: %w", err)
			}
			report.Failed += len(missing)
		}

		e.log.Info("sync_completed", map[string]any{
			"claimed": report.Claimed,
			"synced":  report.Synced,
			"failed":  report.Failed,
		})
	}

	swept, err := e.queue.Sweep(ctx)
	if err != nil {
		return report, err
	}
	report.Swept = swept
	return report, nil
}

func missingResults(batch []domain.PendingOrder, results []domain.SyncResult) []domain.PendingOrder {
	answered := make(map[string]bool, len(results))
	for _, r := range results {
		answered[r.OfflineID] = true
	}
	var missing []domain.PendingOrder
	for _, o := range batch {
		if !answered[o.OfflineID] {
			missing = append(missing, o)
		}
	}
	return missing
}
