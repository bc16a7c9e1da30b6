package queue

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically sweeps leases whose visibility timeout has expired,
// returning the job to pending so another worker can pick it up. Grounded
// on the outbox worker's ticker-driven polling loop
// (baechuer-real-time-ressys outbox_worker.go StartOutboxWorker), adapted
// from a publish-confirm loop into a lease-expiry sweep.
type Reaper struct {
	store    *Store
	interval time.Duration
	log      *slog.Logger
}

// NewReaper builds a Reaper that sweeps store every interval.
func NewReaper(store *Store, interval time.Duration, log *slog.Logger) *Reaper {
	return &Reaper{store: store, interval: interval, log: log}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.store.reapExpired(ctx)
			if err != nil {
				r.log.ErrorContext(ctx, "reaper sweep failed", "error", err)
				continue
			}
			if n > 0 {
				r.log.InfoContext(ctx, "reaped expired leases", "count", n)
			}
		}
	}
}
