// Package worker implements the Worker Host: a bounded-concurrency pool
// per job type that leases jobs from the Job Queue, dispatches them to the
// Mailbox Sync Controller or the occurrence pipeline, and records
// completion or failure, generalizing the teacher's poll-ticker-plus-
// channel-semaphore worker idiom onto one semaphore per job type so a
// backlog in one stage can't starve another.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/oss-support/journal-pipeline/internal/correlate"
	"github.com/oss-support/journal-pipeline/internal/mailbox"
	"github.com/oss-support/journal-pipeline/internal/obslog"
	"github.com/oss-support/journal-pipeline/internal/pipeline"
	"github.com/oss-support/journal-pipeline/internal/queue"
)

// Concurrency is the bounded pool size per job type.
type Concurrency struct {
	MailboxSync      int64
	OccurrenceFetch  int64
	OccurrenceParse  int64
	OccurrenceStitch int64
	TicketRouting    int64
}

// DefaultConcurrency matches the Worker Host's stated per-type pool
// sizes: mailbox sync is rate-limited by the provider and kept small,
// fetch/parse are I/O and CPU bound respectively and get the largest
// pools, stitch/route are short critical-section-heavy stages.
var DefaultConcurrency = Concurrency{
	MailboxSync:      2,
	OccurrenceFetch:  8,
	OccurrenceParse:  8,
	OccurrenceStitch: 4,
	TicketRouting:    4,
}

// Config configures a Host.
type Config struct {
	WorkerID     string
	PollInterval time.Duration
	DrainGrace   time.Duration
	Concurrency  Concurrency
}

// DefaultConfig returns the Worker Host's stated defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		DrainGrace:   30 * time.Second,
		Concurrency:  DefaultConcurrency,
	}
}

// handlerFunc is the uniform shape every job-type dispatch target is
// adapted to, whether it's a pipeline.Handlers method or a
// mailbox.Controller sync run wrapped to discard its Outcome.
type handlerFunc func(ctx context.Context, organizationID string, payload json.RawMessage) error

type typeLoop struct {
	jobType string
	handler handlerFunc
	limit   int64
}

// Host drives the six job types at independently bounded concurrency.
type Host struct {
	jobs     *queue.Store
	sync     *mailbox.Controller
	pipeline *pipeline.Handlers
	cfg      Config
	logger   *slog.Logger
}

// NewHost wires a Host. A non-positive PollInterval or DrainGrace falls
// back to DefaultConfig's value and an empty WorkerID gets a generated
// one; Concurrency falls back to DefaultConfig's only when all of its
// fields are zero.
func NewHost(jobs *queue.Store, syncController *mailbox.Controller, handlers *pipeline.Handlers, cfg Config, logger *slog.Logger) *Host {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = def.DrainGrace
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	}
	zero := Concurrency{}
	if cfg.Concurrency == zero {
		cfg.Concurrency = def.Concurrency
	}
	return &Host{jobs: jobs, sync: syncController, pipeline: handlers, cfg: cfg, logger: logger}
}

func (h *Host) loops() []typeLoop {
	return []typeLoop{
		{queue.TypeMailboxBackfill, h.runBackfill, h.cfg.Concurrency.MailboxSync},
		{queue.TypeMailboxHistory, h.runHistorySync, h.cfg.Concurrency.MailboxSync},
		{queue.TypeOccurrenceFetch, h.pipeline.FetchRaw, h.cfg.Concurrency.OccurrenceFetch},
		{queue.TypeOccurrenceParse, h.pipeline.Parse, h.cfg.Concurrency.OccurrenceParse},
		{queue.TypeOccurrenceStitch, h.pipeline.Stitch, h.cfg.Concurrency.OccurrenceStitch},
		{queue.TypeTicketRouting, h.pipeline.Route, h.cfg.Concurrency.TicketRouting},
	}
}

func (h *Host) runBackfill(ctx context.Context, organizationID string, payload json.RawMessage) error {
	_, err := h.sync.RunBackfill(ctx, organizationID, payload)
	return err
}

func (h *Host) runHistorySync(ctx context.Context, organizationID string, payload json.RawMessage) error {
	_, err := h.sync.RunHistorySync(ctx, organizationID, payload)
	return err
}

// Run drives every job-type loop until ctx is cancelled, then waits (up
// to DrainGrace per loop) for in-flight executions to finish before
// returning. It is the one long-running call cmd/worker's main makes.
func (h *Host) Run(ctx context.Context) error {
	h.logger.InfoContext(ctx, "worker host starting", "worker_id", h.cfg.WorkerID, "poll_interval", h.cfg.PollInterval)

	eg, egctx := errgroup.WithContext(ctx)
	for _, tl := range h.loops() {
		tl := tl
		eg.Go(func() error {
			h.runLoop(egctx, tl)
			return nil
		})
	}
	return eg.Wait()
}

// runLoop repeatedly acquires a concurrency slot, leases one job of
// tl.jobType, and dispatches it on its own goroutine. Acquiring blocks
// when the pool is saturated, which is what keeps this job type's
// concurrency bounded without an explicit worker-count loop.
func (h *Host) runLoop(ctx context.Context, tl typeLoop) {
	sem := semaphore.NewWeighted(tl.limit)
	var wg sync.WaitGroup

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		handles, err := h.jobs.Lease(ctx, tl.jobType, 1, h.cfg.WorkerID)
		if err != nil {
			sem.Release(1)
			h.logger.ErrorContext(ctx, "lease failed", "job_type", tl.jobType, "error", err)
			if !h.sleepOrDone(ctx) {
				break
			}
			continue
		}
		if len(handles) == 0 {
			sem.Release(1)
			if !h.sleepOrDone(ctx) {
				break
			}
			continue
		}

		handle := handles[0]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			h.execute(tl, handle)
		}()
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(h.cfg.DrainGrace):
		h.logger.Warn("drain grace period elapsed with jobs still in flight", "job_type", tl.jobType)
	}
}

func (h *Host) sleepOrDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(h.cfg.PollInterval):
		return true
	}
}

// execute runs one leased job to completion. It detaches from the loop's
// context (which is cancelled the moment shutdown begins) and bounds
// itself instead by the lease's own visibility timeout, so a job already
// in flight when shutdown starts gets to finish rather than being cut off
// mid-write.
func (h *Host) execute(tl typeLoop, handle queue.Handle) {
	execCtx, cancel := context.WithTimeout(context.Background(), queue.VisibilityTimeout)
	defer cancel()

	execCtx, correlationID, end := correlate.Start(execCtx, handle.OrganizationID, handle.JobID, handle.Attempts, tl.jobType)
	defer end()
	execCtx = obslog.WithCorrelationID(execCtx, correlationID)
	logger := obslog.FromContext(execCtx, h.logger)

	err := tl.handler(execCtx, handle.OrganizationID, handle.Payload)
	if err != nil {
		logger.ErrorContext(execCtx, "job attempt failed", "job_type", tl.jobType, "job_id", handle.JobID, "attempt", handle.Attempts, "error", err)
		if failErr := h.jobs.Fail(execCtx, handle.JobID, err); failErr != nil {
			logger.ErrorContext(execCtx, "failed to record job failure", "job_id", handle.JobID, "error", failErr)
		}
		return
	}

	if err := h.jobs.Complete(execCtx, handle.JobID); err != nil {
		logger.ErrorContext(execCtx, "failed to record job completion", "job_id", handle.JobID, "error", err)
		return
	}
	logger.InfoContext(execCtx, "job completed", "job_type", tl.jobType, "job_id", handle.JobID)
}
