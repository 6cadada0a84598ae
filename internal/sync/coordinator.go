package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/abhiyant/inspect/internal/archive"
	"github.com/abhiyant/inspect/internal/metrics"
	"github.com/abhiyant/inspect/internal/record"
)

// Options configures a Coordinator. The zero value is usable.
type Options struct {
	Policy  Policy
	Logger  *zap.SugaredLogger
	Metrics *metrics.Registry

	// Now stamps CloudSyncTimestamp (default: time.Now).
	Now func() time.Time
}

// coordinator implements the Coordinator interface.
type coordinator struct {
	store   LocalStore
	archive archive.Archive
	logger  *zap.SugaredLogger
	metrics *metrics.Registry
	now     func() time.Time

	// sem admits one pass at a time.
	sem    *semaphore.Weighted
	policy atomic.Pointer[Policy]
}

// New creates a Coordinator over a local store and a remote archive.
//
// If opts is nil the default policy, a no-op logger and no metrics are used.
//
// Example:
//
//	st, _ := store.Open("inspections.db", nil)
//	remote := archive.NewMemory(nil)
//	coord := sync.New(st, remote, nil)
//	res, err := coord.SyncToCloud(ctx)
func New(local LocalStore, remote archive.Archive, opts *Options) Coordinator {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &coordinator{
		store:   local,
		archive: remote,
		logger:  logger.Named("sync"),
		metrics: opts.Metrics,
		now:     now,
		sem:     semaphore.NewWeighted(1),
	}
	c.SetPolicy(opts.Policy)
	return c
}

// Policy implements Coordinator.Policy.
func (c *coordinator) Policy() Policy {
	return *c.policy.Load()
}

// SetPolicy implements Coordinator.SetPolicy.
func (c *coordinator) SetPolicy(p Policy) {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	c.policy.Store(&p)
}

// SyncToCloud implements Coordinator.SyncToCloud.
func (c *coordinator) SyncToCloud(ctx context.Context) (Result, error) {
	if !c.sem.TryAcquire(1) {
		c.metrics.ObserveBusy()
		return Result{}, ErrSyncInProgress
	}
	defer c.sem.Release(1)

	policy := c.Policy()
	start := time.Now()

	pending, err := c.store.ListUnsynced(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list unsynced inspections: %w", err)
	}
	if len(pending) == 0 {
		c.metrics.ObservePass(metrics.OutcomeEmpty, 0, 0, 0)
		return Result{}, nil
	}

	res := Result{
		PassID:  uuid.NewString(),
		Pending: len(pending),
	}
	log := c.logger.With("pass", res.PassID)
	log.Infow("sync pass started", "pending", res.Pending, "batch_size", policy.BatchSize)

	var limiter *rate.Limiter
	if policy.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(policy.RateLimit), 1)
	}

	batches := chunk(pending, policy.BatchSize)
	for i, batch := range batches {
		if err := c.upload(ctx, log, batch, policy, limiter); err != nil {
			res.Duration = time.Since(start)
			outcome := metrics.OutcomeError
			if res.Chunks > 0 {
				outcome = metrics.OutcomePartial
			}
			c.metrics.ObservePass(outcome, res.Pending, res.Synced, res.Duration)
			log.Errorw("sync pass failed", "chunk", i+1, "chunks", len(batches), "synced", res.Synced, "error", err)
			return res, fmt.Errorf("failed to upload chunk %d of %d: %w", i+1, len(batches), err)
		}
		res.Submitted += len(batch)
		res.Chunks++

		// The archive already holds this batch, so finish recording it
		// even if the caller gives up now.
		markCtx := context.WithoutCancel(ctx)
		ts := c.now()
		for _, rec := range batch {
			if err := c.store.MarkSynced(markCtx, rec.ID, rec.Version, ts); err != nil {
				if record.IsNotFound(err) {
					log.Warnw("inspection deleted during sync", "id", rec.ID)
					continue
				}
				if record.IsChanged(err) {
					log.Infow("inspection edited during sync, left for next pass", "id", rec.ID)
					res.Changed++
					continue
				}
				res.Duration = time.Since(start)
				c.metrics.ObservePass(metrics.OutcomeError, res.Pending, res.Synced, res.Duration)
				return res, fmt.Errorf("failed to mark inspection %d synced: %w", rec.ID, err)
			}
			res.Synced++
		}
	}

	res.Duration = time.Since(start)
	c.metrics.ObservePass(metrics.OutcomeSuccess, res.Pending, res.Synced, res.Duration)
	log.Infow("sync pass complete", "submitted", res.Submitted, "synced", res.Synced, "changed", res.Changed, "chunks", res.Chunks, "duration", res.Duration)
	return res, nil
}

// upload sends one batch, retrying per policy.
func (c *coordinator) upload(ctx context.Context, log *zap.SugaredLogger, batch []record.InspectionRecord, policy Policy, limiter *rate.Limiter) error {
	for attempt := 0; ; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return &record.RemoteError{Op: "upsert_batch", Err: err}
			}
		}

		_, err := c.archive.UpsertBatch(ctx, batch)
		if err == nil {
			return nil
		}
		if attempt >= policy.MaxRetries || ctx.Err() != nil {
			return err
		}

		c.metrics.ObserveRetry()
		wait := policy.RetryBackoff * time.Duration(attempt+1)
		log.Warnw("chunk upload failed, retrying", "attempt", attempt+1, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
}

// chunk splits recs into batches of at most size records. A non-positive
// size yields a single batch.
func chunk(recs []record.InspectionRecord, size int) [][]record.InspectionRecord {
	if size <= 0 || size >= len(recs) {
		return [][]record.InspectionRecord{recs}
	}
	batches := make([][]record.InspectionRecord, 0, (len(recs)+size-1)/size)
	for start := 0; start < len(recs); start += size {
		end := min(start+size, len(recs))
		batches = append(batches, recs[start:end])
	}
	return batches
}
