package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/example/driver-assignment/internal/models"
	"github.com/example/driver-assignment/internal/observability"
)

// RunSweeper expires overdue assignments on a fixed tick. A failed sweep
// is retried on the next tick; expiry is idempotent by construction.
func (s *Scheduler) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.Logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// Sweep marks every PENDING assignment past its deadline EXPIRED. When the
// expired offer was the highest-priority one still pending for its job,
// the job re-enters the queue with reason EXPIRED.
func (s *Scheduler) Sweep(ctx context.Context) error {
	now := s.Clock.Now()
	expired, err := s.Store.ExpireDue(ctx, now)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}
	observability.ExpiriesTotal.Add(float64(len(expired)))

	byJob := make(map[string][]*models.Assignment)
	for _, a := range expired {
		byJob[a.JobID] = append(byJob[a.JobID], a)
		if err := s.Tracker.RecordExpiry(ctx, a.DriverID); err != nil {
			s.Logger.Warn("expiry metric record failed", "driver_id", a.DriverID, "error", err)
		}
	}

	for jobID, batch := range byJob {
		maxExpired := 0
		drivers := make([]string, 0, len(batch))
		for _, a := range batch {
			if a.Priority > maxExpired {
				maxExpired = a.Priority
			}
			drivers = append(drivers, a.DriverID)
		}
		pending, err := s.Store.PendingByJob(ctx, jobID)
		if err != nil {
			s.Logger.Error("pending lookup failed", "job_id", jobID, "error", err)
			continue
		}
		higherStillPending := false
		for _, p := range pending {
			if p.Priority > maxExpired {
				higherStillPending = true
				break
			}
		}
		if higherStillPending {
			continue
		}
		s.requeueIfSearching(ctx, jobID, models.ReasonExpired, drivers)
		s.Logger.Info("assignments expired", "job_id", jobID, "expired", len(batch))
	}
	return nil
}

// RunRequeuer drains due reassignment entries on a fixed tick.
func (s *Scheduler) RunRequeuer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessDue(ctx); err != nil {
				s.Logger.Error("requeue processing failed", "error", err)
			}
		}
	}
}

const dueBatchSize = 32

// ProcessDue pops due queue entries and opens a fresh candidate round for
// each, excluding last round's rejected or expired drivers. One job's
// failure never aborts the others.
func (s *Scheduler) ProcessDue(ctx context.Context) error {
	now := s.Clock.Now()
	entries, err := s.Queue.DuePending(ctx, now, dueBatchSize)
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.processEntry(ctx, e)
	}
	if depth, err := s.Queue.Depth(ctx); err == nil {
		observability.QueueDepth.Set(float64(depth))
	}
	return nil
}

func (s *Scheduler) processEntry(ctx context.Context, e *models.QueueEntry) {
	job, err := s.Store.GetJob(ctx, e.JobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = s.Queue.Suppress(ctx, e.JobID)
			return
		}
		s.Logger.Error("job read failed", "job_id", e.JobID, "error", err)
		s.releaseEntry(ctx, e.JobID)
		return
	}
	if job.Status != models.JobSearching {
		_ = s.Queue.Suppress(ctx, e.JobID)
		return
	}
	cfg, err := s.Store.ActiveConfig(ctx)
	if err != nil {
		s.Logger.Error("active config read failed", "job_id", e.JobID, "error", err)
		s.releaseEntry(ctx, e.JobID)
		return
	}
	if e.RetryCount >= cfg.MaxRetries {
		if _, err := s.Store.SetJobStatus(ctx, e.JobID, models.JobSearching, models.JobNoDriverFound); err != nil {
			s.Logger.Error("terminal transition failed", "job_id", e.JobID, "error", err)
			return
		}
		if err := s.Queue.MarkFailed(ctx, e.JobID); err != nil {
			s.Logger.Warn("queue fail mark failed", "job_id", e.JobID, "error", err)
		}
		observability.JobsExhausted.Inc()
		s.Logger.Warn("no driver found",
			"job_id", e.JobID,
			"retries", e.RetryCount,
			"last_reason", string(e.Reason),
			"error", models.ErrRetryCapExceeded,
		)
		return
	}
	if err := s.Queue.BumpRetry(ctx, e.JobID); err != nil {
		s.Logger.Warn("retry bump failed", "job_id", e.JobID, "error", err)
	}
	if err := s.dispatchRound(ctx, job, cfg, e.ExcludeDriverIDs); err != nil {
		s.Logger.Error("reassignment round failed", "job_id", e.JobID, "error", err)
		s.requeue(ctx, e.JobID, cfg, e.Reason, e.ExcludeDriverIDs)
	}
}

// releaseEntry puts a claimed entry back so the next requeuer tick
// retries it instead of stranding the job in SEARCHING.
func (s *Scheduler) releaseEntry(ctx context.Context, jobID string) {
	if err := s.Queue.Release(ctx, jobID); err != nil {
		s.Logger.Warn("queue release failed", "job_id", jobID, "error", err)
	}
}
