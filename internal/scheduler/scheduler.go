package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/driver-assignment/internal/clock"
	"github.com/example/driver-assignment/internal/models"
	"github.com/example/driver-assignment/internal/observability"
	"github.com/example/driver-assignment/internal/queue"
	"github.com/example/driver-assignment/internal/selector"
	"github.com/example/driver-assignment/internal/storage"
)

// Candidates produces the ranked driver list for a job.
type Candidates interface {
	SelectCandidates(ctx context.Context, job *models.Job, cfg *models.AssignmentConfig, exclude []string) ([]selector.Candidate, error)
}

// Registry is the availability surface the scheduler mutates: BUSY on
// accept, back ONLINE on completion or rollback.
type Registry interface {
	MarkBusy(driverID string) error
	Release(driverID string) error
}

// Tracker records driver responses into rolling metrics.
type Tracker interface {
	Record(ctx context.Context, driverID string, resp models.Response, responseTimeSec float64) error
	RecordExpiry(ctx context.Context, driverID string) error
}

// Notifier pushes offers to drivers, fire-and-forget.
type Notifier interface {
	Notify(driverID string, offer models.JobOffer) error
}

// Scheduler is the assignment state machine: it opens candidate rounds,
// resolves driver responses, expires stale offers, and drains the
// reassignment queue.
type Scheduler struct {
	Store      storage.Store
	Queue      queue.Queue
	Candidates Candidates
	Registry   Registry
	Tracker    Tracker
	Notifier   Notifier
	Clock      clock.Clock
	Logger     *slog.Logger
}

func New(store storage.Store, q queue.Queue, cands Candidates, reg Registry, tracker Tracker, notifier Notifier, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Store:      store,
		Queue:      q,
		Candidates: cands,
		Registry:   reg,
		Tracker:    tracker,
		Notifier:   notifier,
		Clock:      clk,
		Logger:     logger,
	}
}

// CreateJob registers a new job and opens its first candidate round.
func (s *Scheduler) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = models.NewID()
	}
	now := s.Clock.Now()
	job.Status = models.JobSearching
	job.CreatedAt = now
	job.UpdatedAt = now
	if err := s.Store.SaveJob(ctx, job); err != nil {
		return err
	}
	return s.Dispatch(ctx, job.ID)
}

// Dispatch opens a candidate round for the job using the active config.
func (s *Scheduler) Dispatch(ctx context.Context, jobID string) error {
	job, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobSearching {
		return models.ErrJobTerminal
	}
	cfg, err := s.Store.ActiveConfig(ctx)
	if err != nil {
		return err
	}
	return s.dispatchRound(ctx, job, cfg, nil)
}

// dispatchRound runs one candidate round. An empty candidate list is the
// soft no-candidates outcome: the job is requeued, never failed outright.
func (s *Scheduler) dispatchRound(ctx context.Context, job *models.Job, cfg *models.AssignmentConfig, exclude []string) error {
	start := s.Clock.Now()
	cands, err := s.Candidates.SelectCandidates(ctx, job, cfg, exclude)
	if err != nil {
		return fmt.Errorf("select candidates for job %s: %w", job.ID, err)
	}
	observability.DispatchLatency.Observe(s.Clock.Now().Sub(start).Seconds())

	if len(cands) == 0 {
		s.requeue(ctx, job.ID, cfg, models.ReasonNoCandidates, nil)
		return nil
	}

	now := s.Clock.Now()
	expiresAt := now.Add(time.Duration(cfg.AssignmentTimeoutSec) * time.Second)
	n := len(cands)
	assignments := make([]*models.Assignment, 0, n)
	for rank, c := range cands {
		assignments = append(assignments, &models.Assignment{
			ID:         models.NewID(),
			JobID:      job.ID,
			DriverID:   c.DriverID,
			Status:     models.AssignmentPending,
			Priority:   n - rank,
			DistanceKm: c.DistanceKm,
			ETAMinutes: c.ETAMinutes,
			Score:      c.Score,
			CreatedAt:  now,
			ExpiresAt:  expiresAt,
		})
	}
	if err := s.Store.CreateAssignments(ctx, assignments); err != nil {
		return fmt.Errorf("create assignments for job %s: %w", job.ID, err)
	}

	for _, a := range assignments {
		// best-effort push; expiry sweep covers unreachable drivers
		_ = s.Notifier.Notify(a.DriverID, models.JobOffer{
			AssignmentID: a.ID,
			JobID:        job.ID,
			JobType:      job.Type,
			Pickup:       job.Pickup,
			Value:        job.Value,
			ETAMinutes:   a.ETAMinutes,
			ExpiresAt:    a.ExpiresAt,
		})
	}
	observability.AssignmentsCreated.Add(float64(n))
	s.Logger.Info("candidate round dispatched",
		"job_id", job.ID,
		"candidates", n,
		"expires_at", expiresAt,
	)
	return nil
}

// requeue upserts the job into the reassignment queue with the configured
// backoff. Excluded drivers sit out the next round only.
func (s *Scheduler) requeue(ctx context.Context, jobID string, cfg *models.AssignmentConfig, reason models.RequeueReason, exclude []string) {
	next := s.Clock.Now().Add(time.Duration(cfg.ReassignmentDelaySec) * time.Second)
	if err := s.Queue.Enqueue(ctx, jobID, reason, exclude, next); err != nil {
		s.Logger.Error("requeue failed", "job_id", jobID, "reason", string(reason), "error", err)
		return
	}
	observability.RequeuesTotal.WithLabelValues(string(reason)).Inc()
	s.Logger.Info("job requeued", "job_id", jobID, "reason", string(reason), "next_attempt_at", next)
}

// CancelJob is the external cancellation override: every pending offer is
// cancelled and queued reassignments are suppressed regardless of age.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case models.JobCancelled:
		return nil
	case models.JobCompleted, models.JobNoDriverFound:
		return models.ErrJobTerminal
	}
	if _, err := s.Store.SetJobStatus(ctx, jobID, job.Status, models.JobCancelled); err != nil {
		return err
	}
	if _, err := s.Store.CancelPendingByJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.Queue.Suppress(ctx, jobID); err != nil {
		s.Logger.Warn("queue suppress failed", "job_id", jobID, "error", err)
	}
	if job.Status == models.JobMatched && job.DriverID != "" {
		if err := s.Registry.Release(job.DriverID); err != nil {
			s.Logger.Warn("driver release failed", "driver_id", job.DriverID, "error", err)
		}
	}
	s.Logger.Info("job cancelled", "job_id", jobID)
	return nil
}

// CompleteJob finishes a matched job and returns the driver to ONLINE.
func (s *Scheduler) CompleteJob(ctx context.Context, jobID string) error {
	job, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	ok, err := s.Store.SetJobStatus(ctx, jobID, models.JobMatched, models.JobCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrJobTerminal
	}
	if job.DriverID != "" {
		if err := s.Registry.Release(job.DriverID); err != nil && !errors.Is(err, models.ErrInvalidTransition) {
			return err
		}
	}
	s.Logger.Info("job completed", "job_id", jobID, "driver_id", job.DriverID)
	return nil
}
