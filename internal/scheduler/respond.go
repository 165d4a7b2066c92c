package scheduler

import (
	"context"
	"fmt"

	"github.com/example/driver-assignment/internal/models"
	"github.com/example/driver-assignment/internal/observability"
)

// Respond resolves a driver's answer to a pending assignment.
//
// Acceptance is exactly-one-winner: the driver is moved to BUSY first (the
// accept-time busy check), then the job's matched flag is claimed with a
// conditional update. Losing either race rolls the driver back and reports
// the response as stale. Replays of an already-resolved assignment are
// stale no-ops and never double-update metrics.
func (s *Scheduler) Respond(ctx context.Context, assignmentID string, resp models.Response) error {
	a, err := s.Store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if a.Status != models.AssignmentPending {
		return models.ErrStaleAssignment
	}
	now := s.Clock.Now()
	// expiry interval is closed on the early side: a response at expiresAt
	// is already late
	if !now.Before(a.ExpiresAt) {
		return models.ErrStaleAssignment
	}
	responseSec := now.Sub(a.CreatedAt).Seconds()

	switch resp {
	case models.ResponseRejected:
		ok, err := s.Store.MarkResponded(ctx, assignmentID, models.AssignmentRejected, now)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrStaleAssignment
		}
		observability.RejectsTotal.Inc()
		if err := s.Tracker.Record(ctx, a.DriverID, resp, responseSec); err != nil {
			s.Logger.Warn("metric record failed", "driver_id", a.DriverID, "error", err)
		}
		s.requeueIfSearching(ctx, a.JobID, models.ReasonRejected, []string{a.DriverID})
		s.Logger.Info("assignment rejected", "assignment_id", assignmentID, "driver_id", a.DriverID, "job_id", a.JobID)
		return nil

	case models.ResponseAccepted:
		if err := s.Registry.MarkBusy(a.DriverID); err != nil {
			return err
		}
		won, err := s.Store.MarkMatched(ctx, a.JobID, a.DriverID)
		if err != nil {
			s.releaseQuiet(a.DriverID)
			return err
		}
		if !won {
			s.releaseQuiet(a.DriverID)
			return models.ErrStaleAssignment
		}
		ok, err := s.Store.MarkResponded(ctx, assignmentID, models.AssignmentAccepted, now)
		if err != nil || !ok {
			// assignment was expired or cancelled underneath the match;
			// undo the claim
			_, _ = s.Store.SetJobStatus(ctx, a.JobID, models.JobMatched, models.JobSearching)
			s.releaseQuiet(a.DriverID)
			if err != nil {
				return err
			}
			return models.ErrStaleAssignment
		}
		if _, err := s.Store.CancelSiblings(ctx, a.JobID, assignmentID); err != nil {
			s.Logger.Error("sibling cancel failed", "job_id", a.JobID, "error", err)
		}
		if err := s.Queue.Suppress(ctx, a.JobID); err != nil {
			s.Logger.Warn("queue suppress failed", "job_id", a.JobID, "error", err)
		}
		observability.AcceptsTotal.Inc()
		if err := s.Tracker.Record(ctx, a.DriverID, resp, responseSec); err != nil {
			s.Logger.Warn("metric record failed", "driver_id", a.DriverID, "error", err)
		}
		s.Logger.Info("assignment accepted",
			"assignment_id", assignmentID,
			"driver_id", a.DriverID,
			"job_id", a.JobID,
			"response_sec", responseSec,
		)
		return nil

	default:
		return fmt.Errorf("unknown response %q", resp)
	}
}

func (s *Scheduler) requeueIfSearching(ctx context.Context, jobID string, reason models.RequeueReason, exclude []string) {
	job, err := s.Store.GetJob(ctx, jobID)
	if err != nil || job.Status != models.JobSearching {
		return
	}
	cfg, err := s.Store.ActiveConfig(ctx)
	if err != nil {
		s.Logger.Error("active config read failed", "error", err)
		return
	}
	s.requeue(ctx, jobID, cfg, reason, exclude)
}

func (s *Scheduler) releaseQuiet(driverID string) {
	if err := s.Registry.Release(driverID); err != nil {
		s.Logger.Warn("driver release failed", "driver_id", driverID, "error", err)
	}
}
