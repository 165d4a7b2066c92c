package storage

import (
	"context"
	"time"

	"github.com/example/driver-assignment/internal/models"
)

// DriverStore persists driver profiles and rolling metrics.
type DriverStore interface {
	SaveDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	UpdateDriverMetrics(ctx context.Context, id string, acceptance, rejection, avgResponseSec float64) error
	ListDrivers(ctx context.Context) ([]*models.Driver, error)
}

// JobStore persists jobs. MarkMatched is the single-winner gate: it flips
// SEARCHING -> MATCHED conditionally and reports whether this caller won.
type JobStore interface {
	SaveJob(ctx context.Context, j *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	MarkMatched(ctx context.Context, jobID, driverID string) (bool, error)
	SetJobStatus(ctx context.Context, jobID string, from, to models.JobStatus) (bool, error)
}

// AssignmentStore persists offers with conditional status updates.
type AssignmentStore interface {
	CreateAssignments(ctx context.Context, as []*models.Assignment) error
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	// MarkResponded flips PENDING -> to and stamps respondedAt; returns
	// false when the assignment was no longer PENDING.
	MarkResponded(ctx context.Context, id string, to models.AssignmentStatus, respondedAt time.Time) (bool, error)
	// CancelSiblings moves every other PENDING assignment of the job to
	// CANCELLED and returns how many were cancelled.
	CancelSiblings(ctx context.Context, jobID, keepID string) (int, error)
	CancelPendingByJob(ctx context.Context, jobID string) (int, error)
	// ExpireDue marks PENDING assignments with expiresAt <= now EXPIRED
	// and returns them.
	ExpireDue(ctx context.Context, now time.Time) ([]*models.Assignment, error)
	PendingByJob(ctx context.Context, jobID string) ([]*models.Assignment, error)
	PendingByDriver(ctx context.Context, driverID string) ([]*models.Assignment, error)
	CountByStatus(ctx context.Context) (map[models.AssignmentStatus]int, error)
}

// ConfigStore persists assignment configs under the single-active invariant.
type ConfigStore interface {
	SaveConfig(ctx context.Context, c *models.AssignmentConfig) error
	GetConfig(ctx context.Context, id string) (*models.AssignmentConfig, error)
	ListConfigs(ctx context.Context) ([]*models.AssignmentConfig, error)
	// Activate deactivates all configs and activates the target inside one
	// critical section; no observer sees zero or two active configs.
	Activate(ctx context.Context, id string) error
	ActiveConfig(ctx context.Context) (*models.AssignmentConfig, error)
}

// Store is the full persistence surface the engine needs.
type Store interface {
	DriverStore
	JobStore
	AssignmentStore
	ConfigStore
}
