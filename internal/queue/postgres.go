package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/example/driver-assignment/internal/models"
)

// Postgres implements Queue on the reassignment_queue table. Claiming is a
// conditional UPDATE ... RETURNING so concurrent consumers never pop the
// same entry twice.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Enqueue(ctx context.Context, jobID string, reason models.RequeueReason, exclude []string, nextAttemptAt time.Time) error {
	if exclude == nil {
		exclude = []string{}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reassignment_queue(job_id, reason, retry_count, next_attempt_at, status, exclude_driver_ids)
		VALUES($1,$2,0,$3,$4,$5)
		ON CONFLICT (job_id) DO UPDATE SET
			reason=EXCLUDED.reason,
			next_attempt_at=EXCLUDED.next_attempt_at,
			status=EXCLUDED.status,
			exclude_driver_ids=EXCLUDED.exclude_driver_ids
		WHERE reassignment_queue.status<>'FAILED'`,
		jobID, string(reason), nextAttemptAt, string(models.QueuePending), pq.Array(exclude))
	return err
}

func (p *Postgres) DuePending(ctx context.Context, now time.Time, limit int) ([]*models.QueueEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE reassignment_queue SET status='PROCESSING'
		WHERE job_id IN (
			SELECT job_id FROM reassignment_queue
			WHERE status='PENDING' AND next_attempt_at<=$1
			ORDER BY next_attempt_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id, reason, retry_count, next_attempt_at, status, exclude_driver_ids`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		var reason, status string
		var exclude pq.StringArray
		if err := rows.Scan(&e.JobID, &reason, &e.RetryCount, &e.NextAttemptAt, &status, &exclude); err != nil {
			return nil, err
		}
		e.Reason = models.RequeueReason(reason)
		e.Status = models.QueueStatus(status)
		e.ExcludeDriverIDs = []string(exclude)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *Postgres) BumpRetry(ctx context.Context, jobID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE reassignment_queue SET retry_count=retry_count+1 WHERE job_id=$1`, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *Postgres) Release(ctx context.Context, jobID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE reassignment_queue SET status='PENDING' WHERE job_id=$1 AND status='PROCESSING'`, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *Postgres) MarkFailed(ctx context.Context, jobID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE reassignment_queue SET status='FAILED' WHERE job_id=$1`, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *Postgres) Suppress(ctx context.Context, jobID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM reassignment_queue WHERE job_id=$1`, jobID)
	return err
}

func (p *Postgres) Depth(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reassignment_queue WHERE status IN ('PENDING','PROCESSING')`).Scan(&n)
	return n, err
}
