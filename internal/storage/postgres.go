package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/driver-assignment/internal/models"
)

// PostgresStore backs the engine with conditional UPDATEs; every
// compare-and-swap is a WHERE clause on the current status.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) SaveDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO drivers(id, lat, lon, capability, rating, acceptance_rate, rejection_rate, avg_response_sec, completion_rate, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			lat=EXCLUDED.lat, lon=EXCLUDED.lon, capability=EXCLUDED.capability,
			rating=EXCLUDED.rating, completion_rate=EXCLUDED.completion_rate, updated_at=EXCLUDED.updated_at`,
		d.ID, d.Loc.Lat, d.Loc.Lon, string(d.Capability), d.Rating,
		d.AcceptanceRate, d.RejectionRate, d.AvgResponseSec, d.CompletionRate, time.Now())
	return err
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, lat, lon, capability, rating, acceptance_rate, rejection_rate, avg_response_sec, completion_rate, updated_at
		FROM drivers WHERE id=$1`, id)
	return scanDriver(row)
}

func (p *PostgresStore) UpdateDriverMetrics(ctx context.Context, id string, acceptance, rejection, avgResponseSec float64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE drivers SET acceptance_rate=$1, rejection_rate=$2, avg_response_sec=$3, updated_at=$4 WHERE id=$5`,
		acceptance, rejection, avgResponseSec, time.Now(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListDrivers(ctx context.Context) ([]*models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, lat, lon, capability, rating, acceptance_rate, rejection_rate, avg_response_sec, completion_rate, updated_at
		FROM drivers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (*models.Driver, error) {
	var d models.Driver
	var cap string
	err := row.Scan(&d.ID, &d.Loc.Lat, &d.Loc.Lon, &cap, &d.Rating,
		&d.AcceptanceRate, &d.RejectionRate, &d.AvgResponseSec, &d.CompletionRate, &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Capability = models.Capability(cap)
	return &d, nil
}

func (p *PostgresStore) SaveJob(ctx context.Context, j *models.Job) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO jobs(id, type, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, value, status, driver_id, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$11)`,
		j.ID, string(j.Type), j.Pickup.Lat, j.Pickup.Lon, j.Dropoff.Lat, j.Dropoff.Lon,
		j.Value, string(j.Status), j.DriverID, j.CreatedAt, j.UpdatedAt)
	return err
}

func (p *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, type, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, value, status, driver_id, created_at, updated_at
		FROM jobs WHERE id=$1`, id)
	var j models.Job
	var typ, status string
	var driverID sql.NullString
	err := row.Scan(&j.ID, &typ, &j.Pickup.Lat, &j.Pickup.Lon, &j.Dropoff.Lat, &j.Dropoff.Lon,
		&j.Value, &status, &driverID, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Type = models.JobType(typ)
	j.Status = models.JobStatus(status)
	if driverID.Valid {
		j.DriverID = driverID.String
	}
	return &j, nil
}

func (p *PostgresStore) MarkMatched(ctx context.Context, jobID, driverID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE jobs SET status=$1, driver_id=$2, updated_at=NOW()
		WHERE id=$3 AND status=$4`,
		string(models.JobMatched), driverID, jobID, string(models.JobSearching))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (p *PostgresStore) SetJobStatus(ctx context.Context, jobID string, from, to models.JobStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE jobs SET status=$1,
			driver_id=CASE WHEN $1='SEARCHING' THEN NULL ELSE driver_id END,
			updated_at=NOW()
		WHERE id=$2 AND status=$3`,
		string(to), jobID, string(from))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (p *PostgresStore) CreateAssignments(ctx context.Context, as []*models.Assignment) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, a := range as {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assignments(id, job_id, driver_id, status, priority, distance_km, eta_minutes, score, created_at, expires_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			a.ID, a.JobID, a.DriverID, string(a.Status), a.Priority,
			a.DistanceKm, a.ETAMinutes, a.Score, a.CreatedAt, a.ExpiresAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	row := p.db.QueryRowContext(ctx, assignmentSelect+` WHERE id=$1`, id)
	return scanAssignment(row)
}

const assignmentSelect = `
	SELECT id, job_id, driver_id, status, priority, distance_km, eta_minutes, score, created_at, expires_at, responded_at
	FROM assignments`

func scanAssignment(row rowScanner) (*models.Assignment, error) {
	var a models.Assignment
	var status string
	var responded sql.NullTime
	err := row.Scan(&a.ID, &a.JobID, &a.DriverID, &status, &a.Priority,
		&a.DistanceKm, &a.ETAMinutes, &a.Score, &a.CreatedAt, &a.ExpiresAt, &responded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Status = models.AssignmentStatus(status)
	if responded.Valid {
		t := responded.Time
		a.RespondedAt = &t
	}
	return &a, nil
}

func (p *PostgresStore) MarkResponded(ctx context.Context, id string, to models.AssignmentStatus, respondedAt time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE assignments SET status=$1, responded_at=$2
		WHERE id=$3 AND status=$4`,
		string(to), respondedAt, id, string(models.AssignmentPending))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (p *PostgresStore) CancelSiblings(ctx context.Context, jobID, keepID string) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE assignments SET status=$1
		WHERE job_id=$2 AND id<>$3 AND status=$4`,
		string(models.AssignmentCancelled), jobID, keepID, string(models.AssignmentPending))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *PostgresStore) CancelPendingByJob(ctx context.Context, jobID string) (int, error) {
	return p.CancelSiblings(ctx, jobID, "")
}

func (p *PostgresStore) ExpireDue(ctx context.Context, now time.Time) ([]*models.Assignment, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE assignments SET status=$1
		WHERE status=$2 AND expires_at<=$3
		RETURNING id, job_id, driver_id, status, priority, distance_km, eta_minutes, score, created_at, expires_at, responded_at`,
		string(models.AssignmentExpired), string(models.AssignmentPending), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) PendingByJob(ctx context.Context, jobID string) ([]*models.Assignment, error) {
	return p.queryAssignments(ctx, assignmentSelect+` WHERE job_id=$1 AND status=$2 ORDER BY priority DESC`,
		jobID, string(models.AssignmentPending))
}

func (p *PostgresStore) PendingByDriver(ctx context.Context, driverID string) ([]*models.Assignment, error) {
	return p.queryAssignments(ctx, assignmentSelect+` WHERE driver_id=$1 AND status=$2 ORDER BY expires_at`,
		driverID, string(models.AssignmentPending))
}

func (p *PostgresStore) queryAssignments(ctx context.Context, q string, args ...any) ([]*models.Assignment, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountByStatus(ctx context.Context) (map[models.AssignmentStatus]int, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM assignments GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[models.AssignmentStatus]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[models.AssignmentStatus(s)] = n
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveConfig(ctx context.Context, c *models.AssignmentConfig) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO assignment_configs(id, name, version, distance_weight, rating_weight, completion_rate_weight,
			response_time_weight, availability_weight, max_distance_km, max_concurrent_candidates,
			assignment_timeout_sec, reassignment_delay_sec, max_retries, min_rating, min_completion_rate, active)
		VALUES($1,$2,1,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,false)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, version=assignment_configs.version+1,
			distance_weight=EXCLUDED.distance_weight, rating_weight=EXCLUDED.rating_weight,
			completion_rate_weight=EXCLUDED.completion_rate_weight, response_time_weight=EXCLUDED.response_time_weight,
			availability_weight=EXCLUDED.availability_weight, max_distance_km=EXCLUDED.max_distance_km,
			max_concurrent_candidates=EXCLUDED.max_concurrent_candidates, assignment_timeout_sec=EXCLUDED.assignment_timeout_sec,
			reassignment_delay_sec=EXCLUDED.reassignment_delay_sec, max_retries=EXCLUDED.max_retries,
			min_rating=EXCLUDED.min_rating, min_completion_rate=EXCLUDED.min_completion_rate`,
		c.ID, c.Name, c.DistanceWeight, c.RatingWeight, c.CompletionRateWeight,
		c.ResponseTimeWeight, c.AvailabilityWeight, c.MaxDistanceKm, c.MaxConcurrentCandidates,
		c.AssignmentTimeoutSec, c.ReassignmentDelaySec, c.MaxRetries, c.MinRating, c.MinCompletionRate)
	return err
}

const configSelect = `
	SELECT id, name, version, distance_weight, rating_weight, completion_rate_weight,
		response_time_weight, availability_weight, max_distance_km, max_concurrent_candidates,
		assignment_timeout_sec, reassignment_delay_sec, max_retries, min_rating, min_completion_rate, active
	FROM assignment_configs`

func scanConfig(row rowScanner) (*models.AssignmentConfig, error) {
	var c models.AssignmentConfig
	err := row.Scan(&c.ID, &c.Name, &c.Version, &c.DistanceWeight, &c.RatingWeight, &c.CompletionRateWeight,
		&c.ResponseTimeWeight, &c.AvailabilityWeight, &c.MaxDistanceKm, &c.MaxConcurrentCandidates,
		&c.AssignmentTimeoutSec, &c.ReassignmentDelaySec, &c.MaxRetries, &c.MinRating, &c.MinCompletionRate, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *PostgresStore) GetConfig(ctx context.Context, id string) (*models.AssignmentConfig, error) {
	return scanConfig(p.db.QueryRowContext(ctx, configSelect+` WHERE id=$1`, id))
}

func (p *PostgresStore) ListConfigs(ctx context.Context) ([]*models.AssignmentConfig, error) {
	rows, err := p.db.QueryContext(ctx, configSelect+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AssignmentConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Activate flips the single active flag inside one transaction so no read
// observes zero or two active configs.
func (p *PostgresStore) Activate(ctx context.Context, id string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE assignment_configs SET active=false WHERE active`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE assignment_configs SET active=true WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return models.ErrNotFound
	}
	return tx.Commit()
}

func (p *PostgresStore) ActiveConfig(ctx context.Context) (*models.AssignmentConfig, error) {
	c, err := scanConfig(p.db.QueryRowContext(ctx, configSelect+` WHERE active`))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrConfigConflict
	}
	return c, err
}
