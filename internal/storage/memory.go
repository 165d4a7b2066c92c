package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/driver-assignment/internal/models"
)

// MemoryStore keeps everything under one mutex. Conditional updates give
// the same exactly-one-winner semantics as the SQL store.
type MemoryStore struct {
	mu          sync.RWMutex
	drivers     map[string]*models.Driver
	jobs        map[string]*models.Job
	assignments map[string]*models.Assignment
	configs     map[string]*models.AssignmentConfig
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		drivers:     make(map[string]*models.Driver),
		jobs:        make(map[string]*models.Job),
		assignments: make(map[string]*models.Assignment),
		configs:     make(map[string]*models.AssignmentConfig),
	}
	def := models.DefaultConfig()
	m.configs[def.ID] = def
	return m
}

func (m *MemoryStore) SaveDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpdateDriverMetrics(ctx context.Context, id string, acceptance, rejection, avgResponseSec float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.ErrNotFound
	}
	d.AcceptanceRate = acceptance
	d.RejectionRate = rejection
	d.AvgResponseSec = avgResponseSec
	d.Updated = time.Now()
	return nil
}

func (m *MemoryStore) ListDrivers(ctx context.Context) ([]*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SaveJob(ctx context.Context, j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) MarkMatched(ctx context.Context, jobID, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return false, models.ErrNotFound
	}
	if j.Status != models.JobSearching {
		return false, nil
	}
	j.Status = models.JobMatched
	j.DriverID = driverID
	j.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) SetJobStatus(ctx context.Context, jobID string, from, to models.JobStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return false, models.ErrNotFound
	}
	if j.Status != from {
		return false, nil
	}
	j.Status = to
	if to == models.JobSearching {
		j.DriverID = ""
	}
	j.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) CreateAssignments(ctx context.Context, as []*models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range as {
		cp := *a
		m.assignments[a.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) MarkResponded(ctx context.Context, id string, to models.AssignmentStatus, respondedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if a.Status != models.AssignmentPending {
		return false, nil
	}
	a.Status = to
	t := respondedAt
	a.RespondedAt = &t
	return true, nil
}

func (m *MemoryStore) CancelSiblings(ctx context.Context, jobID, keepID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.assignments {
		if a.JobID == jobID && a.ID != keepID && a.Status == models.AssignmentPending {
			a.Status = models.AssignmentCancelled
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CancelPendingByJob(ctx context.Context, jobID string) (int, error) {
	return m.CancelSiblings(ctx, jobID, "")
}

func (m *MemoryStore) ExpireDue(ctx context.Context, now time.Time) ([]*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Assignment
	for _, a := range m.assignments {
		if a.Status == models.AssignmentPending && !a.ExpiresAt.After(now) {
			a.Status = models.AssignmentExpired
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) PendingByJob(ctx context.Context, jobID string) ([]*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Assignment
	for _, a := range m.assignments {
		if a.JobID == jobID && a.Status == models.AssignmentPending {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) PendingByDriver(ctx context.Context, driverID string) ([]*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Assignment
	for _, a := range m.assignments {
		if a.DriverID == driverID && a.Status == models.AssignmentPending {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountByStatus(ctx context.Context) (map[models.AssignmentStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.AssignmentStatus]int)
	for _, a := range m.assignments {
		out[a.Status]++
	}
	return out, nil
}

func (m *MemoryStore) SaveConfig(ctx context.Context, c *models.AssignmentConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.Active = false // activation only via Activate
	cp.Version = 1
	if old, ok := m.configs[c.ID]; ok {
		cp.Active = old.Active
		cp.Version = old.Version + 1
	}
	m.configs[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) GetConfig(ctx context.Context, id string) (*models.AssignmentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListConfigs(ctx context.Context) ([]*models.AssignmentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AssignmentConfig, 0, len(m.configs))
	for _, c := range m.configs {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Activate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.configs[id]
	if !ok {
		return models.ErrNotFound
	}
	for _, c := range m.configs {
		c.Active = false
	}
	target.Active = true
	return nil
}

func (m *MemoryStore) ActiveConfig(ctx context.Context) (*models.AssignmentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.configs {
		if c.Active {
			cp := *c
			return &cp, nil
		}
	}
	return nil, models.ErrConfigConflict
}
