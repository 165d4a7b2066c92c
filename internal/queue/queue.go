package queue

import (
	"context"
	"sync"
	"time"

	"github.com/example/driver-assignment/internal/models"
)

// Queue is the durable reassignment queue. A job has at most one live
// entry; Enqueue upserts so retryCount survives across candidate rounds.
type Queue interface {
	Enqueue(ctx context.Context, jobID string, reason models.RequeueReason, exclude []string, nextAttemptAt time.Time) error
	// DuePending claims entries with nextAttemptAt <= now, flipping them
	// to PROCESSING so concurrent sweeps do not double-process.
	DuePending(ctx context.Context, now time.Time, limit int) ([]*models.QueueEntry, error)
	BumpRetry(ctx context.Context, jobID string) error
	// Release returns a claimed PROCESSING entry to PENDING after a
	// transient failure so a later tick picks it up again.
	Release(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string) error
	// Suppress removes the entry when the job matched or was cancelled.
	Suppress(ctx context.Context, jobID string) error
	Depth(ctx context.Context) (int, error)
}

// Memory is the in-process Queue used by tests and single-node runs.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*models.QueueEntry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*models.QueueEntry)}
}

func (m *Memory) Enqueue(ctx context.Context, jobID string, reason models.RequeueReason, exclude []string, nextAttemptAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[jobID]; ok {
		if e.Status == models.QueueFailed {
			return nil
		}
		e.Reason = reason
		e.NextAttemptAt = nextAttemptAt
		e.Status = models.QueuePending
		e.ExcludeDriverIDs = append([]string(nil), exclude...)
		return nil
	}
	m.entries[jobID] = &models.QueueEntry{
		JobID:            jobID,
		Reason:           reason,
		RetryCount:       0,
		NextAttemptAt:    nextAttemptAt,
		Status:           models.QueuePending,
		ExcludeDriverIDs: append([]string(nil), exclude...),
	}
	return nil
}

func (m *Memory) DuePending(ctx context.Context, now time.Time, limit int) ([]*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.QueueEntry
	for _, e := range m.entries {
		if len(out) >= limit {
			break
		}
		if e.Status == models.QueuePending && !e.NextAttemptAt.After(now) {
			e.Status = models.QueueProcessing
			cp := *e
			cp.ExcludeDriverIDs = append([]string(nil), e.ExcludeDriverIDs...)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) BumpRetry(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[jobID]
	if !ok {
		return models.ErrNotFound
	}
	e.RetryCount++
	return nil
}

func (m *Memory) Release(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[jobID]
	if !ok {
		return models.ErrNotFound
	}
	if e.Status == models.QueueProcessing {
		e.Status = models.QueuePending
	}
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[jobID]
	if !ok {
		return models.ErrNotFound
	}
	e.Status = models.QueueFailed
	return nil
}

func (m *Memory) Suppress(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, jobID)
	return nil
}

func (m *Memory) Depth(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Status == models.QueuePending || e.Status == models.QueueProcessing {
			n++
		}
	}
	return n, nil
}

// Entry returns a copy of the job's entry for inspection in tests.
func (m *Memory) Entry(jobID string) (models.QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[jobID]
	if !ok {
		return models.QueueEntry{}, false
	}
	cp := *e
	cp.ExcludeDriverIDs = append([]string(nil), e.ExcludeDriverIDs...)
	return cp, true
}
