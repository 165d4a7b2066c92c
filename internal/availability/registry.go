package availability

import (
	"sort"
	"sync"
	"time"

	"github.com/example/driver-assignment/internal/clock"
	"github.com/example/driver-assignment/internal/models"
)

// Transition is one append-only history record of a driver state change.
type Transition struct {
	DriverID string             `json:"driver_id"`
	From     models.DriverState `json:"from"`
	To       models.DriverState `json:"to"`
	At       time.Time          `json:"at"`
}

type entry struct {
	state      models.DriverState
	capability models.Capability
}

// Registry tracks driver availability. Per-driver state is mutated only by
// the driver's own state calls and by the scheduler on accept/complete.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]entry
	history map[string][]Transition
	clock   clock.Clock
}

func NewRegistry(c clock.Clock) *Registry {
	if c == nil {
		c = clock.Real{}
	}
	return &Registry{
		drivers: make(map[string]entry),
		history: make(map[string][]Transition),
		clock:   c,
	}
}

// Register adds a driver, initially OFFLINE.
func (r *Registry) Register(driverID string, cap models.Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[driverID]; ok {
		return
	}
	r.drivers[driverID] = entry{state: models.DriverOffline, capability: cap}
}

// State returns the current state, defaulting to OFFLINE for unknown drivers.
func (r *Registry) State(driverID string) models.DriverState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.drivers[driverID]
	if !ok {
		return models.DriverOffline
	}
	return e.state
}

// SetState applies a driver-initiated transition. A BUSY driver cannot go
// OFFLINE or on BREAK mid-job.
func (r *Registry) SetState(driverID string, to models.DriverState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drivers[driverID]
	if !ok {
		return models.ErrNotFound
	}
	from := e.state
	if from == to {
		return nil
	}
	if from == models.DriverBusy {
		return models.ErrDriverBusy
	}
	if !legal(from, to) {
		return models.ErrInvalidTransition
	}
	e.state = to
	r.drivers[driverID] = e
	r.append(driverID, from, to)
	return nil
}

// legal covers the driver-initiated chain OFFLINE <-> ONLINE <-> BREAK.
// BUSY is entered and left only through MarkBusy/Release.
func legal(from, to models.DriverState) bool {
	switch from {
	case models.DriverOffline:
		return to == models.DriverOnline
	case models.DriverOnline:
		return to == models.DriverOffline || to == models.DriverBreak
	case models.DriverBreak:
		return to == models.DriverOnline
	}
	return false
}

// MarkBusy transitions ONLINE -> BUSY on acceptance. It is the accept-time
// busy check: a driver already BUSY fails fast so two concurrent
// acceptances for different jobs cannot both win.
func (r *Registry) MarkBusy(driverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drivers[driverID]
	if !ok {
		return models.ErrNotFound
	}
	if e.state == models.DriverBusy {
		return models.ErrDriverBusy
	}
	if e.state != models.DriverOnline {
		return models.ErrInvalidTransition
	}
	e.state = models.DriverBusy
	r.drivers[driverID] = e
	r.append(driverID, models.DriverOnline, models.DriverBusy)
	return nil
}

// Release transitions BUSY -> ONLINE on job completion or accept rollback.
func (r *Registry) Release(driverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.drivers[driverID]
	if !ok {
		return models.ErrNotFound
	}
	if e.state != models.DriverBusy {
		return models.ErrInvalidTransition
	}
	e.state = models.DriverOnline
	r.drivers[driverID] = e
	r.append(driverID, models.DriverBusy, models.DriverOnline)
	return nil
}

// IsEligible reports whether the driver is ONLINE and serves the job type.
func (r *Registry) IsEligible(driverID string, t models.JobType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.drivers[driverID]
	return ok && e.state == models.DriverOnline && e.capability.Serves(t)
}

// ListOnline returns driver IDs eligible for the job type, sorted for
// deterministic candidate rounds.
func (r *Registry) ListOnline(t models.JobType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.drivers))
	for id, e := range r.drivers {
		if e.state == models.DriverOnline && e.capability.Serves(t) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// History returns a copy of the driver's transition log, oldest first.
func (r *Registry) History(driverID string) []Transition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := r.history[driverID]
	out := make([]Transition, len(h))
	copy(out, h)
	return out
}

func (r *Registry) append(driverID string, from, to models.DriverState) {
	r.history[driverID] = append(r.history[driverID], Transition{
		DriverID: driverID,
		From:     from,
		To:       to,
		At:       r.clock.Now(),
	})
}
