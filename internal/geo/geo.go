package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/driver-assignment/internal/models"
)

// LocationIndex tracks last-known driver positions. Updates are
// last-write-wins and never serialize with dispatch.
type LocationIndex interface {
	Upsert(ctx context.Context, driverID string, loc models.Coord) error
	Get(ctx context.Context, driverID string) (models.Coord, bool, error)
}

// MemoryIndex is the in-process LocationIndex used when Redis is not
// configured.
type MemoryIndex struct {
	mu   sync.RWMutex
	locs map[string]stamped
}

type stamped struct {
	loc models.Coord
	at  time.Time
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{locs: make(map[string]stamped)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, driverID string, loc models.Coord) error {
	m.mu.Lock()
	m.locs[driverID] = stamped{loc: loc, at: time.Now()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Get(ctx context.Context, driverID string) (models.Coord, bool, error) {
	m.mu.RLock()
	s, ok := m.locs[driverID]
	m.mu.RUnlock()
	return s.loc, ok, nil
}

// HaversineKm is the great-circle distance in kilometers, Earth radius 6371.
func HaversineKm(a, b models.Coord) float64 {
	const R = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}

// ETAMinutes derives an arrival estimate from straight-line distance and a
// reference speed: 30 km/h for delivery, 40 km/h for rideshare.
func ETAMinutes(distanceKm float64, t models.JobType) int {
	speed := 30.0
	if t == models.JobRideshare {
		speed = 40.0
	}
	return int(math.Ceil(distanceKm / speed * 60))
}
