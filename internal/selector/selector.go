package selector

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/example/driver-assignment/internal/geo"
	"github.com/example/driver-assignment/internal/models"
	"github.com/example/driver-assignment/internal/storage"
)

// Availability is the registry view the selector needs.
type Availability interface {
	ListOnline(t models.JobType) []string
	IsEligible(driverID string, t models.JobType) bool
}

// Candidate is one scored driver, ranked descending by score.
type Candidate struct {
	DriverID   string  `json:"driver_id"`
	Score      float64 `json:"score"`
	DistanceKm float64 `json:"distance_km"`
	ETAMinutes int     `json:"eta_minutes"`
}

// Selector builds ranked candidate lists for jobs.
type Selector struct {
	Registry  Availability
	Drivers   storage.DriverStore
	Locations geo.LocationIndex
	Logger    *slog.Logger
}

func New(registry Availability, drivers storage.DriverStore, locations geo.LocationIndex, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{Registry: registry, Drivers: drivers, Locations: locations, Logger: logger}
}

// SelectCandidates returns the top candidates for the job, hard-filtered
// and scored per the config, truncated to MaxConcurrentCandidates. An
// empty slice is a normal outcome, not an error: the caller requeues the
// job and retries once locations and availability have moved.
func (s *Selector) SelectCandidates(ctx context.Context, job *models.Job, cfg *models.AssignmentConfig, exclude []string) ([]Candidate, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	var out []Candidate
	for _, id := range s.Registry.ListOnline(job.Type) {
		if _, skip := excluded[id]; skip {
			continue
		}
		d, err := s.Drivers.GetDriver(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		loc, ok, err := s.Locations.Get(ctx, id)
		if err != nil {
			// one driver's lookup failure must not sink the round
			s.Logger.Warn("location lookup failed", "driver_id", id, "error", err)
			continue
		}
		if !ok {
			loc = d.Loc
		}
		dist := geo.HaversineKm(loc, job.Pickup)
		in := geo.ScoreInput{
			DistanceKm:     dist,
			Rating:         d.Rating,
			CompletionRate: d.CompletionRate,
			AvgResponseSec: d.AvgResponseSec,
			Online:         true,
		}
		if !geo.Eligible(in, cfg) {
			continue
		}
		out = append(out, Candidate{
			DriverID:   id,
			Score:      geo.Score(in, cfg),
			DistanceKm: dist,
			ETAMinutes: geo.ETAMinutes(dist, job.Type),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].DriverID < out[j].DriverID
	})

	max := cfg.MaxConcurrentCandidates
	if max <= 0 {
		max = 3
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}
