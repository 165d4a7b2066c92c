package geo

import (
	"context"
	"math"
	"testing"

	"github.com/example/driver-assignment/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := HaversineKm(models.Coord{}, models.Coord{})
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of longitude at the equator is ~111.19 km
	d := HaversineKm(models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 0, Lon: 1})
	if math.Abs(d-111.19) > 0.5 {
		t.Fatalf("expected ~111.19 km, got %f", d)
	}
}

func TestETARoundsUp(t *testing.T) {
	// 5 km at 30 km/h is exactly 10 minutes
	if got := ETAMinutes(5, models.JobDelivery); got != 10 {
		t.Fatalf("delivery eta: expected 10, got %d", got)
	}
	// 5 km at 40 km/h is 7.5 minutes, rounded up
	if got := ETAMinutes(5, models.JobRideshare); got != 8 {
		t.Fatalf("rideshare eta: expected 8, got %d", got)
	}
	if got := ETAMinutes(0, models.JobDelivery); got != 0 {
		t.Fatalf("zero distance: expected 0, got %d", got)
	}
}

func TestEligibleHardFilters(t *testing.T) {
	cfg := models.DefaultConfig()
	base := ScoreInput{DistanceKm: 2, Rating: 4.5, CompletionRate: 0.9, Online: true}

	if !Eligible(base, cfg) {
		t.Fatal("base input should be eligible")
	}
	far := base
	far.DistanceKm = cfg.MaxDistanceKm + 0.1
	if Eligible(far, cfg) {
		t.Fatal("beyond max distance should be filtered")
	}
	lowRated := base
	lowRated.Rating = cfg.MinRating - 0.1
	if Eligible(lowRated, cfg) {
		t.Fatal("below min rating should be filtered")
	}
	flaky := base
	flaky.CompletionRate = cfg.MinCompletionRate - 0.01
	if Eligible(flaky, cfg) {
		t.Fatal("below min completion rate should be filtered")
	}
}

func TestScorePrefersCloserDriver(t *testing.T) {
	cfg := models.DefaultConfig()
	near := ScoreInput{DistanceKm: 1, Rating: 4.0, CompletionRate: 0.8, AvgResponseSec: 10, Online: true}
	far := near
	far.DistanceKm = 9
	if Score(near, cfg) <= Score(far, cfg) {
		t.Fatal("closer driver should score higher, all else equal")
	}
}

func TestScoreClampsSubScores(t *testing.T) {
	cfg := models.DefaultConfig()
	// response time past the timeout must not go negative
	slow := ScoreInput{DistanceKm: 1, Rating: 5, CompletionRate: 1,
		AvgResponseSec: float64(cfg.AssignmentTimeoutSec) * 2, Online: true}
	got := Score(slow, cfg)
	want := cfg.DistanceWeight*(1-1.0/cfg.MaxDistanceKm) + cfg.RatingWeight + cfg.CompletionRateWeight + cfg.AvailabilityWeight
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestMemoryIndexRoundTrip(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	if _, ok, _ := idx.Get(ctx, "d1"); ok {
		t.Fatal("expected miss for unknown driver")
	}
	if err := idx.Upsert(ctx, "d1", models.Coord{Lat: 1, Lon: 2}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	loc, ok, err := idx.Get(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if loc.Lat != 1 || loc.Lon != 2 {
		t.Fatalf("unexpected loc %+v", loc)
	}
}
