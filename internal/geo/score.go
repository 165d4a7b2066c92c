package geo

import "github.com/example/driver-assignment/internal/models"

// ScoreInput is the per-driver snapshot scored against a config.
type ScoreInput struct {
	DistanceKm     float64
	Rating         float64
	CompletionRate float64
	AvgResponseSec float64
	Online         bool
}

// Eligible applies the hard filters: out-of-radius, low-rated, or
// low-completion drivers are excluded before scoring, not penalized.
func Eligible(in ScoreInput, cfg *models.AssignmentConfig) bool {
	if in.DistanceKm > cfg.MaxDistanceKm {
		return false
	}
	if in.Rating < cfg.MinRating {
		return false
	}
	if in.CompletionRate < cfg.MinCompletionRate {
		return false
	}
	return true
}

// Score computes the weighted composite of normalized sub-scores.
func Score(in ScoreInput, cfg *models.AssignmentConfig) float64 {
	distanceScore := 0.0
	if cfg.MaxDistanceKm > 0 {
		distanceScore = 1 - in.DistanceKm/cfg.MaxDistanceKm
		if distanceScore < 0 {
			distanceScore = 0
		}
	}
	ratingScore := in.Rating / 5
	completionScore := in.CompletionRate
	responseScore := 0.0
	if cfg.AssignmentTimeoutSec > 0 {
		responseScore = 1 - in.AvgResponseSec/float64(cfg.AssignmentTimeoutSec)
		if responseScore < 0 {
			responseScore = 0
		}
	}
	availabilityScore := 0.0
	if in.Online {
		availabilityScore = 1
	}
	return cfg.DistanceWeight*distanceScore +
		cfg.RatingWeight*ratingScore +
		cfg.CompletionRateWeight*completionScore +
		cfg.ResponseTimeWeight*responseScore +
		cfg.AvailabilityWeight*availabilityScore
}
