package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// JobType distinguishes food-delivery orders from rideshare trips.
type JobType string

const (
	JobDelivery  JobType = "delivery"
	JobRideshare JobType = "rideshare"
)

type JobStatus string

const (
	JobSearching     JobStatus = "SEARCHING"
	JobMatched       JobStatus = "MATCHED"
	JobCompleted     JobStatus = "COMPLETED"
	JobCancelled     JobStatus = "CANCELLED"
	JobNoDriverFound JobStatus = "NO_DRIVER_FOUND"
)

// Terminal reports whether a job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobNoDriverFound
}

// Job is an order or ride that needs a driver. Identity and coordinates
// are immutable after creation; only status and the matched driver move.
type Job struct {
	ID        string    `json:"id"`
	Type      JobType   `json:"type"`
	Pickup    Coord     `json:"pickup"`
	Dropoff   Coord     `json:"dropoff"`
	Value     float64   `json:"value"` // order total or estimated fare
	Status    JobStatus `json:"status"`
	DriverID  string    `json:"driver_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DriverState string

const (
	DriverOffline DriverState = "OFFLINE"
	DriverOnline  DriverState = "ONLINE"
	DriverBreak   DriverState = "BREAK"
	DriverBusy    DriverState = "BUSY"
)

// Capability describes which job types a driver serves.
type Capability string

const (
	CapDelivery  Capability = "delivery"
	CapRideshare Capability = "rideshare"
	CapBoth      Capability = "both"
)

// Serves reports whether the capability covers a job type.
func (c Capability) Serves(t JobType) bool {
	switch c {
	case CapBoth:
		return true
	case CapDelivery:
		return t == JobDelivery
	case CapRideshare:
		return t == JobRideshare
	}
	return false
}

// Driver carries the profile and rolling performance metrics used for
// scoring. Location is eventually consistent and read at dispatch time.
type Driver struct {
	ID             string     `json:"id"`
	Loc            Coord      `json:"loc"`
	Capability     Capability `json:"capability"`
	Rating         float64    `json:"rating"` // 0..5
	AcceptanceRate float64    `json:"acceptance_rate"`
	RejectionRate  float64    `json:"rejection_rate"`
	AvgResponseSec float64    `json:"avg_response_seconds"`
	CompletionRate float64    `json:"completion_rate"`
	Updated        time.Time  `json:"updated"`
}

// LocationPing is the high-frequency driver position update published to
// Kafka and folded into the location index, last write wins.
type LocationPing struct {
	DriverID string    `json:"driver_id"`
	Loc      Coord     `json:"loc"`
	At       time.Time `json:"at"`
}

type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "PENDING"
	AssignmentAccepted  AssignmentStatus = "ACCEPTED"
	AssignmentRejected  AssignmentStatus = "REJECTED"
	AssignmentExpired   AssignmentStatus = "EXPIRED"
	AssignmentCancelled AssignmentStatus = "CANCELLED"
)

// Response is a driver's answer to a pending assignment.
type Response string

const (
	ResponseAccepted Response = "ACCEPTED"
	ResponseRejected Response = "REJECTED"
)

// Assignment is one candidate driver's offer for a job. Distance and ETA
// are snapshotted at creation and never rescored in flight.
type Assignment struct {
	ID          string           `json:"id"`
	JobID       string           `json:"job_id"`
	DriverID    string           `json:"driver_id"`
	Status      AssignmentStatus `json:"status"`
	Priority    int              `json:"priority"` // N-rank; higher offered first
	DistanceKm  float64          `json:"distance_km"`
	ETAMinutes  int              `json:"eta_minutes"`
	Score       float64          `json:"score"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
}

// AssignmentConfig is a named, versioned set of scoring weights and
// timing knobs. Exactly one config is active at a time.
type AssignmentConfig struct {
	ID                      string  `json:"id"`
	Name                    string  `json:"name"`
	Version                 int     `json:"version"`
	DistanceWeight          float64 `json:"distance_weight"`
	RatingWeight            float64 `json:"rating_weight"`
	CompletionRateWeight    float64 `json:"completion_rate_weight"`
	ResponseTimeWeight      float64 `json:"response_time_weight"`
	AvailabilityWeight      float64 `json:"availability_weight"`
	MaxDistanceKm           float64 `json:"max_distance_km"`
	MaxConcurrentCandidates int     `json:"max_concurrent_candidates"`
	AssignmentTimeoutSec    int     `json:"assignment_timeout_seconds"`
	ReassignmentDelaySec    int     `json:"reassignment_delay_seconds"`
	MaxRetries              int     `json:"max_retries"`
	MinRating               float64 `json:"min_rating"`
	MinCompletionRate       float64 `json:"min_completion_rate"`
	Active                  bool    `json:"active"`
}

// DefaultConfig returns the built-in config used until an admin activates
// a custom one.
func DefaultConfig() *AssignmentConfig {
	return &AssignmentConfig{
		ID:                      "default",
		Name:                    "default",
		Version:                 1,
		DistanceWeight:          0.35,
		RatingWeight:            0.20,
		CompletionRateWeight:    0.20,
		ResponseTimeWeight:      0.15,
		AvailabilityWeight:      0.10,
		MaxDistanceKm:           10,
		MaxConcurrentCandidates: 3,
		AssignmentTimeoutSec:    30,
		ReassignmentDelaySec:    10,
		MaxRetries:              5,
		MinRating:               3.0,
		MinCompletionRate:       0.5,
		Active:                  true,
	}
}

type RequeueReason string

const (
	ReasonRejected     RequeueReason = "REJECTED"
	ReasonExpired      RequeueReason = "EXPIRED"
	ReasonNoCandidates RequeueReason = "NO_CANDIDATES"
)

type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueProcessing QueueStatus = "PROCESSING"
	QueueFailed     QueueStatus = "FAILED"
)

// QueueEntry tracks a job waiting for a new candidate round. One live
// entry exists per job; RetryCount survives across rounds.
type QueueEntry struct {
	JobID            string        `json:"job_id"`
	Reason           RequeueReason `json:"reason"`
	RetryCount       int           `json:"retry_count"`
	NextAttemptAt    time.Time     `json:"next_attempt_at"`
	Status           QueueStatus   `json:"status"`
	ExcludeDriverIDs []string      `json:"exclude_driver_ids,omitempty"`
}

// JobOffer is the payload pushed to a candidate driver.
type JobOffer struct {
	AssignmentID string    `json:"assignment_id"`
	JobID        string    `json:"job_id"`
	JobType      JobType   `json:"job_type"`
	Pickup       Coord     `json:"pickup"`
	Value        float64   `json:"value"`
	ETAMinutes   int       `json:"eta_minutes"`
	ExpiresAt    time.Time `json:"expires_at"`
}
