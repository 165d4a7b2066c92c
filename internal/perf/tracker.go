package perf

import (
	"context"
	"log/slog"

	"github.com/example/driver-assignment/internal/models"
	"github.com/example/driver-assignment/internal/storage"
)

// DefaultAlpha is the EWMA smoothing factor.
const DefaultAlpha = 0.3

// Tracker folds driver responses into exponentially-weighted rolling
// metrics. Updates affect the driver's next candidacy only; in-flight
// assignments keep their creation-time score snapshot.
type Tracker struct {
	drivers storage.DriverStore
	alpha   float64
	logger  *slog.Logger
}

func NewTracker(drivers storage.DriverStore, alpha float64, logger *slog.Logger) *Tracker {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{drivers: drivers, alpha: alpha, logger: logger}
}

// Record updates acceptance/rejection rates and the average response time
// for an explicit driver response.
func (t *Tracker) Record(ctx context.Context, driverID string, resp models.Response, responseTimeSec float64) error {
	d, err := t.drivers.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	acceptSample := 0.0
	if resp == models.ResponseAccepted {
		acceptSample = 1.0
	}
	acc := t.ewma(acceptSample, d.AcceptanceRate)
	rej := t.ewma(1-acceptSample, d.RejectionRate)
	avg := t.ewma(responseTimeSec, d.AvgResponseSec)
	if err := t.drivers.UpdateDriverMetrics(ctx, driverID, acc, rej, avg); err != nil {
		return err
	}
	t.logger.Debug("driver metrics updated",
		"driver_id", driverID,
		"response", string(resp),
		"acceptance_rate", acc,
		"avg_response_sec", avg,
	)
	return nil
}

// RecordExpiry counts a never-answered offer as a zero acceptance sample.
// The response-time average is left alone: there was no response to time.
func (t *Tracker) RecordExpiry(ctx context.Context, driverID string) error {
	d, err := t.drivers.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	acc := t.ewma(0, d.AcceptanceRate)
	rej := t.ewma(1, d.RejectionRate)
	return t.drivers.UpdateDriverMetrics(ctx, driverID, acc, rej, d.AvgResponseSec)
}

func (t *Tracker) ewma(sample, old float64) float64 {
	return t.alpha*sample + (1-t.alpha)*old
}
