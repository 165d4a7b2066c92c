package notify

import "github.com/example/driver-assignment/internal/models"

// Notifier delivers a job offer to a driver. Delivery is fire-and-forget:
// a failed notification never blocks the expiry timeout.
type Notifier interface {
	Notify(driverID string, offer models.JobOffer) error
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no driver session" }
