package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/example/driver-assignment/internal/models"
)

// PushNotifier tries the driver's live websocket session first and falls
// back to an HTTP push endpoint (provider gateway).
type PushNotifier struct {
	WS       *WSRegistry
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPushNotifier(ws *WSRegistry, endpoint, key string) *PushNotifier {
	return &PushNotifier{
		WS:       ws,
		Endpoint: endpoint,
		Key:      key,
		Client:   &http.Client{Timeout: 3 * time.Second},
	}
}

func (p *PushNotifier) Notify(driverID string, offer models.JobOffer) error {
	if p.WS != nil {
		if err := p.WS.Notify(driverID, offer); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	body, _ := json.Marshal(map[string]any{"driver_id": driverID, "offer": offer})
	req, err := http.NewRequest(http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("push endpoint rejected offer")
	}
	return nil
}
