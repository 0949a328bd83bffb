package messages

import (
	"encoding/json"
	"time"

	"github.com/courierlane/trackhub/internal/models"
)

// Типы доменных событий, которые слой команд публикует в delivery.events.
const (
	DeliveryEventStatusChanged  = "status_changed"
	DeliveryEventDriverAssigned = "driver_assigned"
)

// DeliveryEvent comes from the external command layer: the hub only relays
// it to subscribers (and starts a tracking session on driver_assigned).
type DeliveryEvent struct {
	Type       string          `json:"type"`
	DeliveryID string          `json:"delivery_id"`
	DriverID   string          `json:"driver_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// LocationUpdated is what the hub publishes to location.updated for every
// accepted driver report.
type LocationUpdated struct {
	DeliveryID  string             `json:"delivery_id"`
	DriverID    string             `json:"driver_id"`
	Coordinates models.Coordinates `json:"coordinates"`
	Speed       *float64           `json:"speed,omitempty"`
	Heading     *float64           `json:"heading,omitempty"`
	CapturedAt  time.Time          `json:"captured_at"`
}
