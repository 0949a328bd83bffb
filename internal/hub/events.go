package hub

import (
	"time"

	"github.com/courierlane/trackhub/internal/models"
)

// Имена событий — общий словарь клиента и сервера.
const (
	// client -> server
	MsgAuth                 = "auth"
	MsgSubscribeDelivery    = "subscribe_delivery"
	MsgUnsubscribeDelivery  = "unsubscribe_delivery"
	MsgLocationUpdate       = "location_update"
	MsgDriverStatus         = "driver_status"
	MsgPing                 = "ping"

	// server -> client
	EventConnected            = "connected"
	EventSubscribed           = "subscribed"
	EventUnsubscribed         = "unsubscribed"
	EventLocationUpdate       = "location_update"
	EventLocationAck          = "location_ack"
	EventDeliveryStatusChange = "delivery_status_change"
	EventDriverAssigned       = "driver_assigned"
	EventDriverStatusChange   = "driver_status_change"
	EventPong                 = "pong"
	EventError                = "error"
)

// ClientMessage is the single envelope for everything a client sends after
// the upgrade. Decoded once at the transport boundary; which fields matter
// depends on Type.
type ClientMessage struct {
	Type        string              `json:"type"`
	Token       string              `json:"token,omitempty"`
	DeliveryID  string              `json:"deliveryId,omitempty"`
	Coordinates *models.Coordinates `json:"coordinates,omitempty"`
	Speed       *float64            `json:"speed,omitempty"`
	Heading     *float64            `json:"heading,omitempty"`
	Status      string              `json:"status,omitempty"`
}

// ServerEvent — один канал, много форм; форма данных определяется Event.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type ConnectedPayload struct {
	Message   string    `json:"message"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type SubscriptionPayload struct {
	DeliveryID string    `json:"deliveryId"`
	Timestamp  time.Time `json:"timestamp"`
}

type LocationPayload struct {
	DeliveryID  string             `json:"deliveryId"`
	DriverID    string             `json:"driverId"`
	Coordinates models.Coordinates `json:"coordinates"`
	Speed       *float64           `json:"speed,omitempty"`
	Heading     *float64           `json:"heading,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

type DeliveryEventPayload struct {
	Type       string    `json:"type"`
	DeliveryID string    `json:"deliveryId"`
	DriverID   string    `json:"driverId,omitempty"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type DriverStatusPayload struct {
	Type      string           `json:"type"`
	DriverID  string           `json:"driverId"`
	Data      DriverStatusData `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

type DriverStatusData struct {
	Status      string              `json:"status"`
	Coordinates *models.Coordinates `json:"coordinates,omitempty"`
}

type AckPayload struct {
	DeliveryID string    `json:"deliveryId"`
	RecordID   uint64    `json:"recordId"`
	Timestamp  time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

func ErrorEvent(message string) ServerEvent {
	return ServerEvent{Event: EventError, Data: ErrorPayload{Message: message, Timestamp: time.Now().UTC()}}
}

func PongEvent() ServerEvent {
	return ServerEvent{Event: EventPong, Data: PongPayload{Timestamp: time.Now().UTC()}}
}

func LocationEvent(p models.DriverPresence) ServerEvent {
	return ServerEvent{Event: EventLocationUpdate, Data: LocationPayload{
		DeliveryID:  p.DeliveryID,
		DriverID:    p.DriverID,
		Coordinates: p.Coordinates,
		Speed:       p.Speed,
		Heading:     p.Heading,
		Timestamp:   p.CapturedAt,
	}}
}

func DriverStatusEvent(driverID, status string, coords *models.Coordinates) ServerEvent {
	return ServerEvent{Event: EventDriverStatusChange, Data: DriverStatusPayload{
		Type:      EventDriverStatusChange,
		DriverID:  driverID,
		Data:      DriverStatusData{Status: status, Coordinates: coords},
		Timestamp: time.Now().UTC(),
	}}
}
