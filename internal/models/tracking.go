package models

import "time"

// Роли, приходящие из токена auth-сервиса.
const (
	RoleCustomer = "customer"
	RoleDriver   = "driver"
	RoleAdmin    = "admin"
)

// Статусы присутствия водителя (можно расширять).
const (
	DriverStatusOnline  = "online"
	DriverStatusOffline = "offline"
	DriverStatusBusy    = "busy"
)

const (
	LocationStatusActive = "active"
	LocationStatusEnded  = "ended"
)

const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

type Coordinates struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// LocationRecord — неизменяемый факт "водитель был тут". Только append.
type LocationRecord struct {
	ID          uint64
	DeliveryID  string
	DriverID    string
	Coordinates Coordinates
	Speed       *float64
	Heading     *float64
	Status      string
	CapturedAt  time.Time
	CreatedAt   time.Time
}

type LocationCreateInput struct {
	DeliveryID  string
	DriverID    string
	Coordinates Coordinates
	Speed       *float64
	Heading     *float64
}

// TrackingSession is the span of active tracking for one delivery/driver
// pairing. At most one active session per delivery at a time.
type TrackingSession struct {
	ID           uint64
	DeliveryID   string
	DriverID     string
	Status       string
	StartedAt    time.Time
	EndedAt      *time.Time
	DistanceKM   *float64
	AvgSpeedKMH  *float64
}

// DriverPresence — последнее известное состояние водителя, живёт в памяти хаба.
type DriverPresence struct {
	DriverID    string      `json:"driverId"`
	DeliveryID  string      `json:"deliveryId"`
	Coordinates Coordinates `json:"coordinates"`
	Speed       *float64    `json:"speed,omitempty"`
	Heading     *float64    `json:"heading,omitempty"`
	Status      string      `json:"status"`
	CapturedAt  time.Time   `json:"capturedAt"`
}
