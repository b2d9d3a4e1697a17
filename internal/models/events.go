package models

import "time"

// Event types carried on per-user topics.
const (
	EventDriverLiveLocation = "DriverLiveLocation"
	EventOrderStatusUpdated = "OrderStatusUpdated"
	EventOrderAccepted      = "Order Accepted"
	EventOrderCancelled     = "Order Cancelled"
)

// Notification is the JSON envelope for every message published to a
// user-updates topic.
type Notification struct {
	EventType string    `json:"eventType"`
	OrderID   string    `json:"orderId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// TrackedPoint extends a coordinate with the motion fields live clients send.
type TrackedPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
}

func (p TrackedPoint) LatLng() LatLng { return LatLng{Lat: p.Lat, Lng: p.Lng} }

// LiveLocationData is the payload of a DriverLiveLocation notification.
type LiveLocationData struct {
	Message  string       `json:"message"`
	Location TrackedPoint `json:"location"`
}

// StatusData is the payload of an OrderStatusUpdated notification.
type StatusData struct {
	Status           string `json:"status"`
	EstimatedArrival string `json:"estimatedArrival"`
	Message          string `json:"message"`
}

// AcceptedData is the payload of an "Order Accepted" notification.
type AcceptedData struct {
	Status           string     `json:"status"`
	EstimatedArrival string     `json:"estimatedArrival"`
	Message          string     `json:"message"`
	Driver           DriverInfo `json:"driver"`
	Location         LatLng     `json:"location"`
}

// CancelledData is the payload of an "Order Cancelled" notification.
type CancelledData struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func NewNotification(eventType, orderID string, data any) Notification {
	return Notification{
		EventType: eventType,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
