package models

import "time"

type LatLng struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// TripStatus is the internal lifecycle state of a trip. The lifecycle only
// moves forward: assigned -> pickup -> delivering -> completed, with cancelled
// reachable from any non-terminal state.
type TripStatus string

const (
	StatusAssigned   TripStatus = "assigned"
	StatusPickup     TripStatus = "pickup"
	StatusDelivering TripStatus = "delivering"
	StatusCompleted  TripStatus = "completed"
	StatusCancelled  TripStatus = "cancelled"
)

var statusRank = map[TripStatus]int{
	StatusAssigned:   0,
	StatusPickup:     1,
	StatusDelivering: 2,
	StatusCompleted:  3,
}

func (s TripStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition. Re-asserting the current status does not count as one.
func (s TripStatus) CanTransitionTo(next TripStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt == cur+1
}

// Trip is one delivery engagement between a driver and a customer. Owned by
// the document store; never physically deleted (cancelled is terminal).
type Trip struct {
	ID         string     `json:"id" bson:"_id"`
	OrderID    string     `json:"orderId" bson:"order_id"`
	DriverID   string     `json:"driverId" bson:"driver_id"`
	CustomerID string     `json:"customerId" bson:"customer_id"`
	Status     TripStatus `json:"status" bson:"status"`
	Pickup     LatLng     `json:"pickupLocation" bson:"pickup_location"`
	Dropoff    LatLng     `json:"dropoffLocation" bson:"dropoff_location"`
	Current    *LatLng    `json:"currentLocation,omitempty" bson:"current_location,omitempty"`
	PackageRef string     `json:"packageReference,omitempty" bson:"package_reference,omitempty"`
	CreatedAt  time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" bson:"updated_at"`
}

// LocationSample is one point of a trip's position history.
type LocationSample struct {
	TripID    string    `json:"tripId" bson:"trip_id"`
	Location  LatLng    `json:"location" bson:"location"`
	Timestamp time.Time `json:"timestamp" bson:"ts"`
}

// DeliveryRequest is a pending order looking for a driver. It is transient:
// it exists from broker-message receipt until accepted or cancelled.
type DeliveryRequest struct {
	OrderID     string  `json:"orderId"`
	UserID      string  `json:"userId"`
	FromAddress string  `json:"fromAddress"`
	ToAddress   string  `json:"toAddress"`
	Amount      float64 `json:"amount"`
	Pickup      LatLng  `json:"pickupLocation"`
	Dropoff     LatLng  `json:"dropoffLocation"`
}

// DriverInfo is the driver profile echoed to customers on acceptance.
type DriverInfo struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Rating        float64 `json:"rating"`
	Trips         int     `json:"trips"`
	VehicleType   string  `json:"vehicleType"`
	VehicleNumber string  `json:"vehicleNumber"`
	Image         string  `json:"image"`
}
