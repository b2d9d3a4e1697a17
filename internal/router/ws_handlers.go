package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smangukia/CommuneDrop-sub001/internal/hub"
	"github.com/smangukia/CommuneDrop-sub001/internal/models"
)

// HandleSessionEvent dispatches one inbound live-session message. It is
// installed as the hub's inbound handler. Invalid events are logged and
// dropped; downstream I/O failures never reach the client as errors.
func (r *Router) HandleSessionEvent(s *hub.Session, event string, data json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch event {
	case "driverConnected":
		var p struct {
			DriverID string `json:"driverId"`
		}
		if !r.decode(s, event, data, &p) || p.DriverID == "" {
			return
		}
		s.SetParticipant(p.DriverID, "driver")
		s.Join(hub.DriverRoom(p.DriverID))
		r.log.Info("driver session identified", "driver_id", p.DriverID)

	case "customerConnected":
		var p struct {
			CustomerID string `json:"customerId"`
		}
		if !r.decode(s, event, data, &p) || p.CustomerID == "" {
			return
		}
		s.SetParticipant(p.CustomerID, "customer")
		r.log.Info("customer session identified", "customer_id", p.CustomerID)

	case "driverLocationUpdate":
		var p struct {
			TripID   string              `json:"tripId"`
			Location models.TrackedPoint `json:"location"`
		}
		if !r.decode(s, event, data, &p) {
			return
		}
		_ = r.IngestLocationUpdate(ctx, p.TripID, p.Location, "socket")

	case "tripStatusUpdate":
		var p struct {
			TripID string `json:"tripId"`
			Status string `json:"status"`
		}
		if !r.decode(s, event, data, &p) {
			return
		}
		_ = r.IngestStatusUpdate(ctx, p.TripID, models.TripStatus(p.Status), "socket")

	case "tripAccepted", "acceptOrderFromNotification":
		var p struct {
			OrderID  string            `json:"orderId"`
			DriverID string            `json:"driverId"`
			UserID   string            `json:"userId"`
			Pickup   models.LatLng     `json:"pickupLocation"`
			Dropoff  models.LatLng     `json:"dropoffLocation"`
			Amount   float64           `json:"amount"`
			Driver   models.DriverInfo `json:"driver"`
		}
		if !r.decode(s, event, data, &p) || p.OrderID == "" {
			return
		}
		trip, err := r.AcceptDeliveryRequest(ctx, p.OrderID, p.DriverID, models.DeliveryRequest{
			OrderID: p.OrderID,
			UserID:  p.UserID,
			Amount:  p.Amount,
			Pickup:  p.Pickup,
			Dropoff: p.Dropoff,
		}, p.Driver)
		if err != nil {
			r.log.Error("acceptance failed", "order_id", p.OrderID, "error", err)
			return
		}
		if event == "acceptOrderFromNotification" {
			_ = s.Send("orderAcceptanceConfirmed", map[string]string{
				"orderId": p.OrderID,
				"tripId":  trip.ID,
			})
		}
		s.Join(hub.TripRoom(trip.ID))
		_ = s.Send("tripAssigned", map[string]any{"trip": trip})

	case "tripRejected":
		var p struct {
			OrderID  string `json:"orderId"`
			DriverID string `json:"driverId"`
		}
		if !r.decode(s, event, data, &p) {
			return
		}
		r.log.Info("driver rejected request", "order_id", p.OrderID, "driver_id", p.DriverID)
		_ = s.Send("tripRejected", map[string]string{"orderId": p.OrderID})

	case "cancelOrder":
		var p struct {
			OrderID string `json:"orderId"`
			UserID  string `json:"userId"`
			Reason  string `json:"reason"`
		}
		if !r.decode(s, event, data, &p) || p.OrderID == "" {
			return
		}
		r.CancelDeliveryRequest(ctx, p.OrderID, p.UserID, p.Reason)
		_ = s.Send("orderCancellationConfirmed", map[string]string{"orderId": p.OrderID})

	case "getTripDetails":
		var p struct {
			TripID string `json:"tripId"`
		}
		if !r.decode(s, event, data, &p) {
			return
		}
		trip, err := r.reg.GetTrip(ctx, p.TripID)
		if err != nil {
			_ = s.Send("tripDetails", map[string]any{"trip": nil})
			return
		}
		// Whoever asks for a trip starts following it.
		s.Join(hub.TripRoom(trip.ID))
		_ = s.Send("tripDetails", map[string]any{"trip": trip})

	case "getServerConfig":
		_ = s.Send("serverConfig", map[string]bool{"brokerEnabled": r.broker.Connected()})

	case "requestDriverLocation":
		var p struct {
			TripID string `json:"tripId"`
		}
		if !r.decode(s, event, data, &p) {
			return
		}
		s.Join(hub.TripRoom(p.TripID))
		if pos, ok := r.cache.Get(p.TripID); ok {
			_ = s.Send("driverLocationUpdate", locationEvent{
				TripID:   p.TripID,
				Location: pos.Location,
				Source:   "cache",
			})
		} else {
			r.log.Debug("no cached position yet", "trip_id", p.TripID)
		}

	default:
		r.log.Warn("unknown session event", "event", event)
	}
}

func (r *Router) decode(s *hub.Session, event string, data json.RawMessage, into any) bool {
	if err := json.Unmarshal(data, into); err != nil {
		id, role := s.Participant()
		r.log.Warn("malformed event payload",
			"event", event, "participant", id, "role", role, "error", err)
		return false
	}
	return true
}
