// Package router is the funnel between inbound events and the two delivery
// channels. It validates events, updates the cache and the registry, and
// fans out over the durable broker and the live session layer independently:
// one channel failing must never suppress the other.
package router

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smangukia/CommuneDrop-sub001/internal/broker"
	"github.com/smangukia/CommuneDrop-sub001/internal/hub"
	"github.com/smangukia/CommuneDrop-sub001/internal/models"
	"github.com/smangukia/CommuneDrop-sub001/internal/observability"
	"github.com/smangukia/CommuneDrop-sub001/internal/registry"
	"github.com/smangukia/CommuneDrop-sub001/internal/status"
	"github.com/smangukia/CommuneDrop-sub001/internal/tracker"
)

var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Broker is the durable channel. Publish reports success without raising so
// a broker outage degrades only that channel.
type Broker interface {
	Publish(ctx context.Context, topic, key string, payload any) bool
	EnsureUserTopic(ctx context.Context, userID string) (string, error)
	Connected() bool
}

// SessionHub is the live channel.
type SessionHub interface {
	Broadcast(room, event string, payload any) int
	BroadcastAll(event string, payload any) int
	BroadcastRole(role, event string, payload any) int
}

// Archive receives best-effort copies of location samples.
type Archive interface {
	Append(sample models.LocationSample) error
}

// Mirror receives best-effort copies of cache writes.
type Mirror interface {
	Mirror(ctx context.Context, p tracker.Position) error
}

// Options are the routing tunables.
type Options struct {
	// MatchRadiusKm bounds the nearest-driver search for new requests.
	MatchRadiusKm float64
	// DedupeWindow suppresses repeat driver notifications for the same
	// order. A tunable, not a contract.
	DedupeWindow time.Duration
	// Archive and Mirror are optional side channels for location samples.
	Archive Archive
	Mirror  Mirror
}

type Router struct {
	reg     registry.TripRegistry
	cache   *tracker.Cache
	matcher *tracker.Matcher
	broker  Broker
	hub     SessionHub
	log     *slog.Logger
	opts    Options

	dedupeMu   sync.Mutex
	lastNotify map[string]time.Time

	ensureMu sync.Mutex
	ensured  map[string]bool
}

func New(reg registry.TripRegistry, cache *tracker.Cache, matcher *tracker.Matcher,
	bk Broker, sessions SessionHub, log *slog.Logger, opts Options) *Router {
	if opts.MatchRadiusKm <= 0 {
		opts.MatchRadiusKm = 10
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = 5 * time.Second
	}
	return &Router{
		reg:        reg,
		cache:      cache,
		matcher:    matcher,
		broker:     bk,
		hub:        sessions,
		log:        log,
		opts:       opts,
		lastNotify: make(map[string]time.Time),
		ensured:    make(map[string]bool),
	}
}

// ensureUserTopic creates the user's durable topic once per process. A failed
// ensure is logged and retried on the next publish to that user, so the topic
// exists before messages target it even when the first attempt hit an outage.
func (r *Router) ensureUserTopic(ctx context.Context, userID string) {
	r.ensureMu.Lock()
	done := r.ensured[userID]
	r.ensureMu.Unlock()
	if done {
		return
	}
	if _, err := r.broker.EnsureUserTopic(ctx, userID); err != nil {
		r.log.Error("user topic ensure failed", "user_id", userID, "error", err)
		return
	}
	r.ensureMu.Lock()
	r.ensured[userID] = true
	r.ensureMu.Unlock()
}

type locationEvent struct {
	TripID   string        `json:"tripId"`
	Location models.LatLng `json:"location"`
	Source   string        `json:"source"`
}

type statusEvent struct {
	TripID string `json:"tripId"`
	Status string `json:"status"`
	Source string `json:"source"`
}

// IngestLocationUpdate applies one driver position report. The cache update
// is synchronous; registry writes are asynchronous and best-effort; both
// fan-outs are attempted regardless of each other's outcome.
func (r *Router) IngestLocationUpdate(ctx context.Context, tripID string, point models.TrackedPoint, source string) error {
	if err := validateCoords(point.Lat, point.Lng); err != nil {
		observability.EventsRejected.WithLabelValues("invalid_coordinates").Inc()
		r.log.Warn("rejecting location update", "trip_id", tripID, "error", err)
		return err
	}
	trip, err := r.reg.GetTrip(ctx, tripID)
	if err != nil {
		observability.EventsRejected.WithLabelValues("unknown_trip").Inc()
		r.log.Warn("dropping location update for unknown trip", "trip_id", tripID, "error", err)
		return err
	}
	observability.EventsIngested.WithLabelValues("location").Inc()

	pos := r.cache.Put(tripID, trip.DriverID, point.LatLng())

	if r.opts.Mirror != nil {
		if err := r.opts.Mirror.Mirror(ctx, pos); err != nil {
			r.log.Warn("position mirror failed", "trip_id", tripID, "error", err)
		}
	}

	// Durable history must not block delivery; registry writes happen
	// off the hot path.
	sample := models.LocationSample{TripID: tripID, Location: pos.Location, Timestamp: pos.Timestamp}
	go r.persistSample(sample)

	r.hub.Broadcast(hub.TripRoom(tripID), "driverLocationUpdate",
		locationEvent{TripID: tripID, Location: pos.Location, Source: source})

	if trip.CustomerID != "" {
		r.ensureUserTopic(ctx, trip.CustomerID)
		r.broker.Publish(ctx, broker.UserTopic(trip.CustomerID), trip.CustomerID,
			models.NewNotification(models.EventDriverLiveLocation, trip.OrderID, models.LiveLocationData{
				Message:  "Driver location updated",
				Location: point,
			}))
	}
	return nil
}

func (r *Router) persistSample(sample models.LocationSample) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.reg.UpdateLocation(ctx, sample.TripID, sample.Location); err != nil {
		observability.PersistFailures.Inc()
		r.log.Error("trip location persist failed", "trip_id", sample.TripID, "error", err)
	}
	if err := r.reg.AppendLocation(ctx, sample); err != nil {
		observability.PersistFailures.Inc()
		r.log.Error("location history append failed", "trip_id", sample.TripID, "error", err)
	}
	if r.opts.Archive != nil {
		if err := r.opts.Archive.Append(sample); err != nil {
			observability.PersistFailures.Inc()
			r.log.Warn("location archive append failed", "trip_id", sample.TripID, "error", err)
		}
	}
}

// IngestStatusUpdate applies one lifecycle transition. Unlike locations the
// status is persisted synchronously: it must survive a restart. Illegal
// transitions are dropped, never applied.
func (r *Router) IngestStatusUpdate(ctx context.Context, tripID string, next models.TripStatus, source string) error {
	trip, err := r.reg.UpdateStatus(ctx, tripID, next)
	switch {
	case errors.Is(err, registry.ErrTripNotFound):
		observability.EventsRejected.WithLabelValues("unknown_trip").Inc()
		r.log.Warn("dropping status update for unknown trip", "trip_id", tripID)
		return err
	case errors.Is(err, registry.ErrInvalidTransition):
		observability.EventsRejected.WithLabelValues("invalid_transition").Inc()
		r.log.Warn("dropping illegal status transition", "trip_id", tripID, "next", next)
		return err
	case err != nil:
		// Store trouble: deliver live anyway, state converges later. When
		// even the read fails the customer is unresolvable, so only the
		// durable publish is skipped.
		observability.PersistFailures.Inc()
		r.log.Error("status persist failed", "trip_id", tripID, "error", err)
		if trip, err = r.reg.GetTrip(ctx, tripID); err != nil {
			r.log.Error("trip read failed, live delivery only", "trip_id", tripID, "error", err)
			trip = nil
		} else {
			trip.Status = next
		}
	}
	observability.EventsIngested.WithLabelValues("status").Inc()

	if next.Terminal() {
		r.cache.Forget(tripID)
	}

	view := status.Map(next)
	r.hub.Broadcast(hub.TripRoom(tripID), "tripStatusUpdate",
		statusEvent{TripID: tripID, Status: string(next), Source: source})

	if trip != nil && trip.CustomerID != "" {
		r.ensureUserTopic(ctx, trip.CustomerID)
		r.broker.Publish(ctx, broker.UserTopic(trip.CustomerID), trip.CustomerID,
			models.NewNotification(models.EventOrderStatusUpdated, trip.OrderID, models.StatusData{
				Status:           view.Status,
				EstimatedArrival: view.EstimatedArrival,
				Message:          view.Message,
			}))
	}
	return nil
}

// AcceptDeliveryRequest turns a pending request into a trip. Idempotent by
// order id: a second call is a no-op returning the already-created trip, so
// broker redelivery of acceptance events is harmless.
func (r *Router) AcceptDeliveryRequest(ctx context.Context, orderID, driverID string,
	req models.DeliveryRequest, driver models.DriverInfo) (*models.Trip, error) {

	trip, created, err := r.reg.CreateTrip(ctx, &models.Trip{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		DriverID:   driverID,
		CustomerID: req.UserID,
		Status:     models.StatusAssigned,
		Pickup:     req.Pickup,
		Dropoff:    req.Dropoff,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		observability.EventsIngested.WithLabelValues("accept_duplicate").Inc()
		r.log.Info("duplicate acceptance, returning existing trip",
			"order_id", orderID, "trip_id", trip.ID)
		return trip, nil
	}
	observability.EventsIngested.WithLabelValues("accept").Inc()

	r.ensureUserTopic(ctx, req.UserID)
	view := status.Map(models.StatusAssigned)
	r.broker.Publish(ctx, broker.UserTopic(req.UserID), req.UserID,
		models.NewNotification(models.EventOrderAccepted, orderID, models.AcceptedData{
			Status:           view.Status,
			EstimatedArrival: view.EstimatedArrival,
			Message:          "Your order has been accepted",
			Driver:           driver,
			Location:         req.Pickup,
		}))

	r.log.Info("delivery request accepted", "order_id", orderID, "trip_id", trip.ID, "driver_id", driverID)
	return trip, nil
}

// CancelDeliveryRequest notifies the customer and tells every driver session
// the order is gone. No trip exists yet at this stage, so there is no
// registry mutation.
func (r *Router) CancelDeliveryRequest(ctx context.Context, orderID, userID, reason string) {
	observability.EventsIngested.WithLabelValues("cancel").Inc()

	r.ensureUserTopic(ctx, userID)
	r.broker.Publish(ctx, broker.UserTopic(userID), userID,
		models.NewNotification(models.EventOrderCancelled, orderID, models.CancelledData{
			Message: "Your delivery request was cancelled",
			Reason:  reason,
		}))

	r.hub.BroadcastRole("driver", "orderCancelled", map[string]string{
		"orderId": orderID,
		"message": "order unavailable",
	})
}

type driverNotification struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type requestOffer struct {
	models.DeliveryRequest
	DistanceKm float64 `json:"distanceKm,omitempty"`
}

// DispatchDeliveryRequest routes a new pending request to nearby drivers,
// falling back to every connected session when nobody is in range or nobody
// joined their driver room yet. Repeats inside the dedupe window are dropped.
func (r *Router) DispatchDeliveryRequest(req models.DeliveryRequest) {
	if !r.markNotified(req.OrderID) {
		r.log.Debug("suppressing duplicate request broadcast", "order_id", req.OrderID)
		return
	}
	observability.EventsIngested.WithLabelValues("delivery_request").Inc()

	note := func(distanceKm float64) driverNotification {
		return driverNotification{
			Type:      "deliveryRequest",
			Data:      requestOffer{DeliveryRequest: req, DistanceKm: distanceKm},
			Timestamp: time.Now().UTC(),
		}
	}

	cands := r.matcher.FindNearby(req.Pickup, r.opts.MatchRadiusKm)
	if len(cands) == 0 {
		n := r.hub.BroadcastAll("driverNotification", note(0))
		r.log.Info("no drivers in range, broadcast to all sessions",
			"order_id", req.OrderID, "delivered", n)
		return
	}
	delivered := 0
	for _, c := range cands {
		delivered += r.hub.Broadcast(hub.DriverRoom(c.DriverID), "driverNotification", note(c.DistanceKm))
	}
	if delivered == 0 {
		// Matched drivers exist but none has a live room yet.
		delivered = r.hub.BroadcastAll("driverNotification", note(0))
	}
	r.log.Info("delivery request dispatched",
		"order_id", req.OrderID, "candidates", len(cands), "delivered", delivered)
}

// markNotified records a broadcast for the order and reports whether it is
// outside the dedupe window.
func (r *Router) markNotified(orderID string) bool {
	now := time.Now()
	r.dedupeMu.Lock()
	defer r.dedupeMu.Unlock()
	if last, ok := r.lastNotify[orderID]; ok && now.Sub(last) < r.opts.DedupeWindow {
		return false
	}
	if len(r.lastNotify) > 1024 {
		for id, ts := range r.lastNotify {
			if now.Sub(ts) >= r.opts.DedupeWindow {
				delete(r.lastNotify, id)
			}
		}
	}
	r.lastNotify[orderID] = now
	return true
}

// HandlePaymentReceived reacts to a paid order: the customer gets a durable
// status notification and anyone following the trip sees it live.
func (r *Router) HandlePaymentReceived(ctx context.Context, orderID, userID string) {
	observability.EventsIngested.WithLabelValues("payment").Inc()

	r.ensureUserTopic(ctx, userID)
	r.broker.Publish(ctx, broker.UserTopic(userID), userID,
		models.NewNotification(models.EventOrderStatusUpdated, orderID, models.StatusData{
			Status:  "PAYMENT_RECEIVED",
			Message: "Payment received, preparing your delivery",
		}))

	if trip, err := r.reg.GetTripByOrder(ctx, orderID); err == nil {
		r.hub.Broadcast(hub.TripRoom(trip.ID), "tripStatusUpdate",
			statusEvent{TripID: trip.ID, Status: "PAYMENT_RECEIVED", Source: "payment"})
	}
}

func validateCoords(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return ErrInvalidCoordinates
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}
