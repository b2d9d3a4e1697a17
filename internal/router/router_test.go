package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/smangukia/CommuneDrop-sub001/internal/models"
	"github.com/smangukia/CommuneDrop-sub001/internal/registry"
	"github.com/smangukia/CommuneDrop-sub001/internal/tracker"
)

type published struct {
	topic   string
	key     string
	payload models.Notification
}

type fakeBroker struct {
	mu        sync.Mutex
	down      bool
	ensureErr error
	ensured   []string
	published []published
}

func (f *fakeBroker) Publish(_ context.Context, topic, key string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false
	}
	n, _ := payload.(models.Notification)
	f.published = append(f.published, published{topic: topic, key: key, payload: n})
	return true
}

func (f *fakeBroker) EnsureUserTopic(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureErr != nil {
		return "", f.ensureErr
	}
	f.ensured = append(f.ensured, "user-updates-"+userID)
	return "user-updates-" + userID, nil
}

func (f *fakeBroker) Connected() bool { return !f.down }

func (f *fakeBroker) publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.published))
	copy(out, f.published)
	return out
}

type broadcastCall struct {
	room    string
	event   string
	payload any
}

type fakeHub struct {
	mu      sync.Mutex
	members map[string]int // room -> live member count
	calls   []broadcastCall
}

func newFakeHub() *fakeHub { return &fakeHub{members: make(map[string]int)} }

func (f *fakeHub) Broadcast(room, event string, payload any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{room: room, event: event, payload: payload})
	return f.members[room]
}

func (f *fakeHub) BroadcastAll(event string, payload any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{room: "*", event: event, payload: payload})
	return f.members["*"]
}

func (f *fakeHub) BroadcastRole(role, event string, payload any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{room: "role:" + role, event: event, payload: payload})
	return f.members["role:"+role]
}

func (f *fakeHub) broadcasts() []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]broadcastCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fixture struct {
	reg    *registry.MemoryRegistry
	cache  *tracker.Cache
	broker *fakeBroker
	hub    *fakeHub
	router *Router
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	cache := tracker.NewCache()
	bk := &fakeBroker{}
	h := newFakeHub()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		reg:    reg,
		cache:  cache,
		broker: bk,
		hub:    h,
		router: New(reg, cache, tracker.NewMatcher(cache), bk, h, log, opts),
	}
}

func (f *fixture) seedTrip(t *testing.T, tripID, orderID, driverID, customerID string) *models.Trip {
	t.Helper()
	trip, _, err := f.reg.CreateTrip(context.Background(), &models.Trip{
		ID:         tripID,
		OrderID:    orderID,
		DriverID:   driverID,
		CustomerID: customerID,
		Status:     models.StatusAssigned,
	})
	if err != nil {
		t.Fatalf("seed trip: %v", err)
	}
	return trip
}

func TestLocationUpdateDeliversLiveWhenBrokerDown(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedTrip(t, "T1", "O1", "d1", "u1")
	f.broker.down = true

	point := models.TrackedPoint{Lat: 44.6430, Lng: -63.5793}
	if err := f.router.IngestLocationUpdate(context.Background(), "T1", point, "socket"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	calls := f.hub.broadcasts()
	if len(calls) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(calls))
	}
	if calls[0].room != "trip:T1" || calls[0].event != "driverLocationUpdate" {
		t.Fatalf("unexpected broadcast: %+v", calls[0])
	}
	ev := calls[0].payload.(locationEvent)
	if ev.TripID != "T1" || ev.Location.Lat != 44.6430 || ev.Location.Lng != -63.5793 || ev.Source != "socket" {
		t.Fatalf("unexpected payload: %+v", ev)
	}
	if pos, ok := f.cache.Get("T1"); !ok || pos.DriverID != "d1" {
		t.Fatal("cache must be updated even when the broker is down")
	}
}

func TestLocationUpdatePublishesToCustomerTopic(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedTrip(t, "T1", "O1", "d1", "u1")

	point := models.TrackedPoint{Lat: 44.6430, Lng: -63.5793, Heading: 90, Speed: 12}
	if err := f.router.IngestLocationUpdate(context.Background(), "T1", point, "socket"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	pubs := f.broker.publishes()
	if len(pubs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pubs))
	}
	if pubs[0].topic != "user-updates-u1" || pubs[0].key != "u1" {
		t.Fatalf("unexpected destination: %+v", pubs[0])
	}
	if pubs[0].payload.EventType != models.EventDriverLiveLocation || pubs[0].payload.OrderID != "O1" {
		t.Fatalf("unexpected notification: %+v", pubs[0].payload)
	}
	data := pubs[0].payload.Data.(models.LiveLocationData)
	if data.Location.Heading != 90 || data.Location.Speed != 12 {
		t.Fatalf("motion fields lost: %+v", data)
	}
}

func TestLocationUpdateRejectsInvalidCoordinates(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedTrip(t, "T1", "O1", "d1", "u1")

	bad := []models.TrackedPoint{
		{Lat: math.NaN(), Lng: 0},
		{Lat: 0, Lng: math.Inf(1)},
		{Lat: 91, Lng: 0},
		{Lat: 0, Lng: -181},
	}
	for _, p := range bad {
		if err := f.router.IngestLocationUpdate(context.Background(), "T1", p, "socket"); err == nil {
			t.Fatalf("expected rejection for %+v", p)
		}
	}
	if len(f.hub.broadcasts()) != 0 || len(f.broker.publishes()) != 0 {
		t.Fatal("rejected updates must have no side effects")
	}
	if _, ok := f.cache.Get("T1"); ok {
		t.Fatal("rejected updates must not touch the cache")
	}
}

func TestLocationUpdateDropsUnknownTrip(t *testing.T) {
	f := newFixture(t, Options{})
	err := f.router.IngestLocationUpdate(context.Background(), "ghost",
		models.TrackedPoint{Lat: 1, Lng: 2}, "socket")
	if err == nil {
		t.Fatal("expected unknown-trip error")
	}
	if len(f.hub.broadcasts()) != 0 || len(f.broker.publishes()) != 0 {
		t.Fatal("unknown-trip updates must have no side effects")
	}
}

func TestStatusUpdateFansOutBothChannels(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedTrip(t, "T1", "O1", "d1", "u1")

	if err := f.router.IngestStatusUpdate(context.Background(), "T1", models.StatusPickup, "socket"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	calls := f.hub.broadcasts()
	if len(calls) != 1 || calls[0].event != "tripStatusUpdate" || calls[0].room != "trip:T1" {
		t.Fatalf("unexpected broadcasts: %+v", calls)
	}
	pubs := f.broker.publishes()
	if len(pubs) != 1 || pubs[0].payload.EventType != models.EventOrderStatusUpdated {
		t.Fatalf("unexpected publishes: %+v", pubs)
	}
	data := pubs[0].payload.Data.(models.StatusData)
	if data.Status != "AWAITING_PICKUP" {
		t.Fatalf("expected mapped status AWAITING_PICKUP, got %s", data.Status)
	}

	trip, _ := f.reg.GetTrip(context.Background(), "T1")
	if trip.Status != models.StatusPickup {
		t.Fatalf("status must be persisted synchronously, got %s", trip.Status)
	}
}

func TestStatusUpdateRejectsBackwardTransition(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedTrip(t, "T1", "O1", "d1", "u1")
	ctx := context.Background()

	if err := f.router.IngestStatusUpdate(ctx, "T1", models.StatusDelivering, "socket"); err == nil {
		t.Fatal("expected rejection of skipped transition")
	}
	if err := f.router.IngestStatusUpdate(ctx, "T1", models.StatusPickup, "socket"); err != nil {
		t.Fatalf("assigned->pickup: %v", err)
	}
	if err := f.router.IngestStatusUpdate(ctx, "T1", models.StatusAssigned, "socket"); err == nil {
		t.Fatal("expected rejection of backward transition")
	}
	trip, _ := f.reg.GetTrip(ctx, "T1")
	if trip.Status != models.StatusPickup {
		t.Fatalf("status regressed to %s", trip.Status)
	}
}

// outageRegistry fails every operation, simulating a document store outage.
type outageRegistry struct{}

var errStoreDown = errors.New("store unavailable")

func (outageRegistry) CreateTrip(context.Context, *models.Trip) (*models.Trip, bool, error) {
	return nil, false, errStoreDown
}
func (outageRegistry) GetTrip(context.Context, string) (*models.Trip, error) {
	return nil, errStoreDown
}
func (outageRegistry) GetTripByOrder(context.Context, string) (*models.Trip, error) {
	return nil, errStoreDown
}
func (outageRegistry) UpdateStatus(context.Context, string, models.TripStatus) (*models.Trip, error) {
	return nil, errStoreDown
}
func (outageRegistry) UpdateLocation(context.Context, string, models.LatLng) error {
	return errStoreDown
}
func (outageRegistry) AppendLocation(context.Context, models.LocationSample) error {
	return errStoreDown
}

func TestStatusUpdateDeliversLiveWhenStoreDown(t *testing.T) {
	bk := &fakeBroker{}
	h := newFakeHub()
	cache := tracker.NewCache()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(outageRegistry{}, cache, tracker.NewMatcher(cache), bk, h, log, Options{})

	if err := r.IngestStatusUpdate(context.Background(), "T1", models.StatusPickup, "socket"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	calls := h.broadcasts()
	if len(calls) != 1 || calls[0].room != "trip:T1" || calls[0].event != "tripStatusUpdate" {
		t.Fatalf("live delivery must survive a store outage, got %+v", calls)
	}
	if len(bk.publishes()) != 0 {
		t.Fatal("customer publish requires a resolvable trip")
	}
}

func TestUserTopicEnsureRetriedAfterFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedTrip(t, "T1", "O1", "d1", "u1")
	ctx := context.Background()
	point := models.TrackedPoint{Lat: 1, Lng: 2}

	f.broker.ensureErr = errors.New("admin unavailable")
	_ = f.router.IngestLocationUpdate(ctx, "T1", point, "socket")
	if len(f.broker.ensured) != 0 {
		t.Fatalf("failed ensure must not be recorded, got %v", f.broker.ensured)
	}

	f.broker.ensureErr = nil
	_ = f.router.IngestLocationUpdate(ctx, "T1", point, "socket")
	if len(f.broker.ensured) != 1 || f.broker.ensured[0] != "user-updates-u1" {
		t.Fatalf("expected ensure retried on next publish, got %v", f.broker.ensured)
	}

	_ = f.router.IngestLocationUpdate(ctx, "T1", point, "socket")
	if len(f.broker.ensured) != 1 {
		t.Fatalf("expected one ensure per user per process, got %v", f.broker.ensured)
	}
}

func TestTerminalStatusEvictsCache(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedTrip(t, "T1", "O1", "d1", "u1")
	ctx := context.Background()
	_ = f.router.IngestLocationUpdate(ctx, "T1", models.TrackedPoint{Lat: 1, Lng: 2}, "socket")
	_ = f.router.IngestStatusUpdate(ctx, "T1", models.StatusCancelled, "socket")
	if _, ok := f.cache.Get("T1"); ok {
		t.Fatal("terminal trips must leave the cache")
	}
}

func TestAcceptDeliveryRequestIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	req := models.DeliveryRequest{OrderID: "O2", UserID: "u1"}

	first, err := f.router.AcceptDeliveryRequest(ctx, "O2", "d1", req, models.DriverInfo{ID: "d1"})
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	second, err := f.router.AcceptDeliveryRequest(ctx, "O2", "d2", req, models.DriverInfo{ID: "d2"})
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("both callers must see the same trip id: %s vs %s", first.ID, second.ID)
	}
	if second.DriverID != "d1" {
		t.Fatalf("first acceptance wins, got driver %s", second.DriverID)
	}
	pubs := f.broker.publishes()
	if len(pubs) != 1 || pubs[0].payload.EventType != models.EventOrderAccepted {
		t.Fatalf("expected exactly one Order Accepted publish, got %+v", pubs)
	}
	if len(f.broker.ensured) != 1 || f.broker.ensured[0] != "user-updates-u1" {
		t.Fatalf("topic must exist before publish, ensured=%v", f.broker.ensured)
	}
}

func TestAcceptDeliveryRequestConcurrent(t *testing.T) {
	f := newFixture(t, Options{})
	req := models.DeliveryRequest{OrderID: "O2", UserID: "u1"}

	var wg sync.WaitGroup
	ids := make([]string, 6)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trip, err := f.router.AcceptDeliveryRequest(context.Background(), "O2", "d1", req, models.DriverInfo{})
			if err != nil {
				t.Errorf("accept: %v", err)
				return
			}
			ids[i] = trip.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected one persisted trip for O2, ids %v", ids)
		}
	}
}

func TestCancelDeliveryRequest(t *testing.T) {
	f := newFixture(t, Options{})
	f.router.CancelDeliveryRequest(context.Background(), "O3", "u1", "customer changed mind")

	pubs := f.broker.publishes()
	if len(pubs) != 1 || pubs[0].payload.EventType != models.EventOrderCancelled {
		t.Fatalf("expected Order Cancelled publish, got %+v", pubs)
	}
	calls := f.hub.broadcasts()
	if len(calls) != 1 || calls[0].room != "role:driver" || calls[0].event != "orderCancelled" {
		t.Fatalf("expected driver-session orderCancelled broadcast, got %+v", calls)
	}
}

func TestDispatchTargetsNearbyDriversOnly(t *testing.T) {
	f := newFixture(t, Options{MatchRadiusKm: 10})
	origin := models.LatLng{Lat: 44.6476, Lng: -63.5728}
	f.cache.Put("T-near", "d-near", models.LatLng{Lat: origin.Lat + 2.0/111.2, Lng: origin.Lng})
	f.cache.Put("T-far", "d-far", models.LatLng{Lat: origin.Lat + 15.0/111.2, Lng: origin.Lng})
	f.hub.members["driver:d-near"] = 1

	f.router.DispatchDeliveryRequest(models.DeliveryRequest{OrderID: "O4", Pickup: origin})

	calls := f.hub.broadcasts()
	if len(calls) != 1 || calls[0].room != "driver:d-near" || calls[0].event != "driverNotification" {
		t.Fatalf("unexpected dispatch: %+v", calls)
	}
}

func TestDispatchFallsBackToAllSessions(t *testing.T) {
	f := newFixture(t, Options{MatchRadiusKm: 10})
	f.router.DispatchDeliveryRequest(models.DeliveryRequest{OrderID: "O5"})

	calls := f.hub.broadcasts()
	if len(calls) != 1 || calls[0].room != "*" {
		t.Fatalf("expected all-session fallback, got %+v", calls)
	}
}

func TestDispatchDedupeWindow(t *testing.T) {
	f := newFixture(t, Options{DedupeWindow: 50 * time.Millisecond})
	req := models.DeliveryRequest{OrderID: "O6"}

	f.router.DispatchDeliveryRequest(req)
	f.router.DispatchDeliveryRequest(req)
	if got := len(f.hub.broadcasts()); got != 1 {
		t.Fatalf("expected duplicate suppressed inside window, got %d broadcasts", got)
	}

	time.Sleep(60 * time.Millisecond)
	f.router.DispatchDeliveryRequest(req)
	if got := len(f.hub.broadcasts()); got != 2 {
		t.Fatalf("expected re-broadcast after window, got %d", got)
	}
}

func TestPaymentReceivedPublishesStatus(t *testing.T) {
	f := newFixture(t, Options{})
	msg := []byte(`{"orderId":"O1","userId":"u1","status":"paid"}`)
	if err := f.router.HandlePaymentMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	pubs := f.broker.publishes()
	if len(pubs) != 1 || pubs[0].topic != "user-updates-u1" {
		t.Fatalf("unexpected publishes: %+v", pubs)
	}
	data := pubs[0].payload.Data.(models.StatusData)
	if pubs[0].payload.OrderID != "O1" || data.Status != "PAYMENT_RECEIVED" {
		t.Fatalf("unexpected notification: %+v", pubs[0].payload)
	}
}

func TestPoisonMessagesAreCommitted(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.router.HandleDeliveryRequestMessage(context.Background(), []byte("{broken")); err != nil {
		t.Fatalf("poison delivery request must be committed, got %v", err)
	}
	if err := f.router.HandlePaymentMessage(context.Background(), []byte("{broken")); err != nil {
		t.Fatalf("poison payment event must be committed, got %v", err)
	}
}
