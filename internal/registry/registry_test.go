package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/smangukia/CommuneDrop-sub001/internal/models"
)

func newTrip(id, orderID string) *models.Trip {
	return &models.Trip{
		ID:         id,
		OrderID:    orderID,
		DriverID:   "d1",
		CustomerID: "u1",
		Status:     models.StatusAssigned,
	}
}

func TestCreateTripFirstWins(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	first, created, err := reg.CreateTrip(ctx, newTrip("t1", "O2"))
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	second, created, err := reg.CreateTrip(ctx, newTrip("t2", "O2"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("second create for same order must not create")
	}
	if second.ID != first.ID {
		t.Fatalf("both callers must see the same trip id: %s vs %s", first.ID, second.ID)
	}
}

func TestCreateTripConcurrent(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trip, _, err := reg.CreateTrip(ctx, newTrip("t"+string(rune('a'+i)), "O2"))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids[i] = trip.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected one persisted trip for O2, saw ids %v", ids)
		}
	}
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	trip, _, _ := reg.CreateTrip(ctx, newTrip("t1", "O1"))

	if _, err := reg.UpdateStatus(ctx, trip.ID, models.StatusPickup); err != nil {
		t.Fatalf("assigned->pickup: %v", err)
	}
	if _, err := reg.UpdateStatus(ctx, trip.ID, models.StatusAssigned); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition going backwards, got %v", err)
	}
	if _, err := reg.UpdateStatus(ctx, trip.ID, models.StatusCompleted); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition skipping delivering, got %v", err)
	}
	if _, err := reg.UpdateStatus(ctx, trip.ID, models.StatusDelivering); err != nil {
		t.Fatalf("pickup->delivering: %v", err)
	}
	if _, err := reg.UpdateStatus(ctx, trip.ID, models.StatusCompleted); err != nil {
		t.Fatalf("delivering->completed: %v", err)
	}
	if _, err := reg.UpdateStatus(ctx, trip.ID, models.StatusCancelled); err != ErrInvalidTransition {
		t.Fatalf("completed is terminal, got %v", err)
	}
}

func TestCancelFromAnyNonTerminal(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	trip, _, _ := reg.CreateTrip(ctx, newTrip("t1", "O1"))
	if _, err := reg.UpdateStatus(ctx, trip.ID, models.StatusCancelled); err != nil {
		t.Fatalf("assigned->cancelled: %v", err)
	}
	if _, err := reg.UpdateStatus(ctx, trip.ID, models.StatusPickup); err != ErrInvalidTransition {
		t.Fatalf("cancelled is terminal, got %v", err)
	}
}

func TestUnknownTrip(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	if _, err := reg.GetTrip(ctx, "nope"); err != ErrTripNotFound {
		t.Fatalf("expected ErrTripNotFound, got %v", err)
	}
	if err := reg.UpdateLocation(ctx, "nope", models.LatLng{}); err != ErrTripNotFound {
		t.Fatalf("expected ErrTripNotFound, got %v", err)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	_ = reg.AppendLocation(ctx, models.LocationSample{TripID: "t1", Location: models.LatLng{Lat: 1}})
	_ = reg.AppendLocation(ctx, models.LocationSample{TripID: "t1", Location: models.LatLng{Lat: 2}})
	h := reg.History("t1")
	if len(h) != 2 || h[0].Location.Lat != 2 {
		t.Fatalf("expected newest first, got %+v", h)
	}
}
