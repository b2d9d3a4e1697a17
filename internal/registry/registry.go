// Package registry persists trip documents and location history.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smangukia/CommuneDrop-sub001/internal/models"
)

var (
	ErrTripNotFound      = errors.New("trip not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TripRegistry defines persistence operations for trips. Implementations must
// make CreateTrip first-wins per order id so concurrent acceptance is safe.
type TripRegistry interface {
	// CreateTrip persists t unless a trip for t.OrderID already exists, in
	// which case the existing trip is returned with created=false.
	CreateTrip(ctx context.Context, t *models.Trip) (trip *models.Trip, created bool, err error)
	GetTrip(ctx context.Context, tripID string) (*models.Trip, error)
	GetTripByOrder(ctx context.Context, orderID string) (*models.Trip, error)
	// UpdateStatus persists a status change, rejecting illegal transitions.
	UpdateStatus(ctx context.Context, tripID string, next models.TripStatus) (*models.Trip, error)
	UpdateLocation(ctx context.Context, tripID string, loc models.LatLng) error
	AppendLocation(ctx context.Context, sample models.LocationSample) error
}

// MemoryRegistry is the in-process implementation used in tests and when no
// document store is configured.
type MemoryRegistry struct {
	mu      sync.RWMutex
	byID    map[string]*models.Trip
	byOrder map[string]string
	history map[string][]models.LocationSample
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byID:    make(map[string]*models.Trip),
		byOrder: make(map[string]string),
		history: make(map[string][]models.LocationSample),
	}
}

func (m *MemoryRegistry) CreateTrip(_ context.Context, t *models.Trip) (*models.Trip, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byOrder[t.OrderID]; ok {
		existing := *m.byID[id]
		return &existing, false, nil
	}
	now := time.Now().UTC()
	cp := *t
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.byID[cp.ID] = &cp
	m.byOrder[cp.OrderID] = cp.ID
	out := cp
	return &out, true, nil
}

func (m *MemoryRegistry) GetTrip(_ context.Context, tripID string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byID[tripID]
	if !ok {
		return nil, ErrTripNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryRegistry) GetTripByOrder(_ context.Context, orderID string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, ErrTripNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryRegistry) UpdateStatus(_ context.Context, tripID string, next models.TripStatus) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[tripID]
	if !ok {
		return nil, ErrTripNotFound
	}
	if !t.Status.CanTransitionTo(next) {
		return nil, ErrInvalidTransition
	}
	t.Status = next
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

func (m *MemoryRegistry) UpdateLocation(_ context.Context, tripID string, loc models.LatLng) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[tripID]
	if !ok {
		return ErrTripNotFound
	}
	l := loc
	t.Current = &l
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRegistry) AppendLocation(_ context.Context, sample models.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[sample.TripID] = append(m.history[sample.TripID], sample)
	return nil
}

// History returns recorded samples for a trip, newest first.
func (m *MemoryRegistry) History(tripID string) []models.LocationSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.history[tripID]
	out := make([]models.LocationSample, len(src))
	for i, s := range src {
		out[len(src)-1-i] = s
	}
	return out
}
