// Package tracker owns the transient position state of active trips: the
// latest-sample-per-trip cache and the nearest-driver search over it.
package tracker

import (
	"sync"
	"time"

	"github.com/smangukia/CommuneDrop-sub001/internal/models"
)

// Position is the freshest sample this process has accepted for a trip,
// together with the driver currently on it.
type Position struct {
	TripID    string
	DriverID  string
	Location  models.LatLng
	Timestamp time.Time
}

// Cache holds exactly the most recently received position per trip.
// Last-writer-wins by receipt order; a restart rebuilds it empty. Readers
// must treat a hit as "freshest update this process has accepted", not as
// externally fresh.
type Cache struct {
	mu     sync.RWMutex
	latest map[string]Position
}

func NewCache() *Cache {
	return &Cache{latest: make(map[string]Position)}
}

func (c *Cache) Put(tripID, driverID string, loc models.LatLng) Position {
	p := Position{TripID: tripID, DriverID: driverID, Location: loc, Timestamp: time.Now().UTC()}
	c.mu.Lock()
	c.latest[tripID] = p
	c.mu.Unlock()
	return p
}

func (c *Cache) Get(tripID string) (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.latest[tripID]
	return p, ok
}

// Forget drops a trip's entry, used when a trip reaches a terminal state.
func (c *Cache) Forget(tripID string) {
	c.mu.Lock()
	delete(c.latest, tripID)
	c.mu.Unlock()
}

// Snapshot copies the current latest-sample set for scanning.
func (c *Cache) Snapshot() []Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Position, 0, len(c.latest))
	for _, p := range c.latest {
		out = append(out, p)
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.latest)
}
