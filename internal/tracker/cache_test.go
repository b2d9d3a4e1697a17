package tracker

import (
	"testing"

	"github.com/smangukia/CommuneDrop-sub001/internal/models"
)

func TestCacheLastWriterWins(t *testing.T) {
	c := NewCache()
	c.Put("T1", "d1", models.LatLng{Lat: 44.6430, Lng: -63.5793})
	c.Put("T1", "d1", models.LatLng{Lat: 44.6500, Lng: -63.5800})

	p, ok := c.Get("T1")
	if !ok {
		t.Fatal("expected entry for T1")
	}
	if p.Location.Lat != 44.6500 {
		t.Fatalf("expected latest sample to win, got lat=%f", p.Location.Lat)
	}
	if c.Len() != 1 {
		t.Fatalf("expected exactly one entry per trip, got %d", c.Len())
	}
}

func TestCacheForget(t *testing.T) {
	c := NewCache()
	c.Put("T1", "d1", models.LatLng{Lat: 1, Lng: 2})
	c.Forget("T1")
	if _, ok := c.Get("T1"); ok {
		t.Fatal("expected T1 to be gone")
	}
}

func TestCacheSnapshotIsACopy(t *testing.T) {
	c := NewCache()
	c.Put("T1", "d1", models.LatLng{Lat: 1, Lng: 2})
	snap := c.Snapshot()
	c.Forget("T1")
	if len(snap) != 1 {
		t.Fatalf("snapshot should be unaffected by later mutation, got %d entries", len(snap))
	}
}
