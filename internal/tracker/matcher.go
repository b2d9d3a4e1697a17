package tracker

import (
	"math"
	"sort"

	"github.com/smangukia/CommuneDrop-sub001/internal/models"
)

// Candidate is a driver within range of a search point.
type Candidate struct {
	TripID     string        `json:"tripId"`
	DriverID   string        `json:"driverId"`
	Location   models.LatLng `json:"location"`
	DistanceKm float64       `json:"distanceKm"`
}

// Matcher finds drivers near a point by scanning the latest-sample set.
// Linear scan over a small active set; a geo index is the known scaling fix.
type Matcher struct {
	cache *Cache
}

func NewMatcher(cache *Cache) *Matcher {
	return &Matcher{cache: cache}
}

// FindNearby returns every driver whose great-circle distance to point is at
// most radiusKm, sorted ascending by distance, distances rounded to two
// decimals. Zero matches is a valid result; callers fall back to broadcasting.
func (m *Matcher) FindNearby(point models.LatLng, radiusKm float64) []Candidate {
	out := make([]Candidate, 0)
	for _, p := range m.cache.Snapshot() {
		d := HaversineKm(point, p.Location)
		if d > radiusKm {
			continue
		}
		out = append(out, Candidate{
			TripID:     p.TripID,
			DriverID:   p.DriverID,
			Location:   p.Location,
			DistanceKm: math.Round(d*100) / 100,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}

// HaversineKm is the great-circle distance between two points in kilometers.
func HaversineKm(a, b models.LatLng) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
