// Package geo answers "what is near this point" for anything that carries an
// optional coordinate.
//
// DISTANCE MODEL:
// Distances are great-circle distances on a sphere (haversine), in kilometres.
// A sphere is off by at most ~0.5% against the WGS84 ellipsoid, which is far
// below the noise of a phone's GPS fix, and it keeps the function symmetric
// and exactly zero for identical points.
//
// The engine is deliberately dumb: it scans the candidate slice. At directory
// scale (thousands of accounts) a linear scan beats maintaining a spatial index.
//
// RADIUS:
// Callers that take a radius from a user (ParseRadius, the nearby and feed
// services) read 0 the same way as blank: no limit. Query itself takes
// RadiusKm literally, so a Query with radius 0 matches only the center point.
package geo

import (
	"cmp"
	"math"
	"slices"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
)

// EarthRadiusKm is the mean Earth radius (IUGG).
const EarthRadiusKm = 6371.0088

// NoLimit as a radius means "every candidate that has a coordinate".
var NoLimit = math.Inf(1)

// OrNoLimit maps the zero radius, which user-facing callers treat as unset,
// to NoLimit. Any other value is returned unchanged.
func OrNoLimit(radiusKm float64) float64 {
	if radiusKm == 0 {
		return NoLimit
	}
	return radiusKm
}

// DefaultCenter is used when the caller has no coordinate of their own
// (Times Square, New York).
var DefaultCenter = model.Coordinate{Latitude: 40.7589, Longitude: -73.9851}

// Locatable is anything with an optional position.
type Locatable interface {
	Location() *model.Coordinate
}

// Result pairs a candidate with its distance from the query center.
type Result[T any] struct {
	Item       T       `json:"item"`
	DistanceKm float64 `json:"distanceKm"`
}

// Query is a proximity question: everything within RadiusKm of Center.
type Query struct {
	Center   model.Coordinate
	RadiusKm float64
}

// Validate rejects negative or NaN radii and malformed centers.
func (q Query) Validate() error {
	if math.IsNaN(q.RadiusKm) || q.RadiusKm < 0 {
		return apperror.ValidationFailed("radius", "radius must be a non-negative number of kilometres")
	}
	return q.Center.Validate()
}

// Distance returns the haversine distance between a and b in kilometres.
func Distance(a, b model.Coordinate) float64 {
	if a == b {
		return 0
	}
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h a hair past 1 for antipodal points.
	h = math.Min(1, h)

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Filter keeps the candidates within q.RadiusKm of q.Center, in input order.
// Candidates without a coordinate are skipped.
func Filter[T Locatable](q Query, items []T) ([]Result[T], error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	results := make([]Result[T], 0, len(items))
	for _, item := range items {
		loc := item.Location()
		if loc == nil {
			continue
		}
		d := Distance(q.Center, *loc)
		if d <= q.RadiusKm {
			results = append(results, Result[T]{Item: item, DistanceKm: d})
		}
	}
	return results, nil
}

// SortByDistance measures every coordinate-bearing candidate from center and
// returns them nearest first. Ties keep their input order.
func SortByDistance[T Locatable](center model.Coordinate, items []T) []Result[T] {
	results := make([]Result[T], 0, len(items))
	for _, item := range items {
		if loc := item.Location(); loc != nil {
			results = append(results, Result[T]{Item: item, DistanceKm: Distance(center, *loc)})
		}
	}
	sortResults(results)
	return results
}

// Nearby is Filter followed by an ascending sort on distance.
func Nearby[T Locatable](q Query, items []T) ([]Result[T], error) {
	results, err := Filter(q, items)
	if err != nil {
		return nil, err
	}
	sortResults(results)
	return results, nil
}

func sortResults[T any](results []Result[T]) {
	slices.SortStableFunc(results, func(a, b Result[T]) int {
		return cmp.Compare(a.DistanceKm, b.DistanceKm)
	})
}
