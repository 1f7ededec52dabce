package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
)

// ParseCoordinate converts raw latitude/longitude form values.
//
// Both blank means "no coordinate" and returns (nil, nil). Exactly one blank,
// a non-numeric value, NaN/Inf, or an out-of-range value is a validation
// error; a half coordinate is never produced.
func ParseCoordinate(lat, lng string) (*model.Coordinate, error) {
	lat = strings.TrimSpace(lat)
	lng = strings.TrimSpace(lng)

	if lat == "" && lng == "" {
		return nil, nil
	}
	if lat == "" || lng == "" {
		return nil, apperror.ValidationFailed("coordinate", "latitude and longitude must be given together")
	}

	latitude, err := parseFloat("latitude", lat)
	if err != nil {
		return nil, err
	}
	longitude, err := parseFloat("longitude", lng)
	if err != nil {
		return nil, err
	}

	c := model.Coordinate{Latitude: latitude, Longitude: longitude}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseRadius converts a raw radius in kilometres. Blank and 0 both mean NoLimit.
func ParseRadius(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoLimit, nil
	}
	r, err := parseFloat("radius", s)
	if err != nil {
		return 0, err
	}
	if r < 0 {
		return 0, apperror.ValidationFailed("radius", "radius must be a non-negative number of kilometres")
	}
	return OrNoLimit(r), nil
}

func parseFloat(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperror.ValidationFailed(field, field+" must be a number")
	}
	return v, nil
}
