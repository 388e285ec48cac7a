package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const earthRadiusKm = 6371.0

// Point is a GPS fix with the capture time attached.
type Point struct {
	RecordedAt time.Time `json:"recorded_at"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	ElevationM float64   `json:"elevation_m,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
}

func (p Point) Validate() error {
	if p.RecordedAt.IsZero() {
		return fmt.Errorf("geo: point has no timestamp")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("geo: latitude %v out of range", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("geo: longitude %v out of range", p.Lng)
	}
	return nil
}

// HaversineKm returns the great-circle distance between two coordinates in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BearingDeg returns the initial bearing from the first to the second
// coordinate, in degrees clockwise from true north.
func BearingDeg(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	y := math.Sin(dLng) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLng)
	return NormalizeHeading(math.Atan2(y, x) * 180 / math.Pi)
}

// NormalizeHeading maps a heading in degrees to the range [0, 360).
func NormalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// NormalizeYaw maps a camera yaw in degrees to the range [-180, 180).
func NormalizeYaw(deg float64) float64 {
	return math.Mod(math.Mod(deg+180, 360)+360, 360) - 180
}

// Fence is a circular privacy zone. Images captured inside it are dropped
// before sequencing.
type Fence struct {
	Lat      float64
	Lng      float64
	RadiusKm float64
}

// ParseFence parses a "lat,lng,radius_km" triple.
func ParseFence(s string) (*Fence, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("geo: fence %q: want lat,lng,radius_km", s)
	}
	vals := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("geo: fence %q: %w", s, err)
		}
		vals[i] = v
	}
	f := &Fence{Lat: vals[0], Lng: vals[1], RadiusKm: vals[2]}
	if f.RadiusKm <= 0 {
		return nil, fmt.Errorf("geo: fence %q: radius must be positive", s)
	}
	return f, nil
}

func (f *Fence) Contains(lat, lng float64) bool {
	if f == nil {
		return false
	}
	return HaversineKm(f.Lat, f.Lng, lat, lng) < f.RadiusKm
}
