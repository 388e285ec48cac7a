package sequence

import (
	"time"

	"backend-kartaview/internal/shared/geo"
)

const (
	StatusNew    = "new"
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Image is one captured frame together with everything known about it. Lat
// and Lng stay nil until a position is known or interpolated.
type Image struct {
	Fingerprint  string    `json:"fingerprint"`
	Path         string    `json:"path"`
	CapturedAt   time.Time `json:"captured_at"`
	Lat          *float64  `json:"lat,omitempty"`
	Lng          *float64  `json:"lng,omitempty"`
	ElevationM   float64   `json:"elevation_m,omitempty"`
	Heading      *float64  `json:"heading,omitempty"`
	Dop          *float64  `json:"dop,omitempty"`
	SpeedKmh     *float64  `json:"speed_kmh,omitempty"`
	DeviceName   string    `json:"device_name,omitempty"`
	SequenceID   string    `json:"sequence_id,omitempty"`
	SeqIndex     int       `json:"sequence_index"`
	Interpolated bool      `json:"interpolated,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Position returns the image position as a track fix when one is known.
func (img Image) Position() (geo.Point, bool) {
	if img.Lat == nil || img.Lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{
		RecordedAt: img.CapturedAt,
		Lat:        *img.Lat,
		Lng:        *img.Lng,
		ElevationM: img.ElevationM,
		Heading:    img.Heading,
	}, true
}

type Sequence struct {
	ID           string    `json:"id"`
	RemoteID     string    `json:"remote_id,omitempty"`
	Status       string    `json:"status"`
	DeviceName   string    `json:"device_name,omitempty"`
	Positionless bool      `json:"positionless"`
	ImageCount   int       `json:"image_count"`
	Images       []Image   `json:"images,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Discard reports an image dropped during segmentation and why.
type Discard struct {
	Image  Image  `json:"image"`
	Reason string `json:"reason"`
}

type Result struct {
	Sequences []Sequence `json:"sequences"`
	Discarded []Discard  `json:"discarded"`
}

// Options control the gap walk and the quality filters.
type Options struct {
	MaxTimeGap      time.Duration
	MaxDistanceGapM float64
	MaxDop          float64
	MinSpeedKmh     float64
	CameraYawDeg    float64
	Fence           *geo.Fence
}

func DefaultOptions() Options {
	return Options{
		MaxTimeGap:      5 * time.Minute,
		MaxDistanceGapM: 100,
		MaxDop:          20,
		MinSpeedKmh:     5,
	}
}
