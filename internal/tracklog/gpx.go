package tracklog

import (
	"fmt"

	"backend-kartaview/internal/shared/geo"

	"github.com/tkrajina/gpxgo/gpx"
)

// Build renders a fix track as a GPX 1.1 document with a single track
// segment.
func Build(name string, points []geo.Point) ([]byte, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("tracklog: no positioned points")
	}

	var seg gpx.GPXTrackSegment
	for _, p := range points {
		seg.Points = append(seg.Points, gpx.GPXPoint{
			Point: gpx.Point{
				Latitude:  p.Lat,
				Longitude: p.Lng,
				Elevation: *gpx.NewNullableFloat64(p.ElevationM),
			},
			Timestamp: p.RecordedAt,
		})
	}

	doc := &gpx.GPX{
		Version: "1.1",
		Creator: "backend-kartaview",
		Tracks: []gpx.GPXTrack{{
			Name:     name,
			Segments: []gpx.GPXTrackSegment{seg},
		}},
	}
	return gpx.ToXml(doc, gpx.ToXmlParams{Version: "1.1", Indent: true})
}

// Parse extracts every timestamped track point of a GPX document, in
// document order. Points without a timestamp are useless for interpolation
// and are skipped.
func Parse(data []byte) ([]geo.Point, error) {
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("tracklog: %w", err)
	}

	var points []geo.Point
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				if p.Timestamp.IsZero() {
					continue
				}
				point := geo.Point{
					RecordedAt: p.Timestamp,
					Lat:        p.Latitude,
					Lng:        p.Longitude,
				}
				if p.Elevation.NotNull() {
					point.ElevationM = p.Elevation.Value()
				}
				points = append(points, point)
			}
		}
	}
	return points, nil
}
