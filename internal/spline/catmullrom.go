package spline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"backend-kartaview/internal/shared/geo"
)

var (
	// ErrOutOfRange reports a requested time the track does not cover.
	ErrOutOfRange = errors.New("spline: time outside interpolation range")

	// ErrDegenerateTrack reports a track that cannot be interpolated at all.
	ErrDegenerateTrack = errors.New("spline: degenerate track")
)

// stationaryEps is the tangent magnitude, in degrees per second, below which
// a fix counts as stationary and no heading is reported.
const stationaryEps = 1e-9

// Interpolate returns the track position at the requested time.
//
// Tracks with four or more fixes are evaluated as a Catmull-Rom spline in the
// Barry-Goldman formulation, with the capture times of the fixes as knots.
// Only times covered by a full four-fix window are accepted, so the supported
// range is [t1, tn-2]. Tracks of two or three fixes fall back to linear
// interpolation over their whole span. The heading of the result comes from
// the curve tangent and is nil while the track is stationary.
func Interpolate(track []geo.Point, at time.Time) (geo.Point, error) {
	n := len(track)
	if n < 2 {
		return geo.Point{}, fmt.Errorf("%w: need at least 2 fixes, have %d", ErrDegenerateTrack, n)
	}
	for i := 1; i < n; i++ {
		if !track[i].RecordedAt.After(track[i-1].RecordedAt) {
			return geo.Point{}, fmt.Errorf("%w: fix %d does not advance in time", ErrDegenerateTrack, i)
		}
	}
	if n < 4 {
		return interpolateLinear(track, at)
	}

	lo, hi := track[1].RecordedAt, track[n-2].RecordedAt
	if at.Before(lo) || at.After(hi) {
		return geo.Point{}, fmt.Errorf("%w: %s not within [%s, %s]",
			ErrOutOfRange, at.Format(time.RFC3339), lo.Format(time.RFC3339), hi.Format(time.RFC3339))
	}

	// pick i with t[i] <= at <= t[i+1] so that a full window i-1..i+2 exists
	i := 1
	for i < n-3 && at.After(track[i+1].RecordedAt) {
		i++
	}
	return evalWindow(track[i-1:i+3], at), nil
}

func interpolateLinear(track []geo.Point, at time.Time) (geo.Point, error) {
	n := len(track)
	lo, hi := track[0].RecordedAt, track[n-1].RecordedAt
	if at.Before(lo) || at.After(hi) {
		return geo.Point{}, fmt.Errorf("%w: %s not within [%s, %s]",
			ErrOutOfRange, at.Format(time.RFC3339), lo.Format(time.RFC3339), hi.Format(time.RFC3339))
	}

	i := 0
	for i < n-2 && at.After(track[i+1].RecordedAt) {
		i++
	}
	a, b := track[i], track[i+1]
	f := at.Sub(a.RecordedAt).Seconds() / b.RecordedAt.Sub(a.RecordedAt).Seconds()

	p := geo.Point{
		RecordedAt: at,
		Lat:        a.Lat + (b.Lat-a.Lat)*f,
		Lng:        a.Lng + (b.Lng-a.Lng)*f,
		ElevationM: a.ElevationM + (b.ElevationM-a.ElevationM)*f,
	}
	if a.Lat != b.Lat || a.Lng != b.Lng {
		h := geo.BearingDeg(a.Lat, a.Lng, b.Lat, b.Lng)
		p.Heading = &h
	}
	return p, nil
}

func evalWindow(w []geo.Point, at time.Time) geo.Point {
	base := w[0].RecordedAt
	var ts [4]float64
	for i := range w {
		ts[i] = w[i].RecordedAt.Sub(base).Seconds()
	}
	t := at.Sub(base).Seconds()

	lat, dLat := evalComponent(ts, [4]float64{w[0].Lat, w[1].Lat, w[2].Lat, w[3].Lat}, t)
	lng, dLng := evalComponent(ts, [4]float64{w[0].Lng, w[1].Lng, w[2].Lng, w[3].Lng}, t)
	ele, _ := evalComponent(ts, [4]float64{w[0].ElevationM, w[1].ElevationM, w[2].ElevationM, w[3].ElevationM}, t)

	return geo.Point{
		RecordedAt: at,
		Lat:        lat,
		Lng:        lng,
		ElevationM: ele,
		Heading:    headingFromTangent(lat, dLat, dLng),
	}
}

// evalComponent runs the Barry-Goldman pyramid of lerps for one coordinate
// component and returns the value together with its time derivative. The
// derivative falls out of the same pyramid via the product rule, so no finite
// differences are involved.
func evalComponent(ts [4]float64, vs [4]float64, t float64) (float64, float64) {
	lerp := func(a, b, ta, tb float64) float64 {
		return ((tb-t)*a + (t-ta)*b) / (tb - ta)
	}
	slope := func(a, b, ta, tb float64) float64 {
		return (b - a) / (tb - ta)
	}

	a1 := lerp(vs[0], vs[1], ts[0], ts[1])
	a2 := lerp(vs[1], vs[2], ts[1], ts[2])
	a3 := lerp(vs[2], vs[3], ts[2], ts[3])
	da1 := slope(vs[0], vs[1], ts[0], ts[1])
	da2 := slope(vs[1], vs[2], ts[1], ts[2])
	da3 := slope(vs[2], vs[3], ts[2], ts[3])

	b1 := lerp(a1, a2, ts[0], ts[2])
	b2 := lerp(a2, a3, ts[1], ts[3])
	db1 := slope(a1, a2, ts[0], ts[2]) + lerp(da1, da2, ts[0], ts[2])
	db2 := slope(a2, a3, ts[1], ts[3]) + lerp(da2, da3, ts[1], ts[3])

	c := lerp(b1, b2, ts[1], ts[2])
	dc := slope(b1, b2, ts[1], ts[2]) + lerp(db1, db2, ts[1], ts[2])
	return c, dc
}

func headingFromTangent(lat, dLat, dLng float64) *float64 {
	north := dLat
	east := dLng * math.Cos(lat*math.Pi/180)
	if math.Hypot(north, east) < stationaryEps {
		return nil
	}
	h := geo.NormalizeHeading(math.Atan2(east, north) * 180 / math.Pi)
	return &h
}
