package sequence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"backend-kartaview/internal/shared/geo"
	"backend-kartaview/internal/spline"

	"github.com/google/uuid"
)

// ErrUnorderedInput reports images or track fixes that are not sorted by
// capture time. Callers must sort before segmenting.
var ErrUnorderedInput = errors.New("sequence: input not ordered by capture time")

const (
	reasonNoTimestamp = "no capture time"
	reasonDop         = "gps dop above limit"
	reasonFence       = "inside geofence"
	reasonSpeed       = "below minimum speed"
)

// Segment cuts a batch of images into upload sequences.
//
// Images failing the quality filters are reported in Result.Discarded. The
// remaining stream is walked pairwise: a sequence closes when the time gap or
// the distance between neighbours exceeds the configured limits. Images
// without a position are interpolated from the fix track when safely
// bracketed; the ones that stay unresolved are grouped into positionless
// sequences of their own. When track is empty the known image positions serve
// as the fix track.
func Segment(images []Image, track []geo.Point, opts Options) (Result, error) {
	if opts.MaxTimeGap <= 0 {
		opts.MaxTimeGap = DefaultOptions().MaxTimeGap
	}
	if opts.MaxDistanceGapM <= 0 {
		opts.MaxDistanceGapM = DefaultOptions().MaxDistanceGapM
	}
	yaw := geo.NormalizeYaw(opts.CameraYawDeg)

	var prev time.Time
	for _, img := range images {
		if img.Fingerprint == "" {
			return Result{}, fmt.Errorf("sequence: image %q has no fingerprint", img.Path)
		}
		if !img.CapturedAt.IsZero() {
			// ties are rejected too, their relative order is ambiguous
			if !prev.IsZero() && !img.CapturedAt.After(prev) {
				return Result{}, fmt.Errorf("%w: image %q", ErrUnorderedInput, img.Fingerprint)
			}
			prev = img.CapturedAt
		}
		if p, ok := img.Position(); ok {
			if err := p.Validate(); err != nil {
				return Result{}, fmt.Errorf("sequence: image %q: %w", img.Fingerprint, err)
			}
		}
	}
	for i, p := range track {
		if err := p.Validate(); err != nil {
			return Result{}, fmt.Errorf("sequence: track fix %d: %w", i, err)
		}
		if i > 0 && !p.RecordedAt.After(track[i-1].RecordedAt) {
			return Result{}, fmt.Errorf("%w: track fix %d", ErrUnorderedInput, i)
		}
	}

	var res Result
	var kept []Image
	for _, img := range images {
		switch {
		case img.CapturedAt.IsZero():
			res.Discarded = append(res.Discarded, Discard{Image: img, Reason: reasonNoTimestamp})
		case img.Dop != nil && opts.MaxDop > 0 && *img.Dop > opts.MaxDop:
			res.Discarded = append(res.Discarded, Discard{Image: img, Reason: reasonDop})
		case insideFence(img, opts.Fence):
			res.Discarded = append(res.Discarded, Discard{Image: img, Reason: reasonFence})
		case img.SpeedKmh != nil && opts.MinSpeedKmh > 0 && *img.SpeedKmh < opts.MinSpeedKmh:
			res.Discarded = append(res.Discarded, Discard{Image: img, Reason: reasonSpeed})
		default:
			kept = append(kept, img)
		}
	}

	fixes := track
	if len(fixes) == 0 {
		for _, img := range kept {
			if p, ok := img.Position(); ok {
				fixes = append(fixes, p)
			}
		}
	}

	for i := range kept {
		if _, ok := kept[i].Position(); ok {
			continue
		}
		p, ok := resolvePosition(fixes, kept[i].CapturedAt, opts)
		if !ok {
			continue
		}
		lat, lng := p.Lat, p.Lng
		kept[i].Lat, kept[i].Lng = &lat, &lng
		kept[i].ElevationM = p.ElevationM
		kept[i].Heading = p.Heading
		kept[i].Interpolated = true
	}

	var current []Image
	for _, img := range kept {
		if len(current) > 0 && startsNewSequence(current[len(current)-1], img, opts) {
			res.Sequences = append(res.Sequences, buildSequence(current, fixes, yaw))
			current = nil
		}
		current = append(current, img)
	}
	if len(current) > 0 {
		res.Sequences = append(res.Sequences, buildSequence(current, fixes, yaw))
	}
	return res, nil
}

func insideFence(img Image, fence *geo.Fence) bool {
	p, ok := img.Position()
	return ok && fence.Contains(p.Lat, p.Lng)
}

// resolvePosition fills a missing position from the fix track. The image must
// be bracketed by fixes whose own spacing stays inside the gap limits,
// otherwise the uncertainty is too large and the image stays positionless.
func resolvePosition(fixes []geo.Point, at time.Time, opts Options) (geo.Point, bool) {
	prev, next := -1, -1
	for i, f := range fixes {
		if !f.RecordedAt.After(at) {
			prev = i
		}
		if next == -1 && !f.RecordedAt.Before(at) {
			next = i
		}
	}
	if prev == -1 || next == -1 {
		return geo.Point{}, false
	}
	if prev != next {
		a, b := fixes[prev], fixes[next]
		if b.RecordedAt.Sub(a.RecordedAt) > opts.MaxTimeGap {
			return geo.Point{}, false
		}
		if geo.HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)*1000 > opts.MaxDistanceGapM {
			return geo.Point{}, false
		}
	}
	p, err := spline.Interpolate(fixes, at)
	if err != nil {
		return geo.Point{}, false
	}
	return p, true
}

func startsNewSequence(a, b Image, opts Options) bool {
	_, aLocated := a.Position()
	_, bLocated := b.Position()
	if aLocated != bLocated {
		// positionless images never share a sequence with located ones
		return true
	}
	if b.CapturedAt.Sub(a.CapturedAt) > opts.MaxTimeGap {
		return true
	}
	if aLocated && bLocated {
		pa, _ := a.Position()
		pb, _ := b.Position()
		if geo.HaversineKm(pa.Lat, pa.Lng, pb.Lat, pb.Lng)*1000 > opts.MaxDistanceGapM {
			return true
		}
	}
	return false
}

func buildSequence(members []Image, fixes []geo.Point, yaw float64) Sequence {
	_, located := members[0].Position()

	seq := Sequence{
		ID:           sequenceID(members),
		Status:       StatusNew,
		Positionless: !located,
		ImageCount:   len(members),
	}
	for i := range members {
		members[i].SeqIndex = i
		members[i].SequenceID = seq.ID
		if seq.DeviceName == "" {
			seq.DeviceName = members[i].DeviceName
		}
	}
	if located && len(members) > 1 {
		applyHeadings(members, fixes, yaw)
	}
	seq.Images = members
	return seq
}

// applyHeadings recomputes every member heading from the local track
// geometry. Members outside the spline window fall back to the chord towards
// a neighbour, stationary members keep the previous heading, and the camera
// yaw is applied last.
func applyHeadings(members []Image, fixes []geo.Point, yaw float64) {
	var prevHeading *float64
	for i := range members {
		var h *float64
		p, err := spline.Interpolate(fixes, members[i].CapturedAt)
		switch {
		case err == nil && p.Heading != nil:
			h = p.Heading
		case err == nil:
			h = prevHeading
		default:
			h = chordHeading(members, i)
			if h == nil {
				h = prevHeading
			}
		}
		if h == nil {
			members[i].Heading = nil
			continue
		}
		v := *h
		members[i].Heading = &v
		prevHeading = &v
	}

	if yaw == 0 {
		return
	}
	for i := range members {
		if members[i].Heading != nil {
			v := geo.NormalizeHeading(*members[i].Heading + yaw)
			members[i].Heading = &v
		}
	}
}

// chordHeading is the bearing towards the nearest member at a different
// position, looking forward first.
func chordHeading(members []Image, i int) *float64 {
	pi, ok := members[i].Position()
	if !ok {
		return nil
	}
	for j := i + 1; j < len(members); j++ {
		if pj, ok := members[j].Position(); ok && (pj.Lat != pi.Lat || pj.Lng != pi.Lng) {
			h := geo.BearingDeg(pi.Lat, pi.Lng, pj.Lat, pj.Lng)
			return &h
		}
	}
	for j := i - 1; j >= 0; j-- {
		if pj, ok := members[j].Position(); ok && (pj.Lat != pi.Lat || pj.Lng != pi.Lng) {
			h := geo.BearingDeg(pj.Lat, pj.Lng, pi.Lat, pi.Lng)
			return &h
		}
	}
	return nil
}

// sequenceID derives a stable id from the member fingerprints, so rerunning
// segmentation over the same input yields the same catalog rows.
func sequenceID(members []Image) string {
	var sb strings.Builder
	for _, img := range members {
		sb.WriteString(img.Fingerprint)
		sb.WriteByte('\n')
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(sb.String())).String()
}
