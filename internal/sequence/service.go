package sequence

import (
	"context"
	"fmt"

	"backend-kartaview/internal/db"

	"github.com/jackc/pgx/v5"
)

type Service struct {
	db       db.Querier
	defaults Options
}

// NewService wires the catalog to its database. The defaults apply to every
// segmentation request unless overridden per call.
func NewService(db db.Querier, defaults Options) *Service {
	if defaults.MaxTimeGap <= 0 {
		defaults.MaxTimeGap = DefaultOptions().MaxTimeGap
	}
	if defaults.MaxDistanceGapM <= 0 {
		defaults.MaxDistanceGapM = DefaultOptions().MaxDistanceGapM
	}
	return &Service{db: db, defaults: defaults}
}

// SaveResult persists every sequence of a segmentation run. Discards are
// reported to the caller only, they never reach the catalog.
func (s *Service) SaveResult(ctx context.Context, res Result) error {
	for _, seq := range res.Sequences {
		if err := s.SaveSequence(ctx, seq); err != nil {
			return fmt.Errorf("save sequence %s: %w", seq.ID, err)
		}
	}
	return nil
}

// SaveSequence upserts the sequence row and replaces its members. Remote id
// and status survive re-segmentation, they only change through SetRemoteID
// and SetStatus.
func (s *Service) SaveSequence(ctx context.Context, seq Sequence) error {
	var startLat, startLng *float64
	for _, img := range seq.Images {
		if p, ok := img.Position(); ok {
			la, ln := p.Lat, p.Lng
			startLat, startLng = &la, &ln
			break
		}
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO sequences (id, remote_id, status, device_name, positionless, image_count, start_location)
		VALUES ($1,$2,$3,$4,$5,$6, ST_SetSRID(ST_MakePoint($7,$8), 4326)::geography)
		ON CONFLICT (id) DO UPDATE
		SET device_name=EXCLUDED.device_name,
		    positionless=EXCLUDED.positionless,
		    image_count=EXCLUDED.image_count,
		    start_location=EXCLUDED.start_location
		RETURNING created_at
	`, seq.ID, seq.RemoteID, seq.Status, seq.DeviceName, seq.Positionless, seq.ImageCount, startLng, startLat)
	if err := row.Scan(&seq.CreatedAt); err != nil {
		return err
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM sequence_images WHERE sequence_id=$1`, seq.ID); err != nil {
		return err
	}
	for _, img := range seq.Images {
		_, err := s.db.Exec(ctx, `
			INSERT INTO sequence_images
				(sequence_id, seq_index, fingerprint, path, captured_at, lat, lng, elevation_m, heading, dop, speed_kmh, device_name, interpolated)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, seq.ID, img.SeqIndex, img.Fingerprint, img.Path, img.CapturedAt, img.Lat, img.Lng, img.ElevationM, img.Heading, img.Dop, img.SpeedKmh, img.DeviceName, img.Interpolated)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) List(ctx context.Context) ([]Sequence, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, remote_id, status, device_name, positionless, image_count, created_at
		FROM sequences
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return scanSequences(rows)
}

func (s *Service) Get(ctx context.Context, id string) (Sequence, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, remote_id, status, device_name, positionless, image_count, created_at
		FROM sequences WHERE id=$1
	`, id)
	var seq Sequence
	if err := row.Scan(&seq.ID, &seq.RemoteID, &seq.Status, &seq.DeviceName, &seq.Positionless, &seq.ImageCount, &seq.CreatedAt); err != nil {
		return Sequence{}, err
	}
	return seq, nil
}

func (s *Service) Images(ctx context.Context, sequenceID string) ([]Image, error) {
	rows, err := s.db.Query(ctx, `
		SELECT sequence_id, seq_index, fingerprint, path, captured_at, lat, lng, elevation_m, heading, dop, speed_kmh, device_name, interpolated, created_at
		FROM sequence_images WHERE sequence_id=$1
		ORDER BY seq_index
	`, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.SequenceID, &img.SeqIndex, &img.Fingerprint, &img.Path, &img.CapturedAt,
			&img.Lat, &img.Lng, &img.ElevationM, &img.Heading, &img.Dop, &img.SpeedKmh,
			&img.DeviceName, &img.Interpolated, &img.CreatedAt); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sequence_images WHERE sequence_id=$1`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `DELETE FROM sequences WHERE id=$1`, id)
	return err
}

// Near lists sequences starting within radiusM meters of a point.
func (s *Service) Near(ctx context.Context, lat, lng, radiusM float64) ([]Sequence, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, remote_id, status, device_name, positionless, image_count, created_at
		FROM sequences
		WHERE start_location IS NOT NULL
		  AND ST_DWithin(start_location, ST_SetSRID(ST_MakePoint($1,$2), 4326)::geography, $3)
		ORDER BY created_at DESC
	`, lng, lat, radiusM)
	if err != nil {
		return nil, err
	}
	return scanSequences(rows)
}

// SetRemoteID records the id the remote service assigned and opens the
// sequence for image uploads.
func (s *Service) SetRemoteID(ctx context.Context, id, remoteID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sequences SET remote_id=$2, status=$3 WHERE id=$1
	`, id, remoteID, StatusOpen)
	return err
}

func (s *Service) SetStatus(ctx context.Context, id, status string) error {
	switch status {
	case StatusNew, StatusOpen, StatusClosed:
	default:
		return fmt.Errorf("unknown status %q", status)
	}
	_, err := s.db.Exec(ctx, `UPDATE sequences SET status=$2 WHERE id=$1`, id, status)
	return err
}

// Uploadable lists the positioned sequences that still need remote work,
// members included.
func (s *Service) Uploadable(ctx context.Context) ([]Sequence, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, remote_id, status, device_name, positionless, image_count, created_at
		FROM sequences
		WHERE status <> $1 AND NOT positionless
		ORDER BY created_at
	`, StatusClosed)
	if err != nil {
		return nil, err
	}
	seqs, err := scanSequences(rows)
	if err != nil {
		return nil, err
	}
	for i := range seqs {
		images, err := s.Images(ctx, seqs[i].ID)
		if err != nil {
			return nil, err
		}
		seqs[i].Images = images
	}
	return seqs, nil
}

func scanSequences(rows pgx.Rows) ([]Sequence, error) {
	defer rows.Close()

	var seqs []Sequence
	for rows.Next() {
		var seq Sequence
		if err := rows.Scan(&seq.ID, &seq.RemoteID, &seq.Status, &seq.DeviceName, &seq.Positionless, &seq.ImageCount, &seq.CreatedAt); err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}
