package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"backend-kartaview/internal/db"

	"github.com/jackc/pgx/v5"
)

// PGStore keeps the ledger as one JSONB document per ledger name, mirroring
// the single-document layout of FileStore.
type PGStore struct {
	db   db.Querier
	name string
}

func NewPGStore(q db.Querier, name string) *PGStore {
	return &PGStore{db: q, name: name}
}

func (s *PGStore) Load(ctx context.Context) (map[string]Record, error) {
	query := `SELECT doc FROM upload_ledgers WHERE name = $1`

	var raw []byte
	err := s.db.QueryRow(ctx, query, s.name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return make(map[string]Record), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", s.name, err)
	}

	var records map[string]Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", s.name, err)
	}
	if records == nil {
		records = make(map[string]Record)
	}
	return records, nil
}

func (s *PGStore) Save(ctx context.Context, records map[string]Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO upload_ledgers (name, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`
	if _, err := s.db.Exec(ctx, query, s.name, raw); err != nil {
		return fmt.Errorf("save ledger %s: %w", s.name, err)
	}
	return nil
}
