package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Upload states for a tracked image.
const (
	StatusPending  = "pending"
	StatusUploaded = "uploaded"
	StatusFailed   = "failed"
)

// ErrInvalidTransition reports an attempt to move an image out of a terminal
// state. Uploaded images stay uploaded.
var ErrInvalidTransition = errors.New("ledger: invalid status transition")

// Record is the upload state of a single image, keyed by fingerprint.
type Record struct {
	Fingerprint   string    `json:"fingerprint"`
	Status        string    `json:"status"`
	RemoteImageID string    `json:"remote_image_id,omitempty"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists the whole ledger document at once.
type Store interface {
	Load(ctx context.Context) (map[string]Record, error)
	Save(ctx context.Context, records map[string]Record) error
}

// Tracker keeps upload states in memory and writes them back through its
// store on Flush. It is not safe for concurrent use, callers serialize.
type Tracker struct {
	store   Store
	records map[string]Record
	dirty   bool
	now     func() time.Time
}

func NewTracker(ctx context.Context, store Store) (*Tracker, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if records == nil {
		records = make(map[string]Record)
	}
	return &Tracker{store: store, records: records, now: time.Now}, nil
}

// NeedsUpload reports whether the image still has to be sent, registering a
// pending record the first time a fingerprint shows up.
func (t *Tracker) NeedsUpload(fingerprint string) bool {
	rec, ok := t.records[fingerprint]
	if !ok {
		t.records[fingerprint] = Record{
			Fingerprint: fingerprint,
			Status:      StatusPending,
			UpdatedAt:   t.now(),
		}
		t.dirty = true
		return true
	}
	return rec.Status != StatusUploaded
}

func (t *Tracker) Get(fingerprint string) (Record, bool) {
	rec, ok := t.records[fingerprint]
	return rec, ok
}

// RecordSuccess marks the image uploaded. Repeats refresh the timestamp but
// keep the remote id of the first successful upload.
func (t *Tracker) RecordSuccess(fingerprint, remoteImageID string) {
	rec, ok := t.records[fingerprint]
	if !ok {
		rec = Record{Fingerprint: fingerprint}
	}
	if rec.Status != StatusUploaded {
		rec.RemoteImageID = remoteImageID
	}
	rec.Status = StatusUploaded
	rec.LastError = ""
	rec.UpdatedAt = t.now()
	t.records[fingerprint] = rec
	t.dirty = true
}

// RecordFailure notes a failed attempt. Failing an already uploaded image is
// refused.
func (t *Tracker) RecordFailure(fingerprint string, cause error) error {
	rec, ok := t.records[fingerprint]
	if !ok {
		rec = Record{Fingerprint: fingerprint}
	}
	if rec.Status == StatusUploaded {
		return fmt.Errorf("%w: %s is already uploaded", ErrInvalidTransition, fingerprint)
	}
	rec.Status = StatusFailed
	rec.Attempts++
	if cause != nil {
		rec.LastError = cause.Error()
	}
	rec.UpdatedAt = t.now()
	t.records[fingerprint] = rec
	t.dirty = true
	return nil
}

// Counts tallies tracked images per state.
func (t *Tracker) Counts() map[string]int {
	counts := make(map[string]int, 3)
	for _, rec := range t.records {
		counts[rec.Status]++
	}
	return counts
}

func (t *Tracker) Len() int {
	return len(t.records)
}

// Flush writes the ledger back when anything changed since the last flush.
func (t *Tracker) Flush(ctx context.Context) error {
	if !t.dirty {
		return nil
	}
	if err := t.store.Save(ctx, t.records); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	t.dirty = false
	return nil
}
