package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"backend-kartaview/internal/ledger"
	"backend-kartaview/internal/sequence"

	"github.com/google/uuid"
)

// Run states.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Event types broadcast to stream subscribers of a run.
const (
	EventSequenceCreated = "sequence_created"
	EventImageUploaded   = "image_uploaded"
	EventImageFailed     = "image_failed"
	EventSequenceClosed  = "sequence_closed"
	EventRunFinished     = "run_finished"
)

// sequenceWorkers bounds how many sequences upload at once.
const sequenceWorkers = 2

// Catalog is the slice of the sequence service the orchestrator needs.
type Catalog interface {
	Uploadable(ctx context.Context) ([]sequence.Sequence, error)
	SetRemoteID(ctx context.Context, id, remoteID string) error
	SetStatus(ctx context.Context, id, status string) error
}

// Broadcaster fans run events out to stream subscribers. *stream.Hub
// satisfies it.
type Broadcaster interface {
	Broadcast(id string, payload []byte)
}

type RunOptions struct {
	ForceClose bool `json:"force_close"`
	DryRun     bool `json:"dry_run"`
}

// SequenceReport sums up the outcome for one sequence within a run.
type SequenceReport struct {
	SequenceID string `json:"sequence_id"`
	RemoteID   string `json:"remote_id,omitempty"`
	Uploaded   int    `json:"uploaded"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Closed     bool   `json:"closed"`
	Error      string `json:"error,omitempty"`
}

// Report describes one upload run.
type Report struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	DryRun     bool             `json:"dry_run"`
	ForceClose bool             `json:"force_close"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
	Uploaded   int              `json:"uploaded"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Sequences  []SequenceReport `json:"sequences,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type event struct {
	Type          string `json:"type"`
	RunID         string `json:"run_id"`
	SequenceID    string `json:"sequence_id,omitempty"`
	RemoteID      string `json:"remote_id,omitempty"`
	Fingerprint   string `json:"fingerprint,omitempty"`
	RemoteImageID string `json:"remote_image_id,omitempty"`
	Uploaded      int    `json:"uploaded,omitempty"`
	Skipped       int    `json:"skipped,omitempty"`
	Failed        int    `json:"failed,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Orchestrator drives upload runs. It walks the uploadable sequences, makes
// sure each exists remotely, sends the members the ledger still reports as
// pending or failed, and records every outcome. Sequences upload in
// parallel, ledger and catalog writes are serialized through mu.
type Orchestrator struct {
	catalog Catalog
	tracker *ledger.Tracker
	client  Client
	hub     Broadcaster
	dryRun  bool
	runs    *runs

	mu sync.Mutex
}

// NewOrchestrator wires the upload pipeline. With dryRun set every run
// fabricates remote ids and leaves catalog and ledger untouched.
func NewOrchestrator(catalog Catalog, tracker *ledger.Tracker, client Client, hub Broadcaster, dryRun bool) *Orchestrator {
	return &Orchestrator{
		catalog: catalog,
		tracker: tracker,
		client:  client,
		hub:     hub,
		dryRun:  dryRun,
		runs:    newRuns(),
	}
}

// Run performs one full upload pass and blocks until it finishes.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) Report {
	return o.execute(ctx, o.newReport(opts))
}

// Start launches a run in the background. The returned snapshot is in state
// running, watch the stream or poll the run for progress.
func (o *Orchestrator) Start(opts RunOptions) Report {
	rep := o.newReport(opts)
	go o.execute(context.Background(), rep)
	return rep
}

// GetRun returns a run snapshot by id.
func (o *Orchestrator) GetRun(id string) (Report, bool) {
	return o.runs.get(id)
}

// ListRuns returns every known run, newest first.
func (o *Orchestrator) ListRuns() []Report {
	return o.runs.list()
}

func (o *Orchestrator) newReport(opts RunOptions) Report {
	rep := Report{
		ID:         uuid.NewString(),
		Status:     StatusRunning,
		DryRun:     o.dryRun || opts.DryRun,
		ForceClose: opts.ForceClose,
		StartedAt:  time.Now(),
	}
	o.runs.put(rep)
	return rep
}

func (o *Orchestrator) execute(ctx context.Context, rep Report) Report {
	client := o.client
	if rep.DryRun {
		client = &DryRun{}
	}

	seqs, err := o.catalog.Uploadable(ctx)
	if err != nil {
		rep.Status = StatusFailed
		rep.Error = err.Error()
		rep.FinishedAt = time.Now()
		o.runs.put(rep)
		return rep
	}

	reports := make([]SequenceReport, len(seqs))
	var wg sync.WaitGroup
	slots := make(chan struct{}, sequenceWorkers)
	for i := range seqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()
			reports[i] = o.uploadSequence(ctx, client, rep, seqs[i])
		}(i)
	}
	wg.Wait()

	rep.Sequences = reports
	for _, sr := range reports {
		rep.Uploaded += sr.Uploaded
		rep.Skipped += sr.Skipped
		rep.Failed += sr.Failed
	}
	rep.Status = StatusDone
	rep.FinishedAt = time.Now()
	o.runs.put(rep)
	o.emit(rep.ID, event{Type: EventRunFinished, Uploaded: rep.Uploaded, Skipped: rep.Skipped, Failed: rep.Failed})
	return rep
}

// uploadSequence sends one sequence. Failures are counted, never fatal to
// the run.
func (o *Orchestrator) uploadSequence(ctx context.Context, client Client, rep Report, seq sequence.Sequence) SequenceReport {
	sr := SequenceReport{SequenceID: seq.ID, RemoteID: seq.RemoteID}

	if sr.RemoteID == "" {
		remoteID, err := client.CreateSequence(ctx, seq.DeviceName)
		if err != nil {
			sr.Error = fmt.Sprintf("create remote sequence: %v", err)
			log.Printf("sequence %s: %s", seq.ID, sr.Error)
			return sr
		}
		sr.RemoteID = remoteID
		if !rep.DryRun {
			o.mu.Lock()
			err = o.catalog.SetRemoteID(ctx, seq.ID, remoteID)
			o.mu.Unlock()
			if err != nil {
				sr.Error = fmt.Sprintf("record remote id: %v", err)
				return sr
			}
		}
		o.emit(rep.ID, event{Type: EventSequenceCreated, SequenceID: seq.ID, RemoteID: remoteID})
	}

	for _, img := range seq.Images {
		if !o.needsUpload(img.Fingerprint, rep.DryRun) {
			sr.Skipped++
			continue
		}

		remoteImageID, err := client.UploadImage(ctx, sr.RemoteID, img)
		if err != nil {
			sr.Failed++
			if !rep.DryRun {
				o.mu.Lock()
				_ = o.tracker.RecordFailure(img.Fingerprint, err)
				o.mu.Unlock()
			}
			log.Printf("upload %s: %v", img.Path, err)
			o.emit(rep.ID, event{Type: EventImageFailed, SequenceID: seq.ID, Fingerprint: img.Fingerprint, Error: err.Error()})
			continue
		}
		sr.Uploaded++
		if !rep.DryRun {
			o.mu.Lock()
			o.tracker.RecordSuccess(img.Fingerprint, remoteImageID)
			o.mu.Unlock()
		}
		o.emit(rep.ID, event{Type: EventImageUploaded, SequenceID: seq.ID, Fingerprint: img.Fingerprint, RemoteImageID: remoteImageID})
	}

	if !rep.DryRun {
		o.mu.Lock()
		err := o.tracker.Flush(ctx)
		o.mu.Unlock()
		if err != nil {
			log.Printf("sequence %s: %v", seq.ID, err)
		}
	}

	if sr.Failed > 0 && !rep.ForceClose {
		return sr
	}
	if err := client.CloseSequence(ctx, sr.RemoteID); err != nil {
		sr.Error = fmt.Sprintf("close remote sequence: %v", err)
		log.Printf("sequence %s: %s", seq.ID, sr.Error)
		return sr
	}
	if !rep.DryRun {
		o.mu.Lock()
		err := o.catalog.SetStatus(ctx, seq.ID, sequence.StatusClosed)
		o.mu.Unlock()
		if err != nil {
			sr.Error = fmt.Sprintf("mark sequence closed: %v", err)
			return sr
		}
	}
	sr.Closed = true
	o.emit(rep.ID, event{Type: EventSequenceClosed, SequenceID: seq.ID, RemoteID: sr.RemoteID})
	return sr
}

// needsUpload consults the ledger. Dry runs read without registering new
// fingerprints.
func (o *Orchestrator) needsUpload(fingerprint string, dry bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if dry {
		rec, ok := o.tracker.Get(fingerprint)
		return !ok || rec.Status != ledger.StatusUploaded
	}
	return o.tracker.NeedsUpload(fingerprint)
}

func (o *Orchestrator) emit(runID string, ev event) {
	if o.hub == nil {
		return
	}
	ev.RunID = runID
	payload, _ := json.Marshal(ev)
	o.hub.Broadcast(runID, payload)
}
