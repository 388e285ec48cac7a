package upload

import (
	"context"
	"fmt"
	"sync"

	"backend-kartaview/internal/sequence"
)

// Client pushes sequences to the remote collection service. remote.KartaView
// implements it for the real API.
type Client interface {
	CreateSequence(ctx context.Context, deviceName string) (string, error)
	UploadImage(ctx context.Context, remoteSeqID string, img sequence.Image) (string, error)
	CloseSequence(ctx context.Context, remoteSeqID string) error
}

// DryRun fabricates remote ids without performing any network or disk I/O.
type DryRun struct {
	mu   sync.Mutex
	seqs int
	imgs int
}

func (d *DryRun) CreateSequence(ctx context.Context, deviceName string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seqs++
	return fmt.Sprintf("dry-seq-%d", d.seqs), nil
}

func (d *DryRun) UploadImage(ctx context.Context, remoteSeqID string, img sequence.Image) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.imgs++
	return fmt.Sprintf("dry-img-%d", d.imgs), nil
}

func (d *DryRun) CloseSequence(ctx context.Context, remoteSeqID string) error {
	return nil
}
