package sidecar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"backend-kartaview/internal/sequence"
)

// Doc is the sidecar companion of one image file. It mirrors what the
// KartaView desktop tools keep next to each photo, so both toolchains can
// read the other's state.
type Doc struct {
	Filename      string   `json:"filename"`
	Timestamp     float64  `json:"timestamp,omitempty"`
	Lat           *float64 `json:"lat,omitempty"`
	Lon           *float64 `json:"lon,omitempty"`
	Altitude      float64  `json:"altitude,omitempty"`
	Heading       *float64 `json:"heading,omitempty"`
	Speed         *float64 `json:"speed,omitempty"`
	Dop           *float64 `json:"dop,omitempty"`
	ProjectionYaw float64  `json:"projection_yaw,omitempty"`
	DeviceName    string   `json:"deviceName,omitempty"`
	SequenceID    string   `json:"sequence_id,omitempty"`
	SequenceIndex int      `json:"sequence_index"`
	RemoteImageID string   `json:"remote_image_id,omitempty"`
	Status        string   `json:"status,omitempty"`
}

// Path returns the sidecar path for an image file.
func Path(imagePath string) string {
	return imagePath + ".kv"
}

func FromImage(img sequence.Image, seq sequence.Sequence) Doc {
	doc := Doc{
		Filename:      filepath.Base(img.Path),
		Lat:           img.Lat,
		Lon:           img.Lng,
		Altitude:      img.ElevationM,
		Heading:       img.Heading,
		Speed:         img.SpeedKmh,
		Dop:           img.Dop,
		DeviceName:    img.DeviceName,
		SequenceID:    img.SequenceID,
		SequenceIndex: img.SeqIndex,
		Status:        seq.Status,
	}
	if !img.CapturedAt.IsZero() {
		doc.Timestamp = float64(img.CapturedAt.UnixNano()) / float64(time.Second)
	}
	return doc
}

func Write(imagePath string, doc Doc) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(Path(imagePath), raw, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// Read loads the sidecar of an image. A missing sidecar is not an error, the
// second return value reports whether one was found.
func Read(imagePath string) (Doc, bool, error) {
	raw, err := os.ReadFile(Path(imagePath))
	if errors.Is(err, fs.ErrNotExist) {
		return Doc{}, false, nil
	}
	if err != nil {
		return Doc{}, false, fmt.Errorf("read sidecar: %w", err)
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Doc{}, false, fmt.Errorf("parse sidecar %s: %w", Path(imagePath), err)
	}
	return doc, true, nil
}

// Remove deletes the sidecar of an image, reporting whether one existed.
func Remove(imagePath string) (bool, error) {
	err := os.Remove(Path(imagePath))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
