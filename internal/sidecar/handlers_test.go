package sidecar

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"backend-kartaview/internal/sequence"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"
)

func passThrough(c *fiber.Ctx) error { return c.Next() }

func sequenceRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "remote_id", "status", "device_name", "positionless", "image_count", "created_at"})
}

func imageRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"sequence_id", "seq_index", "fingerprint", "path", "captured_at", "lat", "lng", "elevation_m", "heading", "dop", "speed_kmh", "device_name", "interpolated", "created_at"})
}

func TestSidecarRoutes(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.jpg")
	pathB := filepath.Join(dir, "b.jpg")
	lat, lng := -6.2, 106.8
	capturedAt := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)

	memberRows := func() *pgxmock.Rows {
		return imageRows().
			AddRow("seq-1", 0, "img-a", pathA, capturedAt, &lat, &lng, 12.0, (*float64)(nil), (*float64)(nil), (*float64)(nil), "gopro", false, time.Now()).
			AddRow("seq-1", 1, "img-b", pathB, capturedAt.Add(10*time.Second), &lat, &lng, 12.0, (*float64)(nil), (*float64)(nil), (*float64)(nil), "gopro", false, time.Now())
	}

	// write
	mock.ExpectQuery(`SELECT id, remote_id, status, device_name, positionless, image_count, created_at`).
		WithArgs("seq-1").
		WillReturnRows(sequenceRows().AddRow("seq-1", "", sequence.StatusOpen, "gopro", false, 2, time.Now()))
	mock.ExpectQuery(`SELECT sequence_id, seq_index, fingerprint, path, captured_at`).
		WithArgs("seq-1").
		WillReturnRows(memberRows())
	// list
	mock.ExpectQuery(`SELECT sequence_id, seq_index, fingerprint, path, captured_at`).
		WithArgs("seq-1").
		WillReturnRows(memberRows())
	// delete, then delete again on empty disk
	mock.ExpectQuery(`SELECT sequence_id, seq_index, fingerprint, path, captured_at`).
		WithArgs("seq-1").
		WillReturnRows(memberRows())
	mock.ExpectQuery(`SELECT sequence_id, seq_index, fingerprint, path, captured_at`).
		WithArgs("seq-1").
		WillReturnRows(memberRows())

	app := fiber.New()
	catalog := sequence.NewService(mock, sequence.DefaultOptions())
	RegisterRoutes(app.Group("/sequences"), catalog, passThrough)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/sequences/seq-1/sidecars", nil))
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("write sidecars: %v %d", err, resp.StatusCode)
	}
	if _, err := os.Stat(pathA + ".kv"); err != nil {
		t.Fatalf("sidecar for a.jpg missing: %v", err)
	}
	if _, err := os.Stat(pathB + ".kv"); err != nil {
		t.Fatalf("sidecar for b.jpg missing: %v", err)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/sequences/seq-1/sidecars", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("list sidecars: %v %d", err, resp.StatusCode)
	}
	var docs []Doc
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &docs); err != nil {
		t.Fatalf("decode sidecars: %v", err)
	}
	if len(docs) != 2 || docs[0].Filename != "a.jpg" || docs[0].Status != sequence.StatusOpen {
		t.Fatalf("unexpected sidecars: %s", raw)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/sequences/seq-1/sidecars", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("delete sidecars: %v %d", err, resp.StatusCode)
	}
	var res struct {
		Removed int `json:"removed"`
	}
	raw, _ = io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("decode delete response: %v", err)
	}
	if res.Removed != 2 {
		t.Fatalf("expected 2 removed, got %d", res.Removed)
	}
	if _, err := os.Stat(pathA + ".kv"); !os.IsNotExist(err) {
		t.Fatal("sidecar for a.jpg still on disk")
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/sequences/seq-1/sidecars", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("second delete: %v %d", err, resp.StatusCode)
	}
	raw, _ = io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("decode second delete: %v", err)
	}
	if res.Removed != 0 {
		t.Fatalf("expected nothing removed, got %d", res.Removed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSidecarWriteUnknownSequence(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, remote_id, status, device_name, positionless, image_count, created_at`).
		WithArgs("missing").
		WillReturnError(os.ErrNotExist)

	app := fiber.New()
	catalog := sequence.NewService(mock, sequence.DefaultOptions())
	RegisterRoutes(app.Group("/sequences"), catalog, passThrough)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/sequences/missing/sidecars", nil))
	if err != nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v %d", err, resp.StatusCode)
	}
}
