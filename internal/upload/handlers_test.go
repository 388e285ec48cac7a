package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func passThrough(c *fiber.Ctx) error { return c.Next() }

func newTestApp(orch *Orchestrator) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app.Group("/uploads"), orch, passThrough)
	return app
}

func TestRunsEndpointWait(t *testing.T) {
	catalog := newFakeCatalog(uploadSeq("seq-a", "gopro", "a1"))
	tr := newTestTracker(t, &memStore{})
	orch := NewOrchestrator(catalog, tr, newFakeClient(), nil, false)
	app := newTestApp(orch)

	req := httptest.NewRequest(http.MethodPost, "/uploads/runs?wait=true", strings.NewReader(`{"force_close":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rep Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if rep.Status != StatusDone || rep.Uploaded != 1 || !rep.ForceClose {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRunsEndpointAsync(t *testing.T) {
	catalog := newFakeCatalog(uploadSeq("seq-a", "gopro", "a1"))
	tr := newTestTracker(t, &memStore{})
	orch := NewOrchestrator(catalog, tr, newFakeClient(), nil, false)
	app := newTestApp(orch)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/uploads/runs", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var rep Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if rep.ID == "" || rep.Status != StatusRunning {
		t.Fatalf("unexpected snapshot: %+v", rep)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		getResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/uploads/runs/"+rep.ID, nil))
		if err != nil {
			t.Fatalf("poll error: %v", err)
		}
		var got Report
		if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if got.Status != StatusRunning {
			if got.Status != StatusDone || got.Uploaded != 1 {
				t.Fatalf("unexpected final report: %+v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunsEndpointList(t *testing.T) {
	catalog := newFakeCatalog()
	tr := newTestTracker(t, &memStore{})
	orch := NewOrchestrator(catalog, tr, newFakeClient(), nil, false)
	app := newTestApp(orch)

	_ = orch.Run(context.Background(), RunOptions{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/uploads/runs", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var reps []Report
	if err := json.NewDecoder(resp.Body).Decode(&reps); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(reps) != 1 || reps[0].Status != StatusDone {
		t.Fatalf("unexpected runs: %+v", reps)
	}
}

func TestRunsEndpointNotFound(t *testing.T) {
	catalog := newFakeCatalog()
	tr := newTestTracker(t, &memStore{})
	orch := NewOrchestrator(catalog, tr, newFakeClient(), nil, false)
	app := newTestApp(orch)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/uploads/runs/nope", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRunsEndpointBadBody(t *testing.T) {
	catalog := newFakeCatalog()
	tr := newTestTracker(t, &memStore{})
	orch := NewOrchestrator(catalog, tr, newFakeClient(), nil, false)
	app := newTestApp(orch)

	req := httptest.NewRequest(http.MethodPost, "/uploads/runs", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
