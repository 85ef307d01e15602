package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
)

type stubDispatcher struct{ running bool }

func (d *stubDispatcher) Running() bool { return d.running }

// brokenStore fails every flow-state read, as an unreachable database would.
type brokenStore struct{ *store.InMemoryStore }

func (s *brokenStore) GetFlowState(ctx context.Context, actor int64) (*models.FlowState, error) {
	return nil, errors.New("connection refused")
}

func getJSON(t *testing.T, h http.Handler, path string) (int, models.APIResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	return rec.Code, body
}

func TestHealthAlwaysOK(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), &stubDispatcher{}, time.Minute)

	code, body := getJSON(t, s.Handler(), "/health")
	if code != http.StatusOK {
		t.Errorf("status %d", code)
	}
	if body.Status != string(models.APIStatusOK) {
		t.Errorf("body %+v", body)
	}
}

func TestHealthMethodNotAllowed(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), &stubDispatcher{}, time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status %d", rec.Code)
	}
}

func TestReadyWhenEverythingUp(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), &stubDispatcher{running: true}, time.Minute)
	s.Beat()

	code, body := getJSON(t, s.Handler(), "/ready")
	if code != http.StatusOK {
		t.Errorf("status %d, body %+v", code, body)
	}
}

func TestReadyFailsWhenDispatcherStopped(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), &stubDispatcher{running: false}, time.Minute)

	code, body := getJSON(t, s.Handler(), "/ready")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status %d", code)
	}
	if body.Message != "dispatcher not running" {
		t.Errorf("message %q", body.Message)
	}
}

func TestReadyFailsWhenStoreUnreachable(t *testing.T) {
	st := &brokenStore{InMemoryStore: store.NewInMemoryStore()}
	s := NewServer(st, &stubDispatcher{running: true}, time.Minute)

	code, body := getJSON(t, s.Handler(), "/ready")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status %d", code)
	}
	if body.Message != "store unreachable" {
		t.Errorf("message %q", body.Message)
	}
}

func TestReadyFailsWhenHeartbeatStale(t *testing.T) {
	s := NewServer(store.NewInMemoryStore(), &stubDispatcher{running: true}, time.Minute)
	s.mu.Lock()
	s.lastBeat = time.Now().Add(-4 * time.Minute)
	s.mu.Unlock()

	code, body := getJSON(t, s.Handler(), "/ready")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status %d", code)
	}
	if body.Message != "background loop stalled" {
		t.Errorf("message %q", body.Message)
	}

	// A fresh beat recovers readiness.
	s.Beat()
	code, _ = getJSON(t, s.Handler(), "/ready")
	if code != http.StatusOK {
		t.Errorf("status after beat %d", code)
	}
}

func TestBuildStoreSelectsBackend(t *testing.T) {
	st, err := buildStore(nil)
	if err != nil {
		t.Fatalf("buildStore failed: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*store.InMemoryStore); !ok {
		t.Errorf("expected in-memory store, got %T", st)
	}
}
