package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	queuedomain "github.com/smallbiznis/warmline/internal/callqueue/domain"
	capacitydomain "github.com/smallbiznis/warmline/internal/capacity/domain"
)

type stubCapacity struct {
	capacitydomain.Service
	snapshot capacitydomain.Snapshot
}

func (s *stubCapacity) Snapshot(ctx context.Context) (capacitydomain.Snapshot, error) {
	return s.snapshot, nil
}

type stubQueue struct {
	queuedomain.Service
	queued int64
}

func (s *stubQueue) QueuedCount(ctx context.Context) (int64, error) {
	return s.queued, nil
}

func newConcurrencyServer(snapshot capacitydomain.Snapshot, queued int64) *Server {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	srv := &Server{
		engine:      engine,
		capacitySvc: &stubCapacity{snapshot: snapshot},
		queueSvc:    &stubQueue{queued: queued},
	}
	engine.POST("/api/calls/check-concurrency", srv.CheckConcurrency)
	return srv
}

func postCheckConcurrency(t *testing.T, srv *Server, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(http.MethodPost, "/api/calls/check-concurrency", reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, payload
}

func TestCheckConcurrencyWithFreeSlots(t *testing.T) {
	srv := newConcurrencyServer(capacitydomain.Snapshot{CurrentCalls: 1, MaxCalls: 3}, 0)

	rec, payload := postCheckConcurrency(t, srv, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if payload["can_make_call"] != true {
		t.Fatalf("can_make_call = %v, want true", payload["can_make_call"])
	}
	if payload["current_calls"] != float64(1) || payload["max_calls"] != float64(3) {
		t.Fatalf("unexpected counts: %v", payload)
	}
	if _, ok := payload["queue_position"]; ok {
		t.Fatal("queue_position should be omitted while capacity remains")
	}
}

func TestCheckConcurrencySaturatedReportsQueuePosition(t *testing.T) {
	srv := newConcurrencyServer(capacitydomain.Snapshot{CurrentCalls: 3, MaxCalls: 3}, 4)

	rec, payload := postCheckConcurrency(t, srv, `{"plan_type":"premium"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if payload["can_make_call"] != false {
		t.Fatalf("can_make_call = %v, want false", payload["can_make_call"])
	}
	if payload["queue_position"] != float64(5) {
		t.Fatalf("queue_position = %v, want 5", payload["queue_position"])
	}
}

func TestCheckConcurrencyRejectsUnknownPlan(t *testing.T) {
	srv := newConcurrencyServer(capacitydomain.Snapshot{CurrentCalls: 0, MaxCalls: 3}, 0)

	rec, _ := postCheckConcurrency(t, srv, `{"plan_type":"enterprise"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
