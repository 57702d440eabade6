package api_test

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/permitguard/permitguard/internal/api"
	"github.com/permitguard/permitguard/internal/models"
)

func TestLiveness_ReturnsOK(t *testing.T) {
	t.Parallel()

	anchors := &mockAnchors{status: models.QueueStatus{
		QueueLength: 3,
		LedgerOn:    true,
		DeadLetters: []models.DeadLetter{{Reason: "queue_full"}},
	}}
	h := api.NewHealthHandler(nil, nil, anchors, testLogger(), "test-v1")

	r := gin.New()
	r.GET("/health", h.Liveness)

	w := doRequest(r, anonymous, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := decode(t, w)
	if body["status"] != "ok" || body["version"] != "test-v1" {
		t.Errorf("body = %v", body)
	}
	if body["database"] != "not_configured" {
		t.Errorf("database = %v", body["database"])
	}
	if body["anchor_queue_length"] != float64(3) || body["anchor_dead_letters"] != float64(1) {
		t.Errorf("anchor fields = %v / %v", body["anchor_queue_length"], body["anchor_dead_letters"])
	}
	if v, ok := body["schema_version"].(float64); !ok || v < 1 {
		t.Errorf("schema_version = %v", body["schema_version"])
	}
}

func TestReadiness_WithoutDatabase(t *testing.T) {
	t.Parallel()

	h := api.NewHealthHandler(nil, nil, nil, testLogger(), "test-v1")

	r := gin.New()
	r.GET("/ready", h.Readiness)

	w := doRequest(r, anonymous, http.MethodGet, "/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestRouter_HealthIsPublic(t *testing.T) {
	r := newTestServices().router(t)

	if w := doRequest(r, anonymous, http.MethodGet, "/api/v1/health", ""); w.Code != http.StatusOK {
		t.Errorf("health: got %d", w.Code)
	}
	if w := doRequest(r, anonymous, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Errorf("metrics: got %d", w.Code)
	}
}
