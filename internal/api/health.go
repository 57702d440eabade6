// Package api provides the HTTP surface for permitguard.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/db"
	"github.com/permitguard/permitguard/internal/dbpool"
	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/ws"
)

// HealthHandler serves health check endpoints.
type HealthHandler struct {
	pool      *dbpool.Pool
	hub       *ws.Hub
	anchors   domain.AnchorService
	log       *logrus.Logger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a HealthHandler. pool, hub and anchors may be nil.
func NewHealthHandler(pool *dbpool.Pool, hub *ws.Hub, anchors domain.AnchorService, log *logrus.Logger, version string) *HealthHandler {
	return &HealthHandler{
		pool:      pool,
		hub:       hub,
		anchors:   anchors,
		log:       log,
		version:   version,
		startTime: time.Now(),
	}
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	SchemaVersion int     `json:"schema_version"`
	Database      string  `json:"database"`
	DBAcquired    int32   `json:"db_conns_acquired"`
	DBIdle        int32   `json:"db_conns_idle"`
	WSClients     int     `json:"ws_clients"`
	LedgerEnabled bool    `json:"ledger_enabled"`
	AnchorQueue   int     `json:"anchor_queue_length"`
	DeadLetters   int     `json:"anchor_dead_letters"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Liveness handles GET /api/v1/health.
func (h *HealthHandler) Liveness(c *gin.Context) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		SchemaVersion: db.SchemaVersion(),
		Database:      "connected",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}

	// Best-effort database ping (non-fatal for liveness).
	if h.pool != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.pool.HealthCheck(ctx); err != nil {
			resp.Database = "disconnected"
		}
		resp.DBAcquired, resp.DBIdle = h.pool.Stats()
	} else {
		resp.Database = "not_configured"
	}

	if h.hub != nil {
		resp.WSClients = h.hub.ClientCount()
	}

	if h.anchors != nil {
		st := h.anchors.Status()
		resp.LedgerEnabled = st.LedgerOn
		resp.AnchorQueue = st.QueueLength
		resp.DeadLetters = len(st.DeadLetters)
	}

	c.JSON(http.StatusOK, resp)
}

// Readiness handles GET /api/v1/ready and checks the database and schema.
func (h *HealthHandler) Readiness(c *gin.Context) {
	checks := map[string]string{
		"database": "ok",
		"schema":   "ok",
	}
	status := "ready"
	statusCode := http.StatusOK

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if h.pool == nil {
		c.JSON(http.StatusServiceUnavailable, readinessResponse{
			Status: "not_ready",
			Checks: map[string]string{"database": "not_configured", "schema": "unknown"},
		})

		return
	}

	if err := h.pool.HealthCheck(ctx); err != nil {
		h.log.WithError(err).Error("readiness: database health check failed")
		checks["database"] = "error"
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	if checks["database"] == "ok" {
		if err := h.checkSchema(ctx); err != nil {
			h.log.WithError(err).Error("readiness: schema check failed")
			checks["schema"] = "error"
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
		}
	} else {
		checks["schema"] = "unknown"
	}

	c.JSON(statusCode, readinessResponse{
		Status: status,
		Checks: checks,
	})
}

// checkSchema verifies the audit table is reachable.
func (h *HealthHandler) checkSchema(ctx context.Context) error {
	var exists bool
	err := h.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM audit_entries LIMIT 1)").Scan(&exists)
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}

	return nil
}
