package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/middleware"
)

// AnchorHandler exposes the anchor queue to administrators.
type AnchorHandler struct {
	anchors domain.AnchorService
	log     *logrus.Logger
}

// NewAnchorHandler creates an AnchorHandler.
func NewAnchorHandler(anchors domain.AnchorService, log *logrus.Logger) *AnchorHandler {
	return &AnchorHandler{anchors: anchors, log: log}
}

// Status handles GET /api/v1/anchor/status.
func (h *AnchorHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.anchors.Status())
}

// RetryDeadLetters handles POST /api/v1/anchor/dead-letters/retry.
func (h *AnchorHandler) RetryDeadLetters(c *gin.Context) {
	n := h.anchors.RetryDeadLetters()

	h.log.WithFields(logrus.Fields{
		"action":   "anchor.retry_dead_letters",
		"actor_id": middleware.ActorID(c),
		"count":    n,
	}).Info("audit")

	c.JSON(http.StatusOK, gin.H{"requeued": n})
}

// Clear handles DELETE /api/v1/anchor/queue.
func (h *AnchorHandler) Clear(c *gin.Context) {
	n := h.anchors.Clear()

	h.log.WithFields(logrus.Fields{
		"action":   "anchor.clear",
		"actor_id": middleware.ActorID(c),
		"count":    n,
	}).Warn("audit")

	c.JSON(http.StatusOK, gin.H{"cleared": n})
}
