package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/middleware"
)

// LockoutHandler serves lockout status and administrative unlock.
type LockoutHandler struct {
	lockout domain.LockoutService
	log     *logrus.Logger
}

// NewLockoutHandler creates a LockoutHandler.
func NewLockoutHandler(lockout domain.LockoutService, log *logrus.Logger) *LockoutHandler {
	return &LockoutHandler{lockout: lockout, log: log}
}

// Check handles GET /api/v1/lockout/:subjectId.
func (h *LockoutHandler) Check(c *gin.Context) {
	subjectID, ok := pathID(c, "subjectId")
	if !ok || !selfOrAdmin(c, subjectID) {
		return
	}

	status, err := h.lockout.Check(c.Request.Context(), subjectID)
	if err != nil {
		respondServiceError(c, h.log, "lockout.check", err)

		return
	}

	c.JSON(http.StatusOK, status)
}

// Unlock handles DELETE /api/v1/lockout/:subjectId.
func (h *LockoutHandler) Unlock(c *gin.Context) {
	subjectID, ok := pathID(c, "subjectId")
	if !ok {
		return
	}

	adminID := middleware.ActorID(c)
	if err := h.lockout.Unlock(c.Request.Context(), subjectID, adminID); err != nil {
		respondServiceError(c, h.log, "lockout.unlock", err)

		return
	}

	h.log.WithFields(logrus.Fields{
		"action":     "lockout.unlock",
		"actor_id":   adminID,
		"subject_id": subjectID,
	}).Info("audit")

	c.Status(http.StatusNoContent)
}
