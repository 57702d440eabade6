package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/middleware"
	"github.com/permitguard/permitguard/internal/models"
)

// ApprovalHandler serves multi-admin approval endpoints.
type ApprovalHandler struct {
	approvals domain.ApprovalService
	log       *logrus.Logger
}

// NewApprovalHandler creates an ApprovalHandler.
func NewApprovalHandler(approvals domain.ApprovalService, log *logrus.Logger) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals, log: log}
}

// Create handles POST /api/v1/approvals. The requester is the calling admin.
func (h *ApprovalHandler) Create(c *gin.Context) {
	var req models.CreateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	req.RequestedBy = middleware.ActorID(c)

	r, err := h.approvals.CreateRequest(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, h.log, "approval.create", err)

		return
	}

	h.log.WithFields(logrus.Fields{
		"action":      "approval.create",
		"actor_id":    req.RequestedBy,
		"approval_id": r.ApprovalID,
	}).Info("audit")

	c.JSON(http.StatusCreated, r)
}

// Get handles GET /api/v1/approvals/:id.
func (h *ApprovalHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	r, err := h.approvals.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.log, "approval.get", err)

		return
	}

	c.JSON(http.StatusOK, r)
}

// List handles GET /api/v1/approvals.
func (h *ApprovalHandler) List(c *gin.Context) {
	opts := models.ApprovalQueryOpts{
		Status:    c.Query("status"),
		SubjectID: c.Query("subject_id"),
		Limit:     parseInt(c.DefaultQuery("limit", "50"), 50),
		Offset:    parseOffset(c.DefaultQuery("offset", "0")),
	}

	list, hasMore, err := h.approvals.List(c.Request.Context(), opts)
	if err != nil {
		respondServiceError(c, h.log, "approval.list", err)

		return
	}

	if list == nil {
		list = []models.ApprovalRequest{}
	}

	c.JSON(http.StatusOK, gin.H{"approvals": list, "has_more": hasMore})
}

// Vote handles POST /api/v1/approvals/:id/votes.
func (h *ApprovalHandler) Vote(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req models.CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	voterID := middleware.ActorID(c)

	r, err := h.approvals.CastVote(c.Request.Context(), id, voterID, req)
	if err != nil {
		respondServiceError(c, h.log, "approval.vote", err)

		return
	}

	h.log.WithFields(logrus.Fields{
		"action":      "approval.vote",
		"actor_id":    voterID,
		"approval_id": id,
		"approved":    req.Approved,
		"status":      r.Status,
	}).Info("audit")

	c.JSON(http.StatusOK, r)
}

// Reapply handles POST /api/v1/approvals/:id/reapply.
func (h *ApprovalHandler) Reapply(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	r, applied, err := h.approvals.Reapply(c.Request.Context(), id, middleware.ActorID(c))
	if err != nil {
		respondServiceError(c, h.log, "approval.reapply", err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"approval": r, "applied": applied})
}
