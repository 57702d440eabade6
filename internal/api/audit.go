package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/middleware"
	"github.com/permitguard/permitguard/internal/models"
)

// AuditHandler serves audit recording, history and integrity endpoints.
type AuditHandler struct {
	audit     domain.AuditService
	integrity domain.IntegrityService
	log       *logrus.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditService, integrity domain.IntegrityService, log *logrus.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, integrity: integrity, log: log}
}

// Record handles POST /api/v1/audit. Host services report one sensitive
// mutation. The entry is attributed to the caller's role; a role in the
// body is ignored.
func (h *AuditHandler) Record(c *gin.Context) {
	var in models.AuditInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	in.ActorRole = middleware.ActorRole(c)

	entry, err := h.audit.Record(c.Request.Context(), in)
	if err != nil {
		respondServiceError(c, h.log, "audit.record", err)

		return
	}

	// A fail-open event whose write failed is reported but not persisted.
	if entry == nil {
		c.JSON(http.StatusAccepted, gin.H{"recorded": false})

		return
	}

	c.JSON(http.StatusCreated, entry)
}

type restrictedAttemptRequest struct {
	SubjectID string         `json:"subject_id"`
	Field     string         `json:"field"`
	ActorRole string         `json:"actor_role"`
	Metadata  map[string]any `json:"metadata"`
}

// RecordRestricted handles POST /api/v1/audit/restricted-attempts. The
// reporting service names the role of the actor it refused in actor_role;
// without one the caller's role is used.
func (h *AuditHandler) RecordRestricted(c *gin.Context) {
	var req restrictedAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	if req.ActorRole == "" {
		req.ActorRole = middleware.ActorRole(c)
	}

	entry, err := h.audit.RecordRestrictedAttempt(c.Request.Context(), req.SubjectID, req.Field, req.ActorRole, req.Metadata)
	if err != nil {
		respondServiceError(c, h.log, "audit.restricted_attempt", err)

		return
	}

	if entry == nil {
		c.JSON(http.StatusAccepted, gin.H{"recorded": false})

		return
	}

	c.JSON(http.StatusCreated, entry)
}

// History handles GET /api/v1/audit?subject_id=...
func (h *AuditHandler) History(c *gin.Context) {
	subjectID := c.Query("subject_id")
	if err := validatePathID(subjectID); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "subject_id: "+err.Error())

		return
	}

	if !selfOrAdmin(c, subjectID) {
		return
	}

	since, err := parseSince(c.Query("since"))
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())

		return
	}

	opts := models.AuditQueryOpts{
		EventType: c.Query("event_type"),
		Since:     since,
		Limit:     parseInt(c.DefaultQuery("limit", "50"), 50),
		Offset:    parseOffset(c.DefaultQuery("offset", "0")),
	}

	entries, hasMore, err := h.audit.History(c.Request.Context(), subjectID, opts)
	if err != nil {
		respondServiceError(c, h.log, "audit.history", err)

		return
	}

	if entries == nil {
		entries = []models.AuditEntry{}
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "has_more": hasMore})
}

// Verify handles GET /api/v1/audit/:id/verify. A tampered entry is a
// successful check with valid=false.
func (h *AuditHandler) Verify(c *gin.Context) {
	entryID, ok := pathID(c, "id")
	if !ok {
		return
	}

	report, err := h.integrity.Verify(c.Request.Context(), entryID)
	if err != nil && report == nil {
		respondServiceError(c, h.log, "audit.verify", err)

		return
	}

	h.log.WithFields(logrus.Fields{
		"action":   "audit.verify",
		"actor_id": middleware.ActorID(c),
		"entry_id": entryID,
		"valid":    report.Valid,
	}).Info("audit")

	c.JSON(http.StatusOK, report)
}

// VerifyChain handles GET /api/v1/audit/chain/:subjectId.
func (h *AuditHandler) VerifyChain(c *gin.Context) {
	subjectID, ok := pathID(c, "subjectId")
	if !ok {
		return
	}

	report, err := h.integrity.VerifyChain(c.Request.Context(), subjectID)
	if err != nil {
		respondServiceError(c, h.log, "audit.verify_chain", err)

		return
	}

	c.JSON(http.StatusOK, report)
}
