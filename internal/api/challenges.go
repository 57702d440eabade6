package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/middleware"
)

// ChallengeHandler serves verification code issue and check. The subject is
// always the calling actor.
type ChallengeHandler struct {
	challenges domain.ChallengeService
	log        *logrus.Logger
	// exposeCodes returns issued codes in the response body. Only set when no
	// delivery channel is wired, such as in local development.
	exposeCodes bool
}

// NewChallengeHandler creates a ChallengeHandler.
func NewChallengeHandler(challenges domain.ChallengeService, log *logrus.Logger, exposeCodes bool) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges, log: log, exposeCodes: exposeCodes}
}

type challengeRequest struct {
	Method  string `json:"method"`
	Purpose string `json:"purpose"`
}

type verifyRequest struct {
	Code    string `json:"code"`
	Method  string `json:"method"`
	Purpose string `json:"purpose"`
}

// Request handles POST /api/v1/challenges.
func (h *ChallengeHandler) Request(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	subjectID := middleware.ActorID(c)

	issued, err := h.challenges.Request(c.Request.Context(), subjectID, req.Method, req.Purpose)
	if err != nil {
		respondServiceError(c, h.log, "challenge.request", err)

		return
	}

	resp := gin.H{
		"method":     issued.Method,
		"purpose":    issued.Purpose,
		"expires_at": issued.ExpiresAt,
	}
	if h.exposeCodes {
		resp["code"] = issued.Code
	}

	c.JSON(http.StatusCreated, resp)
}

// Verify handles POST /api/v1/challenges/verify.
func (h *ChallengeHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")

		return
	}

	subjectID := middleware.ActorID(c)

	if err := h.challenges.Verify(c.Request.Context(), subjectID, req.Code, req.Method, req.Purpose); err != nil {
		respondServiceError(c, h.log, "challenge.verify", err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"verified": true})
}

// Status handles GET /api/v1/challenges/status?purpose=...
func (h *ChallengeHandler) Status(c *gin.Context) {
	status, err := h.challenges.Status(c.Request.Context(), middleware.ActorID(c), c.Query("purpose"))
	if err != nil {
		respondServiceError(c, h.log, "challenge.status", err)

		return
	}

	c.JSON(http.StatusOK, status)
}
