package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/dbpool"
	"github.com/permitguard/permitguard/internal/domain"
	"github.com/permitguard/permitguard/internal/middleware"
	"github.com/permitguard/permitguard/internal/models"
	"github.com/permitguard/permitguard/internal/ws"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log         *logrus.Logger
	Pool        *dbpool.Pool
	Hub         *ws.Hub
	Audit       domain.AuditService
	Integrity   domain.IntegrityService
	Anchors     domain.AnchorService
	Lockout     domain.LockoutService
	Challenges  domain.ChallengeService
	Approvals   domain.ApprovalService
	CORSOrigins []string
	Version     string
	ExposeCodes bool
}

// Router-level limits.
const (
	maxBodySize = 1 << 20 // 1 MB
	rateLimit   = 100     // requests per second per IP
	rateBurst   = 200     // token bucket burst size

	// Code requests and checks are charged per actor.
	challengeRate  = 1
	challengeBurst = 5
)

// setupMiddleware configures all middleware on the Gin engine.
func setupMiddleware(ctx context.Context, r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(middleware.AccessLog(deps.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MaxBodySize(maxBodySize))
	// No origins means no browser consoles; cors.New panics on an empty list.
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     deps.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", middleware.ActorIDHeader, middleware.ActorRoleHeader},
			ExposeHeaders:    []string{middleware.RequestIDHeader},
			MaxAge:           1 * time.Hour,
			AllowCredentials: false,
		}))
	}
	r.Use(middleware.NewRateLimiter(ctx, rateLimit, rateBurst, middleware.ByClientIP).Handler())
	r.Use(middleware.PrometheusMiddleware())

	// Metrics endpoint (unauthenticated, like health).
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// registerRoutes sets up all API route handlers on the given router group.
func registerRoutes(ctx context.Context, api *gin.RouterGroup, deps *RouterDeps) {
	log := deps.Log

	health := NewHealthHandler(deps.Pool, deps.Hub, deps.Anchors, log, deps.Version)
	audit := NewAuditHandler(deps.Audit, deps.Integrity, log)
	anchor := NewAnchorHandler(deps.Anchors, log)
	lockout := NewLockoutHandler(deps.Lockout, log)
	challenges := NewChallengeHandler(deps.Challenges, log, deps.ExposeCodes)
	approvals := NewApprovalHandler(deps.Approvals, log)

	// Health and readiness are unauthenticated.
	api.GET("/health", health.Liveness)
	api.GET("/ready", health.Readiness)

	authed := api.Group("", middleware.Actor(log))
	ops := authed.Group("", middleware.RequireRole(models.ActorAdmin, models.ActorSystem))
	admins := authed.Group("", middleware.RequireRole(models.ActorAdmin))

	// Audit trail.
	authed.GET("/audit", audit.History)
	ops.POST("/audit", audit.Record)
	ops.POST("/audit/restricted-attempts", audit.RecordRestricted)
	admins.GET("/audit/:id/verify", audit.Verify)
	admins.GET("/audit/chain/:subjectId", audit.VerifyChain)

	// Anchor queue.
	admins.GET("/anchor/status", anchor.Status)
	admins.POST("/anchor/dead-letters/retry", anchor.RetryDeadLetters)
	admins.DELETE("/anchor/queue", anchor.Clear)

	// Lockout.
	authed.GET("/lockout/:subjectId", lockout.Check)
	admins.DELETE("/lockout/:subjectId", lockout.Unlock)

	// Verification challenges.
	limited := authed.Group("/challenges",
		middleware.NewRateLimiter(ctx, challengeRate, challengeBurst, middleware.ByActor).Handler())
	limited.POST("", challenges.Request)
	limited.POST("/verify", challenges.Verify)
	limited.GET("/status", challenges.Status)

	// Approvals.
	admins.POST("/approvals", approvals.Create)
	admins.GET("/approvals", approvals.List)
	admins.GET("/approvals/:id", approvals.Get)
	admins.POST("/approvals/:id/votes", approvals.Vote)
	admins.POST("/approvals/:id/reapply", approvals.Reapply)

	// Admin console alerts.
	admins.GET("/ws", wsHandler(ctx, log, deps.Hub, deps.CORSOrigins))
}

// NewRouter creates and configures the Gin engine with all middleware and routes.
func NewRouter(ctx context.Context, deps *RouterDeps) http.Handler {
	r := gin.New()
	setupMiddleware(ctx, r, deps)
	registerRoutes(ctx, r.Group("/api/v1"), deps)

	return r
}
