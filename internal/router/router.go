package router

import (
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session   *handler.SessionHandler
	WS        *handler.WSHandler
	Analytics *handler.AnalyticsHandler
	Monitor   *handler.MonitorHandler
	Health    *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	verifier *service.TokenVerifier,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())

	router.GET("/health", handlers.Health.Health)

	// ─── 1. Candidate API (JWT) ────────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireJWT(verifier))
	{
		api.POST("/assessments/:assessment_id/sessions", handlers.Session.StartSession)

		sessions := api.Group("/sessions/:session_id")
		sessions.GET("", handlers.Session.GetSession)
		sessions.POST("/answers", handlers.Session.RecordAnswer)
		sessions.GET("/answers", handlers.Session.GetAnswers)
		sessions.POST("/violations", handlers.Session.ReportViolation)
		sessions.POST("/time", handlers.Session.SnapshotTime)
		sessions.POST("/complete", handlers.Session.CompleteSession)
		sessions.GET("/review", handlers.Session.ReviewSession)
	}

	// ─── 2. Session view stream (token in query) ───────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(verifier))
	{
		ws.GET("/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Proctor API ────────────────────────────────────────────────
	proctor := router.Group("/api/v1/proctor/assessments/:assessment_id")
	proctor.Use(
		middleware.RequireJWT(verifier),
		middleware.RequireRole(service.RoleProctor),
	)
	{
		reports := proctor.Group("")
		reports.Use(middleware.Brotli(brotli.DefaultCompression, middleware.DefaultBrotliMinLength))
		reports.GET("/analytics", handlers.Analytics.GetCohort)
		reports.GET("/heatmap", handlers.Analytics.GetHeatmap)

		proctor.GET("/monitor", handlers.Monitor.MonitorAssessmentSSE)
	}

	return router
}
