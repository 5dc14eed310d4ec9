package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// reportLimiter throttles proctoring reports per student.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	reportLimiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	validator.Setup()

	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware(log))
	router.Use(requestLogger(log))

	if cfg.MetricsEnabled {
		metrics.Init()
		router.Use(metrics.Middleware())
		router.GET("/metrics", metrics.Handler())
	}

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── Attempts (student JWT + single device) ────────────────────────
	attempts := router.Group("/api/v1/attempts")
	attempts.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService, log),
	)
	{
		attempts.GET("/history", handlers.Attempt.GetHistory)
		attempts.POST("/start/:exam_id", handlers.Attempt.StartAttempt)
		attempts.PUT("/:id/save", handlers.Attempt.SaveAnswers)
		attempts.POST("/:id/submit", handlers.Attempt.SubmitAttempt)
		attempts.POST("/:id/report", reportLimiter.Middleware(), handlers.Attempt.ReportEvent)
		attempts.GET("/:id/result", handlers.Attempt.GetResult)
	}

	// ─── WebSocket (token in query) ────────────────────────────────────
	wsGroup := router.Group("/ws/v1")
	wsGroup.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService, log),
	)
	{
		wsGroup.GET("/attempts/:id/stream", handlers.WS.AttemptStream)
	}

	return router
}

// requestLogger logs one line per request through the request-scoped logger.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		l := logger.FromContext(c.Request.Context(), log)

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= http.StatusInternalServerError:
			ev = l.Error()
		case status >= http.StatusBadRequest:
			ev = l.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
