package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voxa/internal/auth"
	"voxa/internal/pipeline"
	"voxa/internal/ratelimit"
	"voxa/internal/repository"
)

const (
	apiRateLimitMax    = 100
	apiRateLimitWindow = 15 * time.Minute
)

// Deps wires the HTTP layer. Repo and Verifier may be nil: without a
// database the message routes answer 503, without a verifier every caller
// is anonymous.
type Deps struct {
	Pipeline    *pipeline.Pipeline
	Repo        repository.TTSMessageRepository
	Verifier    *auth.Verifier
	APILimiter  ratelimit.Limiter
	FrontendURL string
	Log         *slog.Logger
}

type Server struct {
	pipeline    *pipeline.Pipeline
	repo        repository.TTSMessageRepository
	verifier    *auth.Verifier
	apiLimiter  ratelimit.Limiter
	frontendURL string
	log         *slog.Logger
}

func NewServer(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	limiter := deps.APILimiter
	if limiter == nil {
		limiter = ratelimit.NewMemory(apiRateLimitMax, apiRateLimitWindow)
	}
	return &Server{
		pipeline:    deps.Pipeline,
		repo:        deps.Repo,
		verifier:    deps.Verifier,
		apiLimiter:  limiter,
		frontendURL: deps.FrontendURL,
		log:         log.With(slog.String("component", "api")),
	}
}

// Router builds the gin engine with middleware and every route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	r.Use(corsMiddleware(s.frontendURL))
	r.Use(requestLogger(s.log))
	r.Use(optionalAuth(s.verifier))

	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(apiRateLimit(s.apiLimiter, s.log))
	{
		api.GET("/health", s.healthCheck)

		t := api.Group("/tts")
		t.POST("/stream", s.streamTTS)

		m := t.Group("/messages", requireAuth(), s.requireDatabase)
		m.GET("", s.listMessages)
		m.POST("", s.createMessage)
		m.GET("/:id", s.getMessage)
		m.PUT("/:id/status", s.updateMessageStatus)
		m.PATCH("/:id/duration", s.updateMessageDuration)

		a := api.Group("/analytics", requireAuth(), s.requireDatabase)
		a.GET("/stats", s.usageStats)
		a.GET("/voices", s.voiceStats)
		a.GET("/monthly", s.monthlyStats)
		a.GET("/daily-activity", s.dailyActivity)
	}
}

// healthCheck reports the server and database state.
func (s *Server) healthCheck(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"database": "not-configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.repo.Ping(ctx); err != nil {
		s.log.Error("database health check failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":   "error",
			"database": "error",
			"message":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": "connected",
	})
}
