package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voxa/internal/auth"
	"voxa/internal/ratelimit"
	"voxa/internal/utils"
)

const (
	ctxUserID    = "user_id"
	ctxUserEmail = "user_email"
)

// corsMiddleware allows the configured frontend origin with credentials.
func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		h.Add("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger logs one line per request after it completes.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			slog.String("client_ip", c.ClientIP()),
		}
		if id, ok := userID(c); ok {
			attrs = append(attrs, slog.String("user_id", id.String()))
		}

		switch {
		case c.Writer.Status() >= 500:
			log.Error("request", attrs...)
		case c.Writer.Status() >= 400:
			log.Warn("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	}
}

// optionalAuth attaches the caller's identity when a valid bearer token is
// present. It never rejects a request.
func optionalAuth(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}
		if token, ok := auth.BearerToken(c.GetHeader("Authorization")); ok {
			if id, err := v.Verify(token); err == nil {
				c.Set(ctxUserID, id.UserID)
				c.Set(ctxUserEmail, id.Email)
			}
		}
		c.Next()
	}
}

// requireAuth rejects requests that optionalAuth could not resolve.
func requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.BearerToken(c.GetHeader("Authorization")); !ok {
			utils.Error(c, http.StatusUnauthorized, "Authentication required")
			return
		}
		if _, ok := userID(c); !ok {
			utils.Error(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		c.Next()
	}
}

// apiRateLimit is the general guard over every /api route.
func apiRateLimit(l ratelimit.Limiter, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := ""
		if id, ok := userID(c); ok {
			subject = id.String()
		}
		d, err := l.Allow(c.Request.Context(), ratelimit.KeyFor(subject, c.ClientIP()))
		if err != nil {
			log.Warn("api rate limiter unavailable", slog.String("error", err.Error()))
			c.Next()
			return
		}
		if !d.Allowed {
			utils.TooManyRequests(c, d.RetryAfterSeconds(), gin.H{
				"error":   "Too many API requests",
				"message": "Please wait before making more requests.",
			})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}
