package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"voxa/internal/utils"
)

const (
	defaultMonths = 6
	maxMonths     = 24
)

// usageStats handles GET /api/analytics/stats
func (s *Server) usageStats(c *gin.Context) {
	user, _ := userID(c)

	stats, err := s.repo.UsageStats(c.Request.Context(), user)
	if err != nil {
		s.log.Error("error fetching usage stats", slog.String("error", err.Error()))
		utils.Error(c, http.StatusInternalServerError, "Failed to fetch analytics stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// voiceStats handles GET /api/analytics/voices
func (s *Server) voiceStats(c *gin.Context) {
	user, _ := userID(c)

	stats, err := s.repo.VoiceUsage(c.Request.Context(), user)
	if err != nil {
		s.log.Error("error fetching voice stats", slog.String("error", err.Error()))
		utils.Error(c, http.StatusInternalServerError, "Failed to fetch voice stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// monthlyStats handles GET /api/analytics/monthly?months=N (1..24, default 6)
func (s *Server) monthlyStats(c *gin.Context) {
	user, _ := userID(c)

	months := defaultMonths
	if n, err := strconv.Atoi(c.Query("months")); err == nil && n > 0 {
		months = min(n, maxMonths)
	}
	since := time.Now().UTC().AddDate(0, -months, 0)

	stats, err := s.repo.MonthlyUsage(c.Request.Context(), user, since)
	if err != nil {
		s.log.Error("error fetching monthly stats", slog.String("error", err.Error()))
		utils.Error(c, http.StatusInternalServerError, "Failed to fetch monthly stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// dailyActivity handles GET /api/analytics/daily-activity
func (s *Server) dailyActivity(c *gin.Context) {
	user, _ := userID(c)

	activity, err := s.repo.DailyActivity(c.Request.Context(), user)
	if err != nil {
		s.log.Error("error fetching daily activity", slog.String("error", err.Error()))
		utils.Error(c, http.StatusInternalServerError, "Failed to fetch daily activity")
		return
	}
	c.JSON(http.StatusOK, activity)
}
