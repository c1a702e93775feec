package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voxa/internal/utils"
)

// requireDatabase stops message routes when no database is configured.
func (s *Server) requireDatabase(c *gin.Context) {
	if s.repo == nil {
		utils.Error(c, http.StatusServiceUnavailable, "Database not configured")
		return
	}
	c.Next()
}
