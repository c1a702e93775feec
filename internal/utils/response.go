package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// Error aborts the request with {"error": msg}.
func Error(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{
		"error": msg,
	})
}

// ErrorWithDetails aborts with {"error", "details"} and, when statusCode is
// non-zero, the upstream status as "statusCode".
func ErrorWithDetails(c *gin.Context, code int, msg, details string, statusCode int) {
	body := gin.H{
		"error":   msg,
		"details": details,
	}
	if statusCode != 0 {
		body["statusCode"] = statusCode
	}
	c.AbortWithStatusJSON(code, body)
}

// TooManyRequests aborts with 429, a Retry-After header and the JSON body.
func TooManyRequests(c *gin.Context, retryAfterSeconds int, body gin.H) {
	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	c.AbortWithStatusJSON(429, body)
}

// Audio writes a complete binary body with an exact Content-Length.
func Audio(c *gin.Context, contentType string, data []byte) {
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(200, contentType, data)
}
