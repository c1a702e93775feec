package api

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voxa/internal/pipeline"
	"voxa/internal/utils"
)

// ttsStreamRequest keeps the loosely typed fields as interface values:
// non-string text is treated as missing and non-numeric speed or pitch as
// not supplied.
type ttsStreamRequest struct {
	Text      interface{} `json:"text"`
	Voice     string      `json:"voice"`
	Language  string      `json:"language"`
	Speed     interface{} `json:"speed"`
	Pitch     interface{} `json:"pitch"`
	MeetingID string      `json:"meeting_id"`
}

// streamTTS handles POST /api/tts/stream.
func (s *Server) streamTTS(c *gin.Context) {
	var body ttsStreamRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		utils.Error(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	text, _ := body.Text.(string)
	req := pipeline.Request{
		Text:     text,
		Voice:    body.Voice,
		Language: body.Language,
		Speed:    number(body.Speed),
		Pitch:    number(body.Pitch),
	}
	if body.MeetingID != "" {
		if id, err := uuid.Parse(body.MeetingID); err == nil {
			req.MeetingID = &id
		} else {
			s.log.Info("ignoring malformed meeting_id", slog.String("meeting_id", body.MeetingID))
		}
	}

	principal := pipeline.Principal{ClientIP: c.ClientIP()}
	if id, ok := userID(c); ok {
		principal.UserID = id
	}

	out, err := s.pipeline.Synthesize(c.Request.Context(), req, principal)
	if err != nil {
		writePipelineError(c, err)
		return
	}

	c.Header("X-Request-ID", out.RequestID)
	if out.MessageID != nil {
		c.Header("X-TTS-Message-ID", out.MessageID.String())
	}
	setRateLimitHeaders(c, out)
	utils.Audio(c, out.ContentType, out.Audio)
}

func writePipelineError(c *gin.Context, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		utils.Error(c, http.StatusInternalServerError, "Unexpected error while generating TTS audio.")
		return
	}

	switch pe.Kind {
	case pipeline.RateLimited:
		secs := int(math.Ceil(pe.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		utils.TooManyRequests(c, secs, gin.H{
			"error":      pe.Message,
			"message":    pe.Details,
			"retryAfter": secs,
			"limit":      pe.Limit,
			"window":     int(math.Ceil(pe.Window.Minutes())),
		})
	case pipeline.ProviderError:
		utils.ErrorWithDetails(c, pe.Status, pe.Message, pe.Details, pe.Status)
	case pipeline.TranscodeUnavailable:
		utils.ErrorWithDetails(c, pe.Status, pe.Message, pe.Details, 0)
	default:
		utils.Error(c, pe.Status, pe.Message)
	}
}

// setRateLimitHeaders writes the RateLimit-* headers for a counted request.
func setRateLimitHeaders(c *gin.Context, out *pipeline.Output) {
	d := out.RateLimit
	if d.Limit == 0 {
		return
	}
	remaining := d.Limit - d.Count
	if remaining < 0 {
		remaining = 0
	}
	reset := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
	if reset < 0 {
		reset = 0
	}
	c.Header("RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("RateLimit-Reset", strconv.Itoa(reset))
}

func number(v interface{}) *float64 {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
