package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voxa/internal/model"
	"voxa/internal/repository"
	"voxa/internal/utils"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	maxMessageChars  = 500
	maxDuration      = 86400
)

// listMessages handles GET /api/tts/messages
func (s *Server) listMessages(c *gin.Context) {
	user, _ := userID(c)

	filter := repository.ListFilter{Limit: defaultListLimit}
	if v := c.Query("meeting_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			utils.Error(c, http.StatusBadRequest, "invalid meeting_id")
			return
		}
		filter.MeetingID = &id
	}
	if v := c.Query("status"); v != "" {
		filter.Status = v
	}
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		filter.Limit = min(n, maxListLimit)
	}
	if n, err := strconv.Atoi(c.Query("offset")); err == nil && n > 0 {
		filter.Offset = n
	}

	messages, err := s.repo.ListByUser(c.Request.Context(), user, filter)
	if err != nil {
		s.log.Error("error fetching tts messages", slog.String("error", err.Error()))
		utils.Error(c, http.StatusInternalServerError, "Failed to fetch TTS messages")
		return
	}
	c.JSON(http.StatusOK, messages)
}

// getMessage handles GET /api/tts/messages/:id
func (s *Server) getMessage(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	user, _ := userID(c)

	msg, err := s.repo.GetByID(c.Request.Context(), id, user)
	if errors.Is(err, repository.ErrNotFound) {
		utils.Error(c, http.StatusNotFound, "TTS message not found")
		return
	}
	if err != nil {
		s.log.Error("error fetching tts message", slog.String("error", err.Error()))
		utils.Error(c, http.StatusInternalServerError, "Failed to fetch TTS message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

type createMessageRequest struct {
	MeetingID *uuid.UUID `json:"meeting_id"`
	TextInput string     `json:"text_input"`
	VoiceUsed string     `json:"voice_used"`
	Language  *string    `json:"language"`
	Speed     *float64   `json:"speed"`
	Pitch     *float64   `json:"pitch"`
}

// createMessage handles POST /api/tts/messages: a client logging a message
// it already played.
func (s *Server) createMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "text_input is required")
		return
	}
	if req.TextInput == "" {
		utils.Error(c, http.StatusBadRequest, "text_input is required")
		return
	}
	if utf8.RuneCountInString(req.TextInput) > maxMessageChars {
		utils.Error(c, http.StatusBadRequest, "Text input exceeds 500 character limit")
		return
	}

	ctx := c.Request.Context()
	user, _ := userID(c)

	if req.MeetingID != nil {
		owned, err := s.repo.MeetingOwnedBy(ctx, *req.MeetingID, user)
		if err != nil {
			s.log.Error("error checking meeting ownership", slog.String("error", err.Error()))
			utils.Error(c, http.StatusInternalServerError, "Failed to create TTS message")
			return
		}
		if !owned {
			utils.Error(c, http.StatusNotFound, "Meeting not found")
			return
		}
	}

	msg := &model.TTSMessage{
		UserID:     user,
		MeetingID:  req.MeetingID,
		TextInput:  req.TextInput,
		TextLength: utf8.RuneCountInString(req.TextInput),
		VoiceUsed:  orDefault(req.VoiceUsed, "alloy"),
		Language:   req.Language,
		Speed:      positiveOr(req.Speed, 1.0),
		Pitch:      positiveOr(req.Pitch, 1.0),
		Status:     model.StatusSent,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		s.log.Error("error creating tts message", slog.String("error", err.Error()))
		utils.Error(c, http.StatusInternalServerError, "Failed to create TTS message")
		return
	}

	created, err := s.repo.GetByID(ctx, msg.ID, user)
	if err != nil {
		c.JSON(http.StatusCreated, msg)
		return
	}
	c.JSON(http.StatusCreated, created)
}

type updateStatusRequest struct {
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message"`
}

// updateMessageStatus handles PUT /api/tts/messages/:id/status
func (s *Server) updateMessageStatus(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !model.ValidStatus(req.Status) {
		utils.Error(c, http.StatusBadRequest, "Invalid status")
		return
	}
	if req.ErrorMessage != nil && *req.ErrorMessage == "" {
		req.ErrorMessage = nil
	}

	ctx := c.Request.Context()
	user, _ := userID(c)

	err := s.repo.UpdateStatus(ctx, id, &user, req.Status, req.ErrorMessage)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		utils.Error(c, http.StatusNotFound, "TTS message not found")
		return
	case errors.Is(err, repository.ErrInvalidTransition):
		utils.Error(c, http.StatusConflict, "TTS message status can only move from pending to sent or failed")
		return
	case err != nil:
		s.log.Error("error updating tts message status", slog.String("error", err.Error()))
		utils.Error(c, http.StatusInternalServerError, "Failed to update TTS message status")
		return
	}

	s.respondWithMessage(c, id, user)
}

type updateDurationRequest struct {
	AudioDurationSeconds interface{} `json:"audio_duration_seconds"`
}

// updateMessageDuration handles PATCH /api/tts/messages/:id/duration, sent by
// clients that measured playback length themselves.
func (s *Server) updateMessageDuration(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}

	var req updateDurationRequest
	_ = c.ShouldBindJSON(&req)
	duration, ok := parseDuration(req.AudioDurationSeconds)
	if !ok {
		utils.Error(c, http.StatusBadRequest, "audio_duration_seconds must be a number between 0 and 86400")
		return
	}

	ctx := c.Request.Context()
	user, _ := userID(c)

	err := s.repo.UpdateDuration(ctx, id, &user, int(math.Round(duration)))
	if errors.Is(err, repository.ErrNotFound) {
		utils.Error(c, http.StatusNotFound, "TTS message not found")
		return
	}
	if err != nil {
		s.log.Error("error updating tts message duration", slog.String("error", err.Error()))
		utils.Error(c, http.StatusInternalServerError, "Failed to update duration")
		return
	}

	s.respondWithMessage(c, id, user)
}

func (s *Server) respondWithMessage(c *gin.Context, id, user uuid.UUID) {
	msg, err := s.repo.GetByID(c.Request.Context(), id, user)
	if err != nil {
		s.log.Error("error reloading tts message", slog.String("error", err.Error()))
		utils.Error(c, http.StatusInternalServerError, "Failed to fetch TTS message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

func messageID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.Error(c, http.StatusNotFound, "TTS message not found")
		return uuid.Nil, false
	}
	return id, true
}

// parseDuration accepts a JSON number or a numeric string.
func parseDuration(v interface{}) (float64, bool) {
	var d float64
	switch t := v.(type) {
	case float64:
		d = t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		d = f
	default:
		return 0, false
	}
	if math.IsNaN(d) || d < 0 || d > maxDuration {
		return 0, false
	}
	return d, true
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func positiveOr(v *float64, def float64) float64 {
	if v == nil || *v == 0 {
		return def
	}
	return *v
}
