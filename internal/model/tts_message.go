package model

import (
	"time"

	"github.com/google/uuid"
)

// Message statuses. A row only ever moves pending -> sent or pending -> failed.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// TTSMessage represents one recorded text-to-speech attempt
type TTSMessage struct {
	ID                   uuid.UUID  `json:"id"`
	UserID               uuid.UUID  `json:"user_id"`
	MeetingID            *uuid.UUID `json:"meeting_id"`
	MeetingTitle         *string    `json:"meeting_title,omitempty"`
	TextInput            string     `json:"text_input"`
	TextLength           int        `json:"text_length"`
	VoiceUsed            string     `json:"voice_used"`
	Language             *string    `json:"language"`
	Speed                float64    `json:"speed"`
	Pitch                float64    `json:"pitch"`
	Status               string     `json:"status"`
	ErrorMessage         *string    `json:"error_message"`
	AudioDurationSeconds *int       `json:"audio_duration_seconds"`
	CreatedAt            time.Time  `json:"created_at"`
}
