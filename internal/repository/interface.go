package repository

import (
	"context"
	"errors"
	"time"

	"voxa/internal/model"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no row matches the id (and owner, when given).
	ErrNotFound = errors.New("tts message not found")

	// ErrInvalidTransition is returned when a status update would move a
	// row out of a terminal state.
	ErrInvalidTransition = errors.New("tts message status can only move forward from pending")
)

// ListFilter narrows ListByUser results
type ListFilter struct {
	MeetingID *uuid.UUID
	Status    string
	Limit     int
	Offset    int
}

// TTSMessageRepository defines the interface for TTS message data access
type TTSMessageRepository interface {
	// Create inserts a new message row. ID and CreatedAt are filled in when zero.
	Create(ctx context.Context, msg *model.TTSMessage) error

	// UpdateStatus moves a row to status. userID, when non-nil, restricts the
	// update to rows owned by that user. errorMessage is dropped unless the
	// status is failed.
	UpdateStatus(ctx context.Context, id uuid.UUID, userID *uuid.UUID, status string, errorMessage *string) error

	// UpdateDuration records the audio duration in whole seconds
	UpdateDuration(ctx context.Context, id uuid.UUID, userID *uuid.UUID, seconds int) error

	// GetByID retrieves a message owned by userID
	GetByID(ctx context.Context, id, userID uuid.UUID) (*model.TTSMessage, error)

	// ListByUser retrieves messages for a user, newest first
	ListByUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]model.TTSMessage, error)

	// MeetingOwnedBy reports whether the meeting exists and belongs to userID
	MeetingOwnedBy(ctx context.Context, meetingID, userID uuid.UUID) (bool, error)

	// UsageStats counts sent messages, characters requested and meetings
	UsageStats(ctx context.Context, userID uuid.UUID) (*model.UsageStats, error)

	// VoiceUsage counts messages per voice, most used first
	VoiceUsage(ctx context.Context, userID uuid.UUID) ([]model.VoiceUsage, error)

	// DailyActivity counts messages per UTC day of week, Sunday first.
	// Days without messages are omitted.
	DailyActivity(ctx context.Context, userID uuid.UUID) ([]model.DailyActivity, error)

	// MonthlyUsage totals meetings and characters per UTC month since the given time
	MonthlyUsage(ctx context.Context, userID uuid.UUID, since time.Time) ([]model.MonthlyUsage, error)

	// Ping checks database connectivity
	Ping(ctx context.Context) error
}
