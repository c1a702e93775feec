package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"voxa/internal/model"

	"github.com/google/uuid"
)

const messageColumns = `
	t.id, t.user_id, t.meeting_id, m.title, t.text_input, t.text_length,
	t.voice_used, t.language, t.speed, t.pitch, t.status, t.error_message,
	t.audio_duration_seconds, t.created_at`

type sqlRepository struct {
	db       *sql.DB
	postgres bool
}

// NewSQLRepository creates a repository over db. driver is "postgres" or
// "sqlite"; queries are written with ? placeholders and rebound for postgres.
func NewSQLRepository(db *sql.DB, driver string) TTSMessageRepository {
	return &sqlRepository{
		db:       db,
		postgres: driver == "postgres",
	}
}

func (r *sqlRepository) rebind(query string) string {
	if !r.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// Create creates a new TTS message record
func (r *sqlRepository) Create(ctx context.Context, msg *model.TTSMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = model.StatusPending
	}

	query := `
		INSERT INTO tts_messages (
			id, user_id, meeting_id, text_input, text_length, voice_used,
			language, speed, pitch, status, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		msg.ID,
		msg.UserID,
		msg.MeetingID,
		msg.TextInput,
		msg.TextLength,
		msg.VoiceUsed,
		msg.Language,
		msg.Speed,
		msg.Pitch,
		msg.Status,
		msg.ErrorMessage,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create TTS message: %w", err)
	}

	return nil
}

// UpdateStatus sets status and error_message. Terminal rows only accept
// their own status again, and only failed rows keep an error message.
func (r *sqlRepository) UpdateStatus(ctx context.Context, id uuid.UUID, userID *uuid.UUID, status string, errorMessage *string) error {
	if !model.ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	if status != model.StatusFailed {
		errorMessage = nil
	}

	query := `
		UPDATE tts_messages
		SET status = ?, error_message = ?
		WHERE id = ? AND (status = 'pending' OR status = ?)
	`
	args := []interface{}{status, errorMessage, id, status}
	if userID != nil {
		query += " AND user_id = ?"
		args = append(args, *userID)
	}

	res, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update TTS message status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	exists, err := r.exists(ctx, id, userID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

// UpdateDuration records the audio duration for a message
func (r *sqlRepository) UpdateDuration(ctx context.Context, id uuid.UUID, userID *uuid.UUID, seconds int) error {
	query := `UPDATE tts_messages SET audio_duration_seconds = ? WHERE id = ?`
	args := []interface{}{seconds, id}
	if userID != nil {
		query += " AND user_id = ?"
		args = append(args, *userID)
	}

	res, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update TTS message duration: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqlRepository) exists(ctx context.Context, id uuid.UUID, userID *uuid.UUID) (bool, error) {
	query := `SELECT 1 FROM tts_messages WHERE id = ?`
	args := []interface{}{id}
	if userID != nil {
		query += " AND user_id = ?"
		args = append(args, *userID)
	}

	var one int
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up TTS message: %w", err)
	}
	return true, nil
}

// GetByID retrieves a TTS message by ID for its owner
func (r *sqlRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*model.TTSMessage, error) {
	query := `SELECT ` + messageColumns + `
		FROM tts_messages t
		LEFT JOIN meetings m ON t.meeting_id = m.id
		WHERE t.id = ? AND t.user_id = ?
	`

	msg, err := scanMessage(r.db.QueryRowContext(ctx, r.rebind(query), id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get TTS message: %w", err)
	}
	return msg, nil
}

// ListByUser retrieves TTS messages for a user with optional filters
func (r *sqlRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]model.TTSMessage, error) {
	query := `SELECT ` + messageColumns + `
		FROM tts_messages t
		LEFT JOIN meetings m ON t.meeting_id = m.id
		WHERE t.user_id = ?`
	args := []interface{}{userID}

	if filter.MeetingID != nil {
		query += " AND t.meeting_id = ?"
		args = append(args, *filter.MeetingID)
	}
	if filter.Status != "" {
		query += " AND t.status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY t.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query TTS messages: %w", err)
	}
	defer rows.Close()

	messages := make([]model.TTSMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan TTS message: %w", err)
		}
		messages = append(messages, *msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return messages, nil
}

// MeetingOwnedBy checks meeting ownership
func (r *sqlRepository) MeetingOwnedBy(ctx context.Context, meetingID, userID uuid.UUID) (bool, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT id FROM meetings WHERE id = ? AND user_id = ?`),
		meetingID, userID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check meeting ownership: %w", err)
	}
	return true, nil
}

func (r *sqlRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*model.TTSMessage, error) {
	var msg model.TTSMessage
	var createdAt time.Time

	err := row.Scan(
		&msg.ID,
		&msg.UserID,
		&msg.MeetingID,
		&msg.MeetingTitle,
		&msg.TextInput,
		&msg.TextLength,
		&msg.VoiceUsed,
		&msg.Language,
		&msg.Speed,
		&msg.Pitch,
		&msg.Status,
		&msg.ErrorMessage,
		&msg.AudioDurationSeconds,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	msg.CreatedAt = createdAt
	return &msg, nil
}
