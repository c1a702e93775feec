// Package ledger records speech attempts in the message repository. Every
// write is best effort: failures are logged and counted, never returned.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voxa/internal/model"
	"voxa/internal/repository"
)

const (
	// MaxErrorLength caps the stored error_message, in characters.
	MaxErrorLength = 500

	writeTimeout = 10 * time.Second
)

var writeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tts_ledger_errors_total",
	Help: "Message ledger writes that failed, by operation.",
}, []string{"op"})

// Attempt is the data recorded for one authenticated speech request.
type Attempt struct {
	UserID    uuid.UUID
	MeetingID *uuid.UUID
	Text      string
	Voice     string
	Language  *string
	Speed     float64
	Pitch     float64
}

// Ledger wraps a repository. A Ledger built on a nil repository does nothing.
type Ledger struct {
	repo repository.TTSMessageRepository
	log  *slog.Logger
	wg   sync.WaitGroup
}

func New(repo repository.TTSMessageRepository, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{repo: repo, log: log.With(slog.String("component", "ledger"))}
}

// Enabled reports whether a database is configured.
func (l *Ledger) Enabled() bool {
	return l != nil && l.repo != nil
}

// Create inserts a pending row and returns its id. ok is false when nothing
// was written; the caller carries on without a ledger row.
func (l *Ledger) Create(ctx context.Context, a Attempt) (id uuid.UUID, ok bool) {
	if !l.Enabled() {
		return uuid.Nil, false
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	meetingID := a.MeetingID
	if meetingID != nil {
		owned, err := l.repo.MeetingOwnedBy(ctx, *meetingID, a.UserID)
		if err != nil {
			l.log.Warn("meeting ownership check failed, dropping meeting reference",
				slog.String("meeting_id", meetingID.String()),
				slog.String("error", err.Error()))
			meetingID = nil
		} else if !owned {
			l.log.Info("meeting not owned by user, dropping meeting reference",
				slog.String("meeting_id", meetingID.String()),
				slog.String("user_id", a.UserID.String()))
			meetingID = nil
		}
	}

	msg := &model.TTSMessage{
		ID:         uuid.New(),
		UserID:     a.UserID,
		MeetingID:  meetingID,
		TextInput:  a.Text,
		TextLength: len([]rune(a.Text)),
		VoiceUsed:  a.Voice,
		Language:   a.Language,
		Speed:      a.Speed,
		Pitch:      a.Pitch,
		Status:     model.StatusPending,
	}
	if err := l.repo.Create(ctx, msg); err != nil {
		writeErrors.WithLabelValues("create").Inc()
		l.log.Error("failed to create tts message",
			slog.String("user_id", a.UserID.String()),
			slog.String("error", err.Error()))
		return uuid.Nil, false
	}

	l.log.Debug("tts message created", slog.String("message_id", msg.ID.String()))
	return msg.ID, true
}

// MarkFailed records a failure and waits for the write to finish, so the row
// is settled before the error reaches the caller.
func (l *Ledger) MarkFailed(id uuid.UUID, message string) {
	if !l.Enabled() || id == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	msg := truncate(message, MaxErrorLength)
	if err := l.repo.UpdateStatus(ctx, id, nil, model.StatusFailed, &msg); err != nil {
		writeErrors.WithLabelValues("mark_failed").Inc()
		l.log.Error("failed to mark tts message failed",
			slog.String("message_id", id.String()),
			slog.String("error", err.Error()))
	}
}

// MarkSent records success in the background.
func (l *Ledger) MarkSent(id uuid.UUID) {
	l.detach("mark_sent", id, func(ctx context.Context) error {
		return l.repo.UpdateStatus(ctx, id, nil, model.StatusSent, nil)
	})
}

// SetDuration stores the audio duration in the background.
func (l *Ledger) SetDuration(id uuid.UUID, seconds int) {
	l.detach("set_duration", id, func(ctx context.Context) error {
		return l.repo.UpdateDuration(ctx, id, nil, seconds)
	})
}

func (l *Ledger) detach(op string, id uuid.UUID, write func(ctx context.Context) error) {
	if !l.Enabled() || id == uuid.Nil {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := write(ctx); err != nil {
			writeErrors.WithLabelValues(op).Inc()
			l.log.Error("tts message write failed",
				slog.String("op", op),
				slog.String("message_id", id.String()),
				slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until all background writes have finished.
func (l *Ledger) Wait() {
	if l == nil {
		return
	}
	l.wg.Wait()
}

// Close drains background writes, giving up when ctx is done.
func (l *Ledger) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
