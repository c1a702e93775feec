// Package pipeline turns a text request into a WAV buffer: validation, rate
// limiting, the ledger row, the provider call and the transcode.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"voxa/internal/audio"
	"voxa/internal/ledger"
	"voxa/internal/model"
	"voxa/internal/ratelimit"
	"voxa/internal/storage"
	"voxa/internal/tts"
)

const (
	DefaultMaxChars = 500
	DefaultVoice    = "alloy"

	msgMissingCredential = "OPENAI_API_KEY is not configured on the server."
	msgEmptyAudio        = "TTS provider returned no audio stream."
	msgTranscode         = "Audio conversion unavailable."
	msgUnexpected        = "Unexpected error while generating TTS audio."
	msgRateLimited       = "Too many TTS requests"
)

var tracer = otel.Tracer("voxa/pipeline")

// Request is the caller's input. Nil Speed and Pitch mean "not supplied".
type Request struct {
	Text      string
	Voice     string
	Language  string
	Speed     *float64
	Pitch     *float64
	MeetingID *uuid.UUID
}

// Principal identifies who is asking. UserID is uuid.Nil for anonymous
// callers, who are limited by ClientIP and never recorded in the ledger.
type Principal struct {
	UserID   uuid.UUID
	ClientIP string
}

func (p Principal) Authenticated() bool {
	return p.UserID != uuid.Nil
}

// Output is a complete WAV response.
type Output struct {
	Audio           []byte
	ContentType     string
	RequestID       string
	MessageID       *uuid.UUID
	DurationSeconds float64
	RateLimit       ratelimit.Decision
}

// Deps are the pipeline's collaborators. Provider is nil when no credential
// is configured. Ledger and Status may be nil.
type Deps struct {
	Provider   tts.Provider
	Transcoder audio.Transcoder
	Limiter    ratelimit.Limiter
	Ledger     *ledger.Ledger
	Status     *storage.StatusMap
	Log        *slog.Logger
}

type Options struct {
	MaxChars        int
	DefaultVoice    string
	RateLimitWindow time.Duration

	// RateLimitBypass skips the limiter entirely.
	RateLimitBypass bool

	// CancelOnDisconnect ties the provider and transcoder calls to the
	// caller's context. Off by default: a started request runs to completion
	// even if the client goes away.
	CancelOnDisconnect bool
}

type Pipeline struct {
	provider   tts.Provider
	transcoder audio.Transcoder
	limiter    ratelimit.Limiter
	ledger     *ledger.Ledger
	status     *storage.StatusMap
	log        *slog.Logger
	opts       Options
}

func New(deps Deps, opts Options) *Pipeline {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.DefaultVoice == "" {
		opts.DefaultVoice = DefaultVoice
	}
	limiter := deps.Limiter
	if limiter == nil || opts.RateLimitBypass {
		limiter = ratelimit.Bypass()
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	status := deps.Status
	if status == nil {
		status = storage.NewStatusMap(time.Hour)
	}
	return &Pipeline{
		provider:   deps.Provider,
		transcoder: deps.Transcoder,
		limiter:    limiter,
		ledger:     deps.Ledger,
		status:     status,
		log:        log.With(slog.String("component", "pipeline")),
		opts:       opts,
	}
}

// Status returns the last known status of a request handled by this process.
func (p *Pipeline) Status(requestID string) (storage.Attempt, bool) {
	return p.status.Get(requestID)
}

// Synthesize runs one request to completion. Every failure is a *Error.
func (p *Pipeline) Synthesize(ctx context.Context, req Request, principal Principal) (*Output, error) {
	if !p.opts.CancelOnDisconnect {
		ctx = context.WithoutCancel(ctx)
	}
	ctx, span := tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.Bool("tts.authenticated", principal.Authenticated()),
	))
	defer span.End()

	out, err := p.synthesize(ctx, req, principal)
	if err != nil {
		var pe *Error
		if !errors.As(err, &pe) {
			pe = &Error{Kind: Unexpected, Status: http.StatusInternalServerError, Message: msgUnexpected, Err: err}
			err = pe
		}
		requestsTotal.WithLabelValues(pe.Kind.String()).Inc()
		span.SetAttributes(attribute.String("tts.error_kind", pe.Kind.String()))
		span.SetStatus(codes.Error, pe.Message)
		return nil, err
	}

	requestsTotal.WithLabelValues("success").Inc()
	outputBytes.Observe(float64(len(out.Audio)))
	span.SetAttributes(
		attribute.String("tts.request_id", out.RequestID),
		attribute.Int("tts.output_bytes", len(out.Audio)),
	)
	return out, nil
}

func (p *Pipeline) synthesize(ctx context.Context, req Request, principal Principal) (*Output, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, &Error{Kind: InvalidInput, Status: http.StatusBadRequest, Message: "Text is required."}
	}
	if utf8.RuneCountInString(text) > p.opts.MaxChars {
		return nil, &Error{
			Kind:    InvalidInput,
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("Text is too long. Maximum allowed length is %d characters.", p.opts.MaxChars),
		}
	}

	if p.provider == nil {
		return nil, &Error{Kind: ServiceUnavailable, Status: http.StatusInternalServerError, Message: msgMissingCredential}
	}

	decision, err := p.checkRateLimit(ctx, principal)
	if err != nil {
		return nil, err
	}

	voice := req.Voice
	if voice == "" {
		voice = p.opts.DefaultVoice
	}
	speed := 1.0
	if req.Speed != nil {
		speed = *req.Speed
	}
	speed = tts.ClampSpeed(speed)
	pitch := 1.0
	if req.Pitch != nil {
		pitch = *req.Pitch
	}

	requestID := uuid.NewString()
	p.status.Set(requestID, model.StatusPending, "")
	log := p.log.With(slog.String("request_id", requestID))

	var messageID uuid.UUID
	if principal.Authenticated() {
		var language *string
		if req.Language != "" {
			language = &req.Language
		}
		if id, ok := p.ledger.Create(ctx, ledger.Attempt{
			UserID:    principal.UserID,
			MeetingID: req.MeetingID,
			Text:      text,
			Voice:     voice,
			Language:  language,
			Speed:     speed,
			Pitch:     pitch,
		}); ok {
			messageID = id
			p.status.SetMessageID(requestID, id.String())
		}
	}

	fail := func(e *Error) (*Output, error) {
		p.status.Set(requestID, model.StatusFailed, e.Message)
		p.ledger.MarkFailed(messageID, e.ledgerMessage())
		log.Warn("tts request failed",
			slog.String("kind", e.Kind.String()),
			slog.Int("status", e.Status),
			slog.String("error", e.Error()))
		return nil, e
	}

	compressed, perr := p.callProvider(ctx, tts.Request{
		Text:         text,
		Voice:        voice,
		Format:       tts.FormatMP3,
		Speed:        speed,
		Instructions: tts.BuildInstructions(req.Language, req.Pitch),
	})
	if perr != nil {
		return fail(perr)
	}

	wav, terr := p.transcode(ctx, compressed)
	if terr != nil {
		return fail(terr)
	}

	duration := audio.ComputeDuration(wav)
	p.status.Set(requestID, model.StatusSent, "")
	p.ledger.MarkSent(messageID)
	p.ledger.SetDuration(messageID, int(math.Round(duration)))

	log.Info("tts request completed",
		slog.Int("text_length", utf8.RuneCountInString(text)),
		slog.Int("output_bytes", len(wav)),
		slog.Float64("duration_seconds", duration))

	out := &Output{
		Audio:           wav,
		ContentType:     audio.ContentType,
		RequestID:       requestID,
		DurationSeconds: duration,
		RateLimit:       decision,
	}
	if messageID != uuid.Nil {
		out.MessageID = &messageID
	}
	return out, nil
}

// checkRateLimit counts the request. Limiter backend failures let the request
// through.
func (p *Pipeline) checkRateLimit(ctx context.Context, principal Principal) (ratelimit.Decision, error) {
	subject := ""
	if principal.Authenticated() {
		subject = principal.UserID.String()
	}
	key := ratelimit.KeyFor(subject, principal.ClientIP)

	d, err := p.limiter.Allow(ctx, key)
	if err != nil {
		p.log.Warn("rate limiter unavailable, allowing request",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return ratelimit.Decision{Allowed: true}, nil
	}
	if d.Allowed {
		return d, nil
	}

	rateLimitedTotal.Inc()
	window := p.opts.RateLimitWindow
	if window <= 0 {
		window = d.RetryAfter
	}
	minutes := int(math.Ceil(window.Minutes()))
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return d, &Error{
		Kind:       RateLimited,
		Status:     http.StatusTooManyRequests,
		Message:    msgRateLimited,
		Details:    fmt.Sprintf("Please wait %d %s before making more requests. Consider upgrading your plan for higher limits.", minutes, unit),
		RetryAfter: d.RetryAfter,
		Limit:      d.Limit,
		Window:     window,
	}
}

func (p *Pipeline) callProvider(ctx context.Context, req tts.Request) ([]byte, *Error) {
	ctx, span := tracer.Start(ctx, "tts.provider", trace.WithAttributes(
		attribute.String("tts.provider", p.provider.Name()),
		attribute.String("tts.voice", req.Voice),
	))
	defer span.End()
	start := time.Now()

	res, err := p.provider.Synthesize(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		var perr *tts.ProviderError
		if errors.As(err, &perr) {
			return nil, &Error{
				Kind:    ProviderError,
				Status:  perr.StatusCode,
				Message: perr.Message,
				Details: perr.Details,
				Err:     err,
			}
		}
		return nil, &Error{Kind: Unexpected, Status: http.StatusInternalServerError, Message: err.Error(), Err: err}
	}
	if res == nil || res.Audio == nil {
		return nil, emptyAudio()
	}
	defer res.Audio.Close()

	body, err := io.ReadAll(res.Audio)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, &Error{
			Kind:    Unexpected,
			Status:  http.StatusInternalServerError,
			Message: fmt.Sprintf("reading provider audio: %v", err),
			Err:     err,
		}
	}
	providerLatencyMS.Observe(float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.Int("tts.provider_bytes", len(body)))

	if len(body) == 0 {
		return nil, emptyAudio()
	}
	return body, nil
}

func emptyAudio() *Error {
	return &Error{
		Kind:    UpstreamEmptyResponse,
		Status:  http.StatusBadGateway,
		Message: msgEmptyAudio,
		Details: strings.TrimSuffix(msgEmptyAudio, "."),
	}
}

func (p *Pipeline) transcode(ctx context.Context, compressed []byte) ([]byte, *Error) {
	ctx, span := tracer.Start(ctx, "tts.transcode", trace.WithAttributes(
		attribute.Int("tts.input_bytes", len(compressed)),
	))
	defer span.End()
	start := time.Now()

	wav, err := p.transcoder.Transcode(ctx, compressed)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return nil, &Error{Kind: Unexpected, Status: http.StatusInternalServerError, Message: "request canceled", Err: err}
		}
		var te *audio.TranscodeError
		if errors.As(err, &te) {
			span.SetAttributes(attribute.String("tts.transcode_reason", te.Reason.String()))
		}
		return nil, &Error{
			Kind:    TranscodeUnavailable,
			Status:  http.StatusServiceUnavailable,
			Message: msgTranscode,
			Details: err.Error(),
			Err:     err,
		}
	}
	transcodeLatencyMS.Observe(float64(time.Since(start).Milliseconds()))
	return wav, nil
}
