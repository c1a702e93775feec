package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultModel = "gpt-4o-mini-tts"

	// provider messages taken from a raw body are cut to this many bytes
	rawMessageLimit = 200
)

// OpenAIProvider implements Provider using the OpenAI audio speech endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.SpeechModel
	log    *slog.Logger
}

// NewOpenAIProvider creates a provider. baseURL may be empty to use the
// public API (it is overridden in tests and for compatible gateways).
func NewOpenAIProvider(apiKey, baseURL, model string, log *slog.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = DefaultModel
	}
	if log == nil {
		log = slog.Default()
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.SpeechModel(model),
		log:    log.With(slog.String("component", "tts"), slog.String("provider", "openai")),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Synthesize makes a single CreateSpeech call. No retries: a repeated call
// would bill and generate audio twice.
func (p *OpenAIProvider) Synthesize(ctx context.Context, req Request) (*Result, error) {
	format := req.Format
	if format == "" {
		format = FormatMP3
	}

	p.log.Debug("calling speech endpoint",
		slog.String("model", string(p.model)),
		slog.String("voice", req.Voice),
		slog.Int("text_length", len(req.Text)),
		slog.Float64("speed", req.Speed))

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          p.model,
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		Instructions:   req.Instructions,
		ResponseFormat: openai.SpeechResponseFormat(format),
		Speed:          req.Speed,
	})
	if err != nil {
		if perr := providerErrorFrom(err); perr != nil {
			return nil, perr
		}
		return nil, fmt.Errorf("openai speech request: %w", err)
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return &Result{Audio: resp.ReadCloser, ContentType: contentType}, nil
}

// providerErrorFrom maps go-openai errors for non-2xx responses. The message
// prefers the structured error.message, then a top-level message field, then
// the raw body cut to rawMessageLimit. Transport errors return nil.
func providerErrorFrom(err error) *ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		msg := apiErr.Message
		if msg == "" {
			msg = "TTS provider error"
		}
		return &ProviderError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    msg,
			Details:    msg,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return parseErrorBody(reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	return nil
}

func parseErrorBody(status int, body string) *ProviderError {
	perr := &ProviderError{StatusCode: status, Message: "TTS provider error", Details: body}

	var parsed struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		switch {
		case parsed.Error != nil && parsed.Error.Message != "":
			perr.Message = parsed.Error.Message
			perr.Details = parsed.Error.Message
		case parsed.Message != "":
			perr.Message = parsed.Message
			perr.Details = parsed.Message
		}
		return perr
	}

	if body != "" {
		perr.Message = truncate(body, rawMessageLimit)
	} else {
		perr.Message = http.StatusText(status)
		perr.Details = perr.Message
	}
	return perr
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
