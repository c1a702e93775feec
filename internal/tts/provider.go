// Package tts talks to the external speech provider.
package tts

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
)

const (
	MinSpeed = 0.25
	MaxSpeed = 4.0

	FormatMP3 = "mp3"
)

// Request is one synthesis call. Speed must already be clamped.
type Request struct {
	Text         string
	Voice        string
	Format       string
	Speed        float64
	Instructions string
}

// Result carries the provider's audio. The caller owns Audio and must close it.
type Result struct {
	Audio       io.ReadCloser
	ContentType string
}

// Provider defines the interface for text-to-speech providers
type Provider interface {
	// Synthesize performs exactly one provider call. Non-success responses
	// are returned as *ProviderError.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// Name returns the name of the provider (e.g., "openai")
	Name() string
}

// ProviderError is a non-success response from the provider. Message is the
// most specific human-readable text found; Details is the full text.
type ProviderError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts provider returned %d: %s", e.StatusCode, e.Message)
}

// ClampSpeed bounds v into the provider's accepted speed range.
func ClampSpeed(v float64) float64 {
	if math.IsNaN(v) {
		return 1.0
	}
	return math.Min(MaxSpeed, math.Max(MinSpeed, v))
}

// BuildInstructions renders the descriptive hints sent alongside the text.
// pitch is nil when the caller did not supply one.
func BuildInstructions(language string, pitch *float64) string {
	var parts []string
	if language != "" {
		parts = append(parts, fmt.Sprintf("Speak in %s.", language))
	}
	if pitch != nil {
		parts = append(parts, fmt.Sprintf("Use a pitch of %.1fx (best-effort).", *pitch))
	}
	return strings.Join(parts, " ")
}
