package playback

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrCanceled is returned when Stop or a newer Speak interrupts a cycle.
	ErrCanceled = errors.New("playback canceled")

	// ErrEmptyInput is returned before any request is made for blank text.
	ErrEmptyInput = errors.New("text is required")

	// ErrEmptyAudio is returned when the server answered 200 with no bytes.
	ErrEmptyAudio = errors.New("TTS response missing body")

	// ErrDeviceSelectionUnsupported is returned by sinks that can only play
	// on the system default output.
	ErrDeviceSelectionUnsupported = errors.New("output device selection is not supported")
)

const maxDetailsLength = 200

// APIError is a non-2xx answer from the TTS server.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return e.Message
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// decodeAPIError reads the error envelope. The most specific readable text
// wins: error, then message, then details (unwrapping an OpenAI error object
// and cutting long raw text).
func decodeAPIError(resp *http.Response) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	isJSON := false
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		isJSON = mt == "application/json"
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		e.Message = "Too many requests. Please wait a moment and try again."
		if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
			e.Message = rateLimitMessage(e.RetryAfter)
		}
		if isJSON {
			var body errorBody
			if json.Unmarshal(raw, &body) == nil {
				if m := firstNonEmpty(body.Error, body.Message); m != "" {
					e.Message = m
				}
			}
		}
		return e
	}

	fallback := fmt.Sprintf("TTS failed (%d)", resp.StatusCode)
	if !isJSON {
		e.Message = firstNonEmpty(strings.TrimSpace(string(raw)), fallback)
		return e
	}

	var body errorBody
	_ = json.Unmarshal(raw, &body)
	e.Message = firstNonEmpty(body.Error, body.Message, fallback)
	if body.Details != "" && body.Details != e.Message {
		e.Message = detailsMessage(body.Details, e.Message)
	}
	return e
}

func detailsMessage(details, current string) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(details), &nested); err == nil {
		if nested.Error.Message != "" {
			return nested.Error.Message
		}
		return current
	}
	if len(details) > maxDetailsLength {
		return details[:maxDetailsLength]
	}
	return details
}

func rateLimitMessage(retryAfter time.Duration) string {
	minutes := int(math.Ceil(retryAfter.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Rate limit exceeded. Please wait %d %s before trying again.", minutes, unit)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
