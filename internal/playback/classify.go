package playback

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Category groups errors into the handful of messages a user is shown.
type Category string

const (
	CategoryNone       Category = ""
	CategoryCanceled   Category = "canceled"
	CategoryRateLimit  Category = "rate_limit"
	CategoryQuota      Category = "quota"
	CategoryProvider   Category = "provider"
	CategoryNetwork    Category = "network"
	CategoryLocalTool  Category = "local_tool"
	CategoryEmptyInput Category = "empty_input"
	CategoryGeneric    Category = "generic"
)

const (
	msgTooManyRequests = "Too many requests. Please wait a moment and try again."
	msgQuota           = "Your OpenAI account has no remaining quota. Add a payment method at https://platform.openai.com/account/billing to use text-to-speech."
	msgProvider        = "The server's text-to-speech service isn't configured or is temporarily unavailable. Make sure OPENAI_API_KEY is set in the server .env file and the server has been restarted."
	msgNetwork         = "Could not reach the TTS server. Check your connection and try again."
	msgLocalTool       = "Audio conversion or playback is unavailable. Make sure ffmpeg is installed on the server and an audio output device is available."
	msgEmptyInput      = "Please enter some text to speak."
	msgGeneric         = "Something went wrong while generating speech. Please try again."
)

// Classify picks a category from typed errors first and falls back to
// matching the message text.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}
	if errors.Is(err, ErrCanceled) {
		return CategoryCanceled
	}
	if errors.Is(err, ErrEmptyInput) {
		return CategoryEmptyInput
	}

	msg := strings.ToLower(err.Error())
	if isQuota(msg) {
		return CategoryQuota
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return CategoryRateLimit
		}
		if apiErr.StatusCode == http.StatusServiceUnavailable && isLocalTool(msg) {
			return CategoryLocalTool
		}
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return CategoryNetwork
	}

	return classifyMessage(msg)
}

func classifyMessage(msg string) Category {
	switch {
	case strings.Contains(msg, "too many requests"), strings.Contains(msg, "rate limit"):
		return CategoryRateLimit
	case isLocalTool(msg):
		return CategoryLocalTool
	case strings.Contains(msg, "tts provider"),
		strings.Contains(msg, "openai_api_key"),
		strings.Contains(msg, "not configured"),
		strings.Contains(msg, "500"):
		return CategoryProvider
	case strings.Contains(msg, "failed to fetch"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"):
		return CategoryNetwork
	case strings.Contains(msg, "text is required"):
		return CategoryEmptyInput
	}
	return CategoryGeneric
}

func isQuota(msg string) bool {
	return strings.Contains(msg, "insufficient_quota") ||
		strings.Contains(msg, "exceeded your current quota")
}

func isLocalTool(msg string) bool {
	return strings.Contains(msg, "ffmpeg") ||
		strings.Contains(msg, "audio conversion") ||
		strings.Contains(msg, "audio output")
}

// FriendlyMessage is the one line shown to a user for err. Cancellation has
// no message.
func FriendlyMessage(err error) string {
	switch Classify(err) {
	case CategoryNone, CategoryCanceled:
		return ""
	case CategoryRateLimit:
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			return rateLimitMessage(apiErr.RetryAfter)
		}
		return msgTooManyRequests
	case CategoryQuota:
		return msgQuota
	case CategoryProvider:
		return msgProvider
	case CategoryNetwork:
		return msgNetwork
	case CategoryLocalTool:
		return msgLocalTool
	case CategoryEmptyInput:
		return msgEmptyInput
	}
	return msgGeneric
}
