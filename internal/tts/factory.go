package tts

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voxa/internal/config"
)

// ErrMissingCredential means the provider has no API key configured.
var ErrMissingCredential = errors.New("openai api key is not configured")

// CreateProvider creates a TTS provider based on configuration
func CreateProvider(cfg config.Config, log *slog.Logger) (Provider, error) {
	providerName := strings.ToLower(cfg.TTS.Provider)
	if providerName == "" {
		providerName = "openai"
	}

	switch providerName {
	case "openai":
		return createOpenAIProvider(cfg.OpenAI, log)
	default:
		return nil, fmt.Errorf("unsupported TTS provider: %s. Supported: openai", providerName)
	}
}

func createOpenAIProvider(cfg config.OpenAIConfig, log *slog.Logger) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, log), nil
}
