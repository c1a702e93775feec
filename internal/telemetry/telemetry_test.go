package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"voxa/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupStdoutExporter(t *testing.T) {
	cfg := config.Config{
		Server:    config.ServerConfig{Environment: "test"},
		Telemetry: config.TelemetryConfig{Tracing: true, ServiceName: "voxa-test"},
	}
	shutdown, err := Setup(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
