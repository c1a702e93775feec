// Voxa is the text-to-speech backend: it turns text into a 48 kHz mono WAV
// through an external speech provider and a local ffmpeg, and keeps a
// per-user history of attempts.
//
// Usage:
//
//	server [flags]
//	server -config /path/to/voxa.yaml
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"voxa/internal/api"
	"voxa/internal/audio"
	"voxa/internal/auth"
	"voxa/internal/config"
	"voxa/internal/db"
	"voxa/internal/ledger"
	"voxa/internal/natsserver"
	"voxa/internal/pipeline"
	"voxa/internal/ratelimit"
	"voxa/internal/repository"
	"voxa/internal/storage"
	"voxa/internal/telemetry"
	"voxa/internal/tts"
)

// version is set at build time via ldflags.
var version = "dev"

const (
	shutdownTimeout = 15 * time.Second
	statusRetention = time.Hour
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/voxa.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("voxa %s\n", version)
		os.Exit(0)
	}

	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := config.SetupLogging(cfg.Logging)
	log.Info("voxa starting", "version", version, "environment", cfg.Server.Environment)

	if err := run(cfg, log); err != nil {
		log.Error("voxa stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("voxa stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, *cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Database is optional: without it the ledger is off and the history
	// routes answer 503.
	var repo repository.TTSMessageRepository
	if cfg.Database.URL != "" {
		conn, err := openDatabase(ctx, cfg.Database, log)
		if err != nil {
			log.Warn("database unavailable, continuing without it", "error", err)
		} else {
			defer conn.Close()
			repo = repository.NewSQLRepository(conn, cfg.Database.Driver)
		}
	} else {
		log.Info("DATABASE_URL not set, running without database")
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg.RateLimit, log)
	if err != nil {
		return err
	}
	defer closeLimiter()

	provider, err := tts.CreateProvider(*cfg, log)
	if errors.Is(err, tts.ErrMissingCredential) {
		log.Warn("OPENAI_API_KEY not set, speech requests will fail until it is configured")
		provider = nil
	} else if err != nil {
		return err
	}

	transcoder, err := audio.NewFFmpeg(cfg.Transcoder.Command, !cfg.IsProduction(), log)
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth, log)
	if errors.Is(err, auth.ErrNotConfigured) {
		log.Warn("auth not configured, every caller is anonymous")
		verifier = nil
	} else if err != nil {
		return err
	}

	led := ledger.New(repo, log)
	p := pipeline.New(pipeline.Deps{
		Provider:   provider,
		Transcoder: transcoder,
		Limiter:    limiter,
		Ledger:     led,
		Status:     storage.NewStatusMap(statusRetention),
		Log:        log,
	}, pipeline.Options{
		MaxChars:        cfg.TTS.MaxChars,
		DefaultVoice:    cfg.TTS.DefaultVoice,
		RateLimitWindow: cfg.RateLimit.Window(),
		RateLimitBypass: cfg.RateLimitBypassed(),
	})
	if cfg.RateLimitBypassed() {
		log.Warn("speech rate limit disabled")
	}

	if cfg.IsProduction() || os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewServer(api.Deps{
		Pipeline:    p,
		Repo:        repo,
		Verifier:    verifier,
		FrontendURL: cfg.Server.FrontendURL,
		Log:         log,
	}).Router()

	servers := []*http.Server{{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			log.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining...")
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn("server shutdown failed", "addr", srv.Addr, "error", err)
			}
		}
		return led.Close(sctx)
	})
	return g.Wait()
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	conn, err := db.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(ctx, conn, cfg.Driver); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// newLimiter builds the speech limiter. The nats backend shares counters
// across processes through a JetStream KV bucket, optionally served by an
// embedded server.
func newLimiter(ctx context.Context, cfg config.RateLimitConfig, log *slog.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.Backend != "nats" {
		log.Info("using in-memory rate limiter", "max", cfg.Max, "window", cfg.Window())
		return ratelimit.NewMemory(cfg.Max, cfg.Window()), func() {}, nil
	}

	embedded, err := natsserver.Start(cfg.NATS, log)
	if err != nil {
		return nil, nil, err
	}
	url := cfg.NATS.URL
	if embedded != nil {
		url = embedded.ClientURL()
	}

	nc, err := nats.Connect(url, nats.Name("voxa"), nats.MaxReconnects(-1))
	if err != nil {
		embedded.Shutdown()
		return nil, nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	kv, err := ratelimit.OpenKV(ctx, nc, cfg.NATS.Bucket, cfg.Max, cfg.Window(), log)
	if err != nil {
		nc.Close()
		embedded.Shutdown()
		return nil, nil, err
	}
	log.Info("using nats rate limiter", "url", url, "bucket", cfg.NATS.Bucket, "max", cfg.Max, "window", cfg.Window())

	return kv, func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
		embedded.Shutdown()
	}, nil
}
