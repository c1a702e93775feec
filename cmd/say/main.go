// Say speaks text through a voxa server on the default audio output.
//
// Usage:
//
//	say [flags] text...
//	echo "hello" | say -voice nova
//	say -out hello.wav "hello"
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"voxa/internal/playback"
	"voxa/internal/playback/speaker"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("VOXA_URL", "http://localhost:4000"), "voxa server base URL")
	token := flag.String("token", os.Getenv("VOXA_TOKEN"), "bearer token (anonymous when empty)")
	voice := flag.String("voice", "", "voice name (server default when empty)")
	language := flag.String("language", "", "language hint, e.g. fr")
	speed := flag.Float64("speed", 1.0, "speaking speed")
	pitch := flag.Float64("pitch", 1.0, "pitch hint")
	meeting := flag.String("meeting", "", "meeting id to link the message to")
	out := flag.String("out", "", "write the WAV to this file instead of playing it")
	listDevices := flag.Bool("devices", false, "list output devices and exit")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	sink := speaker.NewOtoSink(log)
	client := playback.NewClient(playback.Options{
		BaseURL: *server,
		Sink:    sink,
		Log:     log,
		Token: func(context.Context) (string, error) {
			return *token, nil
		},
		OnStateChange: func(s playback.State) {
			if *verbose {
				fmt.Fprintf(os.Stderr, "[%s]\n", s)
			}
		},
	})

	if *listDevices {
		for _, d := range client.OutputDevices() {
			fmt.Printf("%s\t%s\n", d.ID, d.Name)
		}
		return
	}

	text, err := readText(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "say:", err)
		os.Exit(1)
	}

	req := playback.SpeakRequest{
		Text:     text,
		Voice:    *voice,
		Language: *language,
		Speed:    speed,
		Pitch:    pitch,
	}
	if *meeting != "" {
		req.MeetingID = meeting
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		client.Stop()
	}()

	if *out != "" {
		wav, err := client.Fetch(ctx, req)
		if err != nil {
			fail(log, err)
		}
		if err := os.WriteFile(*out, wav, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "say:", err)
			os.Exit(1)
		}
		return
	}

	if err := client.Speak(ctx, req); err != nil {
		fail(log, err)
	}
}

func fail(log *slog.Logger, err error) {
	msg := playback.FriendlyMessage(err)
	if msg == "" {
		os.Exit(130)
	}
	fmt.Fprintln(os.Stderr, msg)
	log.Debug("speak failed", "error", err)
	os.Exit(1)
}

// readText joins the arguments, or reads stdin when there are none.
func readText(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
