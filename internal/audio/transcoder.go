// Package audio converts provider audio into the fixed output format served
// to clients: RIFF/WAV, 48 kHz, mono, signed 16-bit little-endian PCM.
package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"

	"github.com/mattn/go-shellwords"
)

const (
	SampleRate     = 48000
	Channels       = 1
	BytesPerSample = 2
	WAVHeaderSize  = 44
	ContentType    = "audio/wav"
)

// Transcoder turns one complete encoded audio buffer into a complete WAV
// buffer. Input is never streamed partially.
type Transcoder interface {
	Transcode(ctx context.Context, input []byte) ([]byte, error)
}

// Reason classifies why a transcode failed.
type Reason int

const (
	ReasonNotFound Reason = iota + 1
	ReasonExitStatus
	ReasonSignaled
	ReasonWriteInput
)

func (r Reason) String() string {
	switch r {
	case ReasonNotFound:
		return "not_found"
	case ReasonExitStatus:
		return "exit_status"
	case ReasonSignaled:
		return "signaled"
	case ReasonWriteInput:
		return "write_input"
	default:
		return "unknown"
	}
}

type TranscodeError struct {
	Reason   Reason
	ExitCode int
	Signal   string
	Stderr   string
	Err      error
}

func (e *TranscodeError) Error() string {
	switch e.Reason {
	case ReasonNotFound:
		return fmt.Sprintf("ffmpeg not available: %v. Install ffmpeg and ensure it is on PATH for 48kHz mono WAV output.", e.Err)
	case ReasonExitStatus:
		return fmt.Sprintf("ffmpeg exited with code %d. Ensure ffmpeg is installed and supports the requested format.", e.ExitCode)
	case ReasonSignaled:
		return fmt.Sprintf("ffmpeg killed by signal %s", e.Signal)
	case ReasonWriteInput:
		return fmt.Sprintf("ffmpeg input write failed: %v", e.Err)
	default:
		return fmt.Sprintf("ffmpeg failed: %v", e.Err)
	}
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// FFmpegArgs are the arguments appended to the configured command.
// +bitexact drops the LIST/INFO chunk so the header stays WAVHeaderSize bytes.
func FFmpegArgs() []string {
	return []string{
		"-nostdin",
		"-i", "pipe:0",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "1",
		"-fflags", "+bitexact",
		"-f", "wav",
		"pipe:1",
	}
}

// FFmpeg runs one ffmpeg subprocess per call.
type FFmpeg struct {
	cmd       []string
	logStderr bool
	log       *slog.Logger
}

// NewFFmpeg parses command (for example "ffmpeg" or "nice -n 5 ffmpeg") into
// argv and appends FFmpegArgs.
func NewFFmpeg(command string, logStderr bool, log *slog.Logger) (*FFmpeg, error) {
	f, err := newCommand(command, logStderr, log)
	if err != nil {
		return nil, err
	}
	f.cmd = append(f.cmd, FFmpegArgs()...)
	return f, nil
}

func newCommand(command string, logStderr bool, log *slog.Logger) (*FFmpeg, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transcoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcoder command empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &FFmpeg{
		cmd:       args,
		logStderr: logStderr,
		log:       log.With(slog.String("component", "transcoder")),
	}, nil
}

// Transcode writes input to the process stdin, buffers all of stdout and
// returns it once the process exits cleanly.
func (f *FFmpeg) Transcode(ctx context.Context, input []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, f.cmd[0], f.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transcoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transcoder stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("transcoder stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &TranscodeError{Reason: ReasonNotFound, Err: err}
	}

	writeErr := make(chan error, 1)
	go func() {
		_, err := stdin.Write(input)
		if cerr := stdin.Close(); err == nil {
			err = cerr
		}
		writeErr <- err
	}()

	stderrDone := make(chan string, 1)
	go func() {
		stderrDone <- f.drainStderr(stderr)
	}()

	var out bytes.Buffer
	_, readErr := io.Copy(&out, stdout)
	stderrTail := <-stderrDone
	wErr := <-writeErr
	waitErr := cmd.Wait()

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				return nil, &TranscodeError{Reason: ReasonSignaled, Signal: signalName(ws.Signal()), Stderr: stderrTail, Err: waitErr}
			}
			return nil, &TranscodeError{Reason: ReasonExitStatus, ExitCode: exitErr.ExitCode(), Stderr: stderrTail, Err: waitErr}
		}
		return nil, fmt.Errorf("transcoder wait: %w", waitErr)
	}
	if wErr != nil {
		return nil, &TranscodeError{Reason: ReasonWriteInput, Stderr: stderrTail, Err: wErr}
	}
	if readErr != nil {
		return nil, fmt.Errorf("transcoder read output: %w", readErr)
	}

	return out.Bytes(), nil
}

const stderrTailSize = 1024

// drainStderr consumes the process stderr, debug-logging it line by line
// (progress lines excluded) and returning its last bytes.
func (f *FFmpeg) drainStderr(r io.Reader) string {
	var tail []byte
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail = append(tail, line...)
		tail = append(tail, '\n')
		if len(tail) > stderrTailSize {
			tail = tail[len(tail)-stderrTailSize:]
		}
		if f.logStderr && !strings.HasPrefix(line, "frame=") {
			f.log.Debug("ffmpeg", slog.String("line", line))
		}
	}
	// keep the pipe drained so the process never blocks on a full stderr
	_, _ = io.Copy(io.Discard, r)
	return strings.TrimSpace(string(tail))
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGPIPE:
		return "SIGPIPE"
	default:
		return fmt.Sprintf("%d", int(sig))
	}
}

// ComputeDuration returns the playback length of a WAV buffer in the
// output format. Buffers not longer than the header are 0 seconds.
func ComputeDuration(wav []byte) float64 {
	if len(wav) <= WAVHeaderSize {
		return 0
	}
	return float64(len(wav)-WAVHeaderSize) / float64(SampleRate*Channels*BytesPerSample)
}
