package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fakes need a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func fakeTranscoder(t *testing.T, command string) *FFmpeg {
	t.Helper()
	f, err := newCommand(command, true, newLogger())
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	return f
}

func TestTranscodePassesBytesThrough(t *testing.T) {
	requireShell(t)
	f := fakeTranscoder(t, "cat")

	input := bytes.Repeat([]byte("mp3-frame"), 20000)
	out, err := f.Transcode(context.Background(), input)
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Fatalf("expected output to equal input (%d bytes), got %d bytes", len(input), len(out))
	}
}

func TestTranscodeFailureModes(t *testing.T) {
	requireShell(t)

	cases := []struct {
		name    string
		command string
		input   []byte
		reason  Reason
		check   func(t *testing.T, te *TranscodeError)
	}{
		{
			name:    "missing binary",
			command: "voxa-no-such-transcoder-binary",
			input:   []byte("x"),
			reason:  ReasonNotFound,
		},
		{
			name:    "non-zero exit",
			command: `sh -c 'cat >/dev/null; echo "Invalid data found" >&2; exit 3'`,
			input:   []byte("not audio"),
			reason:  ReasonExitStatus,
			check: func(t *testing.T, te *TranscodeError) {
				if te.ExitCode != 3 {
					t.Fatalf("expected exit code 3, got %d", te.ExitCode)
				}
				if te.Stderr != "Invalid data found" {
					t.Fatalf("expected stderr tail, got %q", te.Stderr)
				}
			},
		},
		{
			name:    "killed by signal",
			command: `sh -c 'kill -9 $$'`,
			input:   []byte("x"),
			reason:  ReasonSignaled,
			check: func(t *testing.T, te *TranscodeError) {
				if te.Signal != "SIGKILL" {
					t.Fatalf("expected SIGKILL, got %q", te.Signal)
				}
			},
		},
		{
			name:    "stdin closed early",
			command: `sh -c 'exec 0<&-; sleep 0.2'`,
			input:   bytes.Repeat([]byte{0xff}, 1<<20),
			reason:  ReasonWriteInput,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := fakeTranscoder(t, tc.command)
			out, err := f.Transcode(context.Background(), tc.input)
			if out != nil {
				t.Fatalf("expected no output on failure, got %d bytes", len(out))
			}
			var te *TranscodeError
			if !errors.As(err, &te) {
				t.Fatalf("expected TranscodeError, got %T: %v", err, err)
			}
			if te.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s (%v)", tc.reason, te.Reason, err)
			}
			if tc.check != nil {
				tc.check(t, te)
			}
		})
	}
}

func TestTranscodeErrorMessages(t *testing.T) {
	cases := []struct {
		err  *TranscodeError
		want string
	}{
		{&TranscodeError{Reason: ReasonExitStatus, ExitCode: 1}, "ffmpeg exited with code 1. Ensure ffmpeg is installed and supports the requested format."},
		{&TranscodeError{Reason: ReasonSignaled, Signal: "SIGKILL"}, "ffmpeg killed by signal SIGKILL"},
		{&TranscodeError{Reason: ReasonNotFound, Err: errors.New("exec: not found")}, "ffmpeg not available: exec: not found. Install ffmpeg and ensure it is on PATH for 48kHz mono WAV output."},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("got %q, want %q", got, tc.want)
		}
	}
}

func TestNewFFmpegArgs(t *testing.T) {
	f, err := NewFFmpeg("nice -n 5 ffmpeg", false, nil)
	if err != nil {
		t.Fatalf("new ffmpeg: %v", err)
	}
	if f.cmd[0] != "nice" || f.cmd[3] != "ffmpeg" {
		t.Fatalf("unexpected argv prefix: %v", f.cmd[:4])
	}
	tail := f.cmd[len(f.cmd)-1]
	if tail != "pipe:1" {
		t.Fatalf("expected output to stdout, got %q", tail)
	}

	if _, err := NewFFmpeg("   ", false, nil); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := NewFFmpeg(`ffmpeg "unterminated`, false, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestComputeDuration(t *testing.T) {
	cases := []struct {
		size int
		want float64
	}{
		{0, 0},
		{10, 0},
		{WAVHeaderSize, 0},
		{WAVHeaderSize + 96000, 1},
		{WAVHeaderSize + 48000, 0.5},
	}
	for _, tc := range cases {
		buf := make([]byte, tc.size)
		got := ComputeDuration(buf)
		if got != tc.want {
			t.Fatalf("size %d: got %v, want %v", tc.size, got, tc.want)
		}
		if again := ComputeDuration(buf); again != got {
			t.Fatalf("size %d: not deterministic", tc.size)
		}
	}
}

// encodeWAV writes a sine tone with the given layout and returns the file bytes.
func encodeWAV(t *testing.T, sampleRate, channels int, seconds float64) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	frames := int(float64(sampleRate) * seconds)
	data := make([]int, 0, frames*channels)
	for i := 0; i < frames; i++ {
		v := int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		for c := 0; c < channels; c++ {
			data = append(data, v)
		}
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return raw
}

func TestFFmpegOutputFormatIsFixed(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not on PATH")
	}
	f, err := NewFFmpeg("ffmpeg", false, newLogger())
	if err != nil {
		t.Fatalf("new ffmpeg: %v", err)
	}

	inputs := []struct {
		rate, channels int
	}{
		{16000, 1},
		{22050, 2},
		{44100, 2},
	}
	for _, in := range inputs {
		out, err := f.Transcode(context.Background(), encodeWAV(t, in.rate, in.channels, 0.5))
		if err != nil {
			t.Fatalf("%d Hz/%d ch: transcode: %v", in.rate, in.channels, err)
		}

		dec := wav.NewDecoder(bytes.NewReader(out))
		dec.ReadInfo()
		if err := dec.Err(); err != nil {
			t.Fatalf("%d Hz/%d ch: read header: %v", in.rate, in.channels, err)
		}
		if dec.SampleRate != SampleRate || dec.NumChans != Channels || dec.BitDepth != 16 {
			t.Fatalf("%d Hz/%d ch: unexpected header %d Hz, %d ch, %d bit",
				in.rate, in.channels, dec.SampleRate, dec.NumChans, dec.BitDepth)
		}
		if d := ComputeDuration(out); math.Abs(d-0.5) > 0.05 {
			t.Fatalf("%d Hz/%d ch: expected ~0.5s, got %v", in.rate, in.channels, d)
		}
	}
}
