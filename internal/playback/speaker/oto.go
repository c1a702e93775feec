// Package speaker plays WAV buffers on the system default output through oto.
package speaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hajimehoshi/oto"

	"voxa/internal/playback"
)

const (
	bufferSizeBytes = 8192
	// 50ms at 48 kHz mono 16-bit
	writeChunkBytes = 4800
)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoFmt  format
)

type format struct {
	rate, channels, width int
}

// OtoSink is a playback.Sink on the default output device.
type OtoSink struct {
	log *slog.Logger

	mu   sync.Mutex // serializes Play
	stop chan struct{}
	smu  sync.Mutex
}

func NewOtoSink(log *slog.Logger) *OtoSink {
	if log == nil {
		log = slog.Default()
	}
	return &OtoSink{log: log.With(slog.String("component", "speaker"))}
}

func openContext(f format) (*oto.Context, error) {
	otoOnce.Do(func() {
		otoFmt = f
		otoCtx, otoErr = oto.NewContext(f.rate, f.channels, f.width, bufferSizeBytes)
	})
	if otoErr != nil {
		return nil, fmt.Errorf("audio output unavailable: %w", otoErr)
	}
	if otoFmt != f {
		return nil, fmt.Errorf("audio output opened at %d Hz x%d, cannot play %d Hz x%d",
			otoFmt.rate, otoFmt.channels, f.rate, f.channels)
	}
	return otoCtx, nil
}

// Play decodes wav and writes it to the device in small chunks so that ctx
// cancellation and Stop take effect quickly.
func (s *OtoSink) Play(ctx context.Context, wav []byte) error {
	pcm, err := playback.DecodePCM(wav)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	octx, err := openContext(format{rate: pcm.SampleRate, channels: pcm.Channels, width: pcm.BytesPerSample})
	if err != nil {
		return err
	}
	player := octx.NewPlayer()
	defer player.Close()

	stop := make(chan struct{})
	s.smu.Lock()
	s.stop = stop
	s.smu.Unlock()

	s.log.Debug("playing", slog.Int("bytes", len(pcm.Data)), slog.Int("sample_rate", pcm.SampleRate))
	for off := 0; off < len(pcm.Data); off += writeChunkBytes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return context.Canceled
		default:
		}
		end := min(off+writeChunkBytes, len(pcm.Data))
		if _, err := player.Write(pcm.Data[off:end]); err != nil {
			return fmt.Errorf("audio output: %w", err)
		}
	}
	return nil
}

// Stop interrupts the current Play, if any.
func (s *OtoSink) Stop() {
	s.smu.Lock()
	defer s.smu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// OutputDevices is not supported: oto always plays on the default device.
func (s *OtoSink) OutputDevices() ([]playback.Device, error) {
	return nil, playback.ErrDeviceSelectionUnsupported
}
