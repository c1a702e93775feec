package playback

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-audio/wav"
)

// Default format of the server's WAV output.
const (
	DefaultSampleRate     = 48000
	DefaultChannels       = 1
	DefaultBytesPerSample = 2

	wavHeaderSize = 44
)

// PCM is interleaved little-endian sample data ready for an output device.
type PCM struct {
	Data           []byte
	SampleRate     int
	Channels       int
	BytesPerSample int
}

// DecodePCM extracts the samples of a WAV buffer. Streams written to a pipe
// carry placeholder chunk sizes the decoder rejects; those fall back to the
// bytes after the canonical 44 byte header in the server's default format.
func DecodePCM(data []byte) (*PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if d.IsValidFile() {
		buf, err := d.FullPCMBuffer()
		if err == nil && len(buf.Data) > 0 {
			width := int(d.BitDepth) / 8
			pcm := &PCM{
				SampleRate:     int(d.SampleRate),
				Channels:       int(d.NumChans),
				BytesPerSample: width,
			}
			pcm.Data, err = packSamples(buf.Data, width)
			if err != nil {
				return nil, err
			}
			return pcm, nil
		}
	}

	if len(data) <= wavHeaderSize || !bytes.HasPrefix(data, []byte("RIFF")) {
		return nil, fmt.Errorf("not a WAV buffer (%d bytes)", len(data))
	}
	return &PCM{
		Data:           data[wavHeaderSize:],
		SampleRate:     DefaultSampleRate,
		Channels:       DefaultChannels,
		BytesPerSample: DefaultBytesPerSample,
	}, nil
}

func packSamples(samples []int, width int) ([]byte, error) {
	out := make([]byte, len(samples)*width)
	switch width {
	case 1:
		// 8-bit WAV is unsigned
		for i, s := range samples {
			out[i] = byte(s)
		}
	case 2:
		for i, s := range samples {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
		}
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", width*8)
	}
	return out, nil
}
