// Package playback is the consumer side of the TTS server: it requests
// speech, buffers the complete WAV response and plays it through a Sink.
package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// State of the speak cycle.
type State int

const (
	Idle State = iota
	Generating
	Playing
	Success
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Generating:
		return "generating"
	case Playing:
		return "playing"
	case Success:
		return "success"
	case Error:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	streamPath         = "/api/tts/stream"
	defaultSuccessHold = 1500 * time.Millisecond
)

// SpeakRequest mirrors the stream endpoint's JSON body.
type SpeakRequest struct {
	Text      string   `json:"text"`
	Voice     string   `json:"voice,omitempty"`
	Language  string   `json:"language,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Pitch     *float64 `json:"pitch,omitempty"`
	MeetingID *string  `json:"meeting_id"`
}

// Sink plays one complete WAV buffer. Play returns when playback finishes,
// fails, or ctx is done.
type Sink interface {
	Play(ctx context.Context, wav []byte) error
	Stop()
}

// Device is an audio output.
type Device struct {
	ID      string
	Name    string
	Default bool
}

// DeviceLister is implemented by sinks that can enumerate outputs.
type DeviceLister interface {
	OutputDevices() ([]Device, error)
}

// DefaultDevice is reported when the sink cannot enumerate outputs.
var DefaultDevice = Device{ID: "default", Name: "System default", Default: true}

// TokenSource returns the bearer token for a request, or "" for anonymous.
type TokenSource func(ctx context.Context) (string, error)

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      TokenSource
	Sink       Sink
	Log        *slog.Logger

	// OnStateChange is called after every transition.
	OnStateChange func(State)
}

type Client struct {
	baseURL  string
	http     *http.Client
	token    TokenSource
	sink     Sink
	log      *slog.Logger
	onChange func(State)

	successHold time.Duration

	mu      sync.Mutex
	state   State
	lastErr error
	gen     uint64
	cancel  context.CancelFunc
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        hc,
		token:       opts.Token,
		sink:        opts.Sink,
		log:         log.With(slog.String("component", "playback")),
		onChange:    opts.OnStateChange,
		successHold: defaultSuccessHold,
	}
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the error that put the client in the Error state.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// OutputDevices lists outputs, falling back to the system default when the
// sink cannot enumerate them.
func (c *Client) OutputDevices() []Device {
	lister, ok := c.sink.(DeviceLister)
	if !ok {
		return []Device{DefaultDevice}
	}
	devices, err := lister.OutputDevices()
	if err != nil || len(devices) == 0 {
		if err != nil && !errors.Is(err, ErrDeviceSelectionUnsupported) {
			c.log.Warn("listing output devices failed", slog.String("error", err.Error()))
		}
		return []Device{DefaultDevice}
	}
	return devices
}

// Fetch posts the request and reads the whole response body into memory.
func (c *Client) Fetch(ctx context.Context, req SpeakRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyInput
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+streamPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		// a token failure degrades to an anonymous request
		if tok, err := c.token(ctx); err == nil && tok != "" {
			httpReq.Header.Set("Authorization", "Bearer "+tok)
		} else if err != nil {
			c.log.Warn("token source failed, sending anonymously", slog.String("error", err.Error()))
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCanceled
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp)
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		if ctx.Err() != nil {
			return nil, ErrCanceled
		}
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if buf.Len() == 0 {
		return nil, ErrEmptyAudio
	}
	return buf.Bytes(), nil
}

// Speak runs one Idle -> Generating -> Playing -> Success cycle. A newer
// Speak or Stop interrupts it with ErrCanceled.
func (c *Client) Speak(ctx context.Context, req SpeakRequest) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.mu.Unlock()
	c.transition(gen, Generating, nil)

	wav, err := c.Fetch(ctx, req)
	if err != nil {
		return c.finish(ctx, gen, err)
	}

	if !c.transition(gen, Playing, nil) {
		return ErrCanceled
	}
	if c.sink == nil {
		return c.finish(ctx, gen, errors.New("audio output unavailable"))
	}
	return c.finish(ctx, gen, c.sink.Play(ctx, wav))
}

// Stop cancels the active cycle and silences the sink. Safe to call at any
// time, any number of times.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	changed := c.state != Idle
	c.state = Idle
	c.lastErr = nil
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Stop()
	}
	if changed {
		c.notify(Idle)
	}
}

func (c *Client) finish(ctx context.Context, gen uint64, err error) error {
	if err != nil && (ctx.Err() != nil || errors.Is(err, ErrCanceled)) {
		c.transition(gen, Idle, nil)
		return ErrCanceled
	}
	if err != nil {
		c.log.Warn("speak failed",
			slog.String("category", string(Classify(err))),
			slog.String("error", err.Error()))
		c.transition(gen, Error, err)
		return err
	}

	if c.transition(gen, Success, nil) {
		time.AfterFunc(c.successHold, func() {
			c.mu.Lock()
			back := c.gen == gen && c.state == Success
			if back {
				c.state = Idle
			}
			c.mu.Unlock()
			if back {
				c.notify(Idle)
			}
		})
	}
	return nil
}

// transition applies s only if gen is still the active cycle.
func (c *Client) transition(gen uint64, s State, err error) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.state = s
	c.lastErr = err
	if s != Generating && s != Playing {
		c.cancel = nil
	}
	c.mu.Unlock()
	c.notify(s)
	return true
}

func (c *Client) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
