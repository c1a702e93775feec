package ratelimit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// maxCASAttempts bounds the compare-and-swap loop under contention.
const maxCASAttempts = 8

// KV is a fixed window limiter stored in a JetStream key-value bucket, so
// several server processes share one set of counters.
type KV struct {
	kv     jetstream.KeyValue
	max    int
	window time.Duration
	log    *slog.Logger

	now func() time.Time
}

type kvWindow struct {
	Count int   `json:"count"`
	Start int64 `json:"start"` // unix milliseconds
}

// OpenKV creates (or updates) the bucket on the connection's JetStream and
// returns a limiter over it. Entries expire with the window.
func OpenKV(ctx context.Context, nc *nats.Conn, bucket string, max int, window time.Duration, log *slog.Logger) (*KV, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "tts rate limit windows",
		History:     1,
		TTL:         window,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("open key-value bucket %s: %w", bucket, err)
	}
	return NewKV(kv, max, window, log), nil
}

func NewKV(kv jetstream.KeyValue, max int, window time.Duration, log *slog.Logger) *KV {
	if log == nil {
		log = slog.Default()
	}
	return &KV{
		kv:     kv,
		max:    max,
		window: window,
		log:    log.With(slog.String("component", "ratelimit"), slog.String("backend", "nats")),
		now:    time.Now,
	}
}

func (l *KV) Allow(ctx context.Context, key string) (Decision, error) {
	// Bucket keys only allow a restricted alphabet; IPv6 addresses and
	// "user:" prefixes do not fit it.
	k := hex.EncodeToString([]byte(key))

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		now := l.now()

		entry, err := l.kv.Get(ctx, k)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			w := kvWindow{Count: 1, Start: now.UnixMilli()}
			if _, err := l.kv.Create(ctx, k, encodeWindow(w)); err != nil {
				if isConflict(err) {
					continue
				}
				return Decision{}, fmt.Errorf("create window: %w", err)
			}
			return decide(w.Count, l.max, now, l.window, now), nil

		case err != nil:
			return Decision{}, fmt.Errorf("read window: %w", err)
		}

		var w kvWindow
		if err := json.Unmarshal(entry.Value(), &w); err != nil {
			l.log.Warn("discarding unreadable window", slog.String("key", key), slog.String("error", err.Error()))
			w = kvWindow{}
		}

		start := time.UnixMilli(w.Start)
		if w.Start == 0 || now.Sub(start) >= l.window {
			start = now
			w = kvWindow{Start: now.UnixMilli()}
		}
		w.Count++

		if _, err := l.kv.Update(ctx, k, encodeWindow(w), entry.Revision()); err != nil {
			if isConflict(err) {
				continue
			}
			return Decision{}, fmt.Errorf("update window: %w", err)
		}
		return decide(w.Count, l.max, start, l.window, now), nil
	}
	return Decision{}, fmt.Errorf("rate limit key %s: too much contention", key)
}

func encodeWindow(w kvWindow) []byte {
	b, _ := json.Marshal(w)
	return b
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
