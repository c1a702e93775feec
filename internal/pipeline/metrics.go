package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_requests_total",
		Help: "Speech requests by outcome",
	}, []string{"outcome"})

	providerLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_provider_latency_ms",
		Help:    "Time to receive the complete provider audio in milliseconds",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	transcodeLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_transcode_latency_ms",
		Help:    "Transcoder run time in milliseconds",
		Buckets: prometheus.ExponentialBuckets(10, 1.6, 12),
	})

	outputBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_output_bytes",
		Help:    "Size of the WAV responses",
		Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tts_rate_limited_total",
		Help: "Speech requests denied by the rate limiter",
	})
)
