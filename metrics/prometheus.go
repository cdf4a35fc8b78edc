package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DirectionCapture  = "capture"
	DirectionPlayback = "playback"
)

// Metrics contains all Prometheus metrics for the audio engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Worker lifecycle
	WorkersStarted *prometheus.CounterVec
	WorkersActive  *prometheus.GaugeVec
	StartFailures  *prometheus.CounterVec
	DeviceErrors   *prometheus.CounterVec
	DeviceReleases *prometheus.CounterVec

	// Capture
	ChunksCaptured   prometheus.Counter
	SamplesCaptured  prometheus.Counter
	ChunksDropped    prometheus.Counter
	DeviceOverruns   prometheus.Counter
	DecodeQueueDepth prometheus.Gauge
	FeedDuration     prometheus.Histogram

	// Playback
	ChunksWritten       prometheus.Counter
	SamplesWritten      prometheus.Counter
	PaddingSamples      prometheus.Counter
	PlaybackCompletions prometheus.Counter
	PlaybackProgress    prometheus.Gauge

	// Modem
	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	EncodeDuration   prometheus.Histogram
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WorkersStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soundwave_workers_started_total",
			Help: "Total number of audio worker runs started",
		}, []string{"direction"}),
		WorkersActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "soundwave_workers_active",
			Help: "Audio worker runs currently holding a device",
		}, []string{"direction"}),
		StartFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soundwave_start_failures_total",
			Help: "Device acquisitions that failed on start",
		}, []string{"direction"}),
		DeviceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soundwave_device_errors_total",
			Help: "Mid-stream read/write errors that ended a run",
		}, []string{"direction"}),
		DeviceReleases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soundwave_device_releases_total",
			Help: "Device handles released",
		}, []string{"direction"}),

		ChunksCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "soundwave_capture_chunks_total",
			Help: "Captured chunks delivered to the decoder",
		}),
		SamplesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "soundwave_capture_samples_total",
			Help: "Captured samples read from the device",
		}),
		ChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "soundwave_capture_chunks_dropped_total",
			Help: "Chunks discarded by the drop-oldest decode queue",
		}),
		DeviceOverruns: f.NewCounter(prometheus.CounterOpts{
			Name: "soundwave_capture_overrun_frames_total",
			Help: "Frames the device delivered while the reader was behind",
		}),
		DecodeQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "soundwave_decode_queue_depth",
			Help: "Chunks waiting for the decoder",
		}),
		FeedDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "soundwave_decode_feed_duration_seconds",
			Help:    "Time the capture loop spent handing a chunk to the decoder",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10), // 0.5ms to ~256ms
		}),

		ChunksWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "soundwave_playback_chunks_total",
			Help: "Chunks written to the output device",
		}),
		SamplesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "soundwave_playback_samples_total",
			Help: "Samples written including padding",
		}),
		PaddingSamples: f.NewCounter(prometheus.CounterOpts{
			Name: "soundwave_playback_padding_samples_total",
			Help: "Zero samples appended to the final chunk",
		}),
		PlaybackCompletions: f.NewCounter(prometheus.CounterOpts{
			Name: "soundwave_playback_completions_total",
			Help: "Playback runs that reached the end marker",
		}),
		PlaybackProgress: f.NewGauge(prometheus.GaugeOpts{
			Name: "soundwave_playback_progress_milliseconds",
			Help: "Last reported playback position",
		}),

		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "soundwave_messages_received_total",
			Help: "Messages decoded from captured audio",
		}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "soundwave_messages_sent_total",
			Help: "Messages encoded and queued for playback",
		}),
		EncodeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "soundwave_encode_duration_seconds",
			Help:    "Time the modem took to produce a waveform",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}
}

func (m *Metrics) WorkerStarted(direction string) {
	if m == nil {
		return
	}
	m.WorkersStarted.WithLabelValues(direction).Inc()
	m.WorkersActive.WithLabelValues(direction).Inc()
}

func (m *Metrics) WorkerReleased(direction string) {
	if m == nil {
		return
	}
	m.WorkersActive.WithLabelValues(direction).Dec()
	m.DeviceReleases.WithLabelValues(direction).Inc()
}

func (m *Metrics) StartFailed(direction string) {
	if m == nil {
		return
	}
	m.StartFailures.WithLabelValues(direction).Inc()
}

func (m *Metrics) DeviceError(direction string) {
	if m == nil {
		return
	}
	m.DeviceErrors.WithLabelValues(direction).Inc()
}

func (m *Metrics) ChunkCaptured(samples int, feed time.Duration) {
	if m == nil {
		return
	}
	m.ChunksCaptured.Inc()
	m.SamplesCaptured.Add(float64(samples))
	m.FeedDuration.Observe(feed.Seconds())
}

func (m *Metrics) ChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

func (m *Metrics) Overrun(frames int) {
	if m == nil {
		return
	}
	m.DeviceOverruns.Add(float64(frames))
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.DecodeQueueDepth.Set(float64(n))
}

func (m *Metrics) ChunkWritten(samples, padding int) {
	if m == nil {
		return
	}
	m.ChunksWritten.Inc()
	m.SamplesWritten.Add(float64(samples))
	m.PaddingSamples.Add(float64(padding))
}

func (m *Metrics) Progress(millis int) {
	if m == nil {
		return
	}
	m.PlaybackProgress.Set(float64(millis))
}

func (m *Metrics) PlaybackCompleted() {
	if m == nil {
		return
	}
	m.PlaybackCompletions.Inc()
}

func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *Metrics) MessageSent(encode time.Duration) {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
	m.EncodeDuration.Observe(encode.Seconds())
}
