// Package metrics provides Prometheus metrics for the capture pipeline.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "camfeed"
	subsystem = "stream"
)

var (
	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "subscribers",
		Help:      "Connected stream subscribers",
	})

	captureRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "capture_running",
		Help:      "1 while a frame source is open",
	})

	framesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames_captured_total",
		Help:      "Frames captured and encoded",
	})

	framesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames_broadcast_total",
		Help:      "Frames offered to subscribers, counted per subscriber",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames_dropped_total",
		Help:      "Queued frames replaced before a subscriber read them",
	})

	readFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "read_failures_total",
		Help:      "Frame source read failures by kind",
	}, []string{"kind"})

	encodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "failures_total",
		Help:      "Frames that could not be encoded",
	})

	encodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "duration_seconds",
		Help:      "Time spent encoding one frame",
		Buckets:   []float64{.001, .0025, .005, .01, .02, .04, .08, .16},
	})

	lastFrameBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "last_frame_bytes",
		Help:      "Size of the most recent encoded frame",
	})

	sourceOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "opens_total",
		Help:      "Frame sources opened by backend",
	}, []string{"backend"})

	sourceCloses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "closes_total",
		Help:      "Frame sources closed by backend",
	}, []string{"backend"})

	// Local mirror for the SSE exporter.
	cache struct {
		subscribers    atomic.Int64
		framesCaptured atomic.Uint64
		framesDropped  atomic.Uint64
		lastFrameBytes atomic.Int64
	}
)

// Snapshot holds current values for the SSE exporter and status endpoint.
type Snapshot struct {
	Subscribers    int
	FramesCaptured uint64
	FramesDropped  uint64
	LastFrameBytes int
}

// SetSubscribers sets the subscriber gauge.
func SetSubscribers(n int) {
	subscribers.Set(float64(n))
	cache.subscribers.Store(int64(n))
}

// SetCaptureRunning sets the capture gauge.
func SetCaptureRunning(running bool) {
	if running {
		captureRunning.Set(1)
	} else {
		captureRunning.Set(0)
	}
}

// FrameCaptured records one encoded frame of the given size.
func FrameCaptured(size int, encodeTime time.Duration) {
	framesCaptured.Inc()
	encodeDuration.Observe(encodeTime.Seconds())
	lastFrameBytes.Set(float64(size))
	cache.framesCaptured.Add(1)
	cache.lastFrameBytes.Store(int64(size))
}

// FramesDelivered records frames offered to n subscribers.
func FramesDelivered(n int) {
	framesDelivered.Add(float64(n))
}

// FrameDropped records one evicted queued frame.
func FrameDropped() {
	framesDropped.Inc()
	cache.framesDropped.Add(1)
}

// ReadFailure records a failed CaptureNext by kind ("transient" or "fatal").
func ReadFailure(kind string) {
	readFailures.WithLabelValues(kind).Inc()
}

// EncodeFailure records a frame the encoder rejected.
func EncodeFailure() {
	encodeFailures.Inc()
}

// SourceOpened records a frame source open.
func SourceOpened(backend string) {
	sourceOpens.WithLabelValues(backend).Inc()
}

// SourceClosed records a frame source close.
func SourceClosed(backend string) {
	sourceCloses.WithLabelValues(backend).Inc()
}

// Current returns the mirrored values.
func Current() Snapshot {
	return Snapshot{
		Subscribers:    int(cache.subscribers.Load()),
		FramesCaptured: cache.framesCaptured.Load(),
		FramesDropped:  cache.framesDropped.Load(),
		LastFrameBytes: int(cache.lastFrameBytes.Load()),
	}
}
