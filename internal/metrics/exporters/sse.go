package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/camfeed/internal/events"
	"github.com/smazurov/camfeed/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter periodically publishes stream statistics on the event bus
// while anyone is watching.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	current  func() metrics.Snapshot
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
		current:  metrics.Current,
	}
}

// Start begins the export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := s.current()
	lastAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := s.current()
			s.publish(snap, last, now.Sub(lastAt))
			last, lastAt = snap, now
		}
	}
}

// publish skips idle periods so the event feed stays quiet without viewers.
func (s *SSEExporter) publish(snap, prev metrics.Snapshot, elapsed time.Duration) {
	if snap.Subscribers == 0 && snap.FramesCaptured == prev.FramesCaptured {
		return
	}

	fps := 0.0
	if elapsed > 0 && snap.FramesCaptured >= prev.FramesCaptured {
		fps = float64(snap.FramesCaptured-prev.FramesCaptured) / elapsed.Seconds()
	}

	s.eventBus.Publish(events.StreamMetricsEvent{
		EventType:     "stream_metrics",
		FPS:           strconv.FormatFloat(fps, 'f', 2, 64),
		Subscribers:   snap.Subscribers,
		DroppedFrames: strconv.FormatUint(snap.FramesDropped, 10),
		FrameBytes:    strconv.Itoa(snap.LastFrameBytes),
	})
}
