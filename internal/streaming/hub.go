package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/camfeed/internal/camera"
	"github.com/smazurov/camfeed/internal/events"
	"github.com/smazurov/camfeed/internal/logging"
	"github.com/smazurov/camfeed/internal/metrics"
)

var (
	// ErrHubClosed is returned after Close and is the terminal error of
	// subscribers ended by it.
	ErrHubClosed = errors.New("stream hub closed")
	// ErrDuplicateSubscriber is returned when an id is already subscribed.
	ErrDuplicateSubscriber = errors.New("subscriber already exists")
	// ErrCaptureFailed wraps the fatal error that ended a capture run.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrUnsubscribed is the terminal error of a subscriber that left.
	ErrUnsubscribed = errors.New("unsubscribed")
)

// SourceOpener opens a frame source. It is called once per idle to active
// transition.
type SourceOpener interface {
	Open() (camera.FrameSource, error)
}

// Encoder turns raw frames into JPEG bytes.
type Encoder interface {
	Encode(camera.RawFrame) ([]byte, error)
}

// EventPublisher receives hub lifecycle events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Options configures a Hub.
type Options struct {
	// MaxReadFailures consecutive failed iterations end the run.
	MaxReadFailures int
	Logger          logging.Logger
	// Events is optional.
	Events EventPublisher
	// Width, Height and FPS are the configured capture format, reported
	// on capture-started events.
	Width  int
	Height int
	FPS    int
}

// Hub owns the frame source and fans frames out to subscribers. The source
// is open exactly while at least one subscriber exists.
type Hub struct {
	opener      SourceOpener
	encoder     Encoder
	maxFailures int
	logger      logging.Logger
	events      EventPublisher
	width       int
	height      int
	fps         int

	// lifecycle serialises the idle/active edges and Close.
	lifecycle sync.Mutex

	mu       sync.Mutex
	subs     map[string]*Subscriber
	run      *captureRun
	lastDone <-chan struct{}
	closed   bool
	backend  camera.Backend
	lastErr  string
	// runs numbers capture runs; guarded by lifecycle.
	runs uint64

	seq      atomic.Uint64
	captured atomic.Uint64
	latest   atomic.Pointer[EncodedFrame]
}

// captureRun is one open source and the goroutine reading it.
type captureRun struct {
	id        uint64
	source    camera.FrameSource
	backend   camera.Backend
	startedAt time.Time
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	frames    uint64
	scratch   []*Subscriber
}

func (r *captureRun) signalStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// NewHub creates an idle hub.
func NewHub(opener SourceOpener, encoder Encoder, opts Options) *Hub {
	if opts.MaxReadFailures < 1 {
		opts.MaxReadFailures = camera.DefaultMaxReadFailures
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("streaming")
	}
	return &Hub{
		opener:      opener,
		encoder:     encoder,
		maxFailures: opts.MaxReadFailures,
		logger:      opts.Logger,
		events:      opts.Events,
		width:       opts.Width,
		height:      opts.Height,
		fps:         opts.FPS,
		subs:        make(map[string]*Subscriber),
	}
}

// Subscribe registers id. The first subscriber opens the source
// synchronously, so open errors reach the caller.
func (h *Hub) Subscribe(id string) (*Subscriber, error) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if _, exists := h.subs[id]; exists {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscriber, id)
	}
	idle := h.run == nil
	lastDone := h.lastDone
	h.mu.Unlock()

	var run *captureRun
	if idle {
		// A failed run may still be closing its source.
		if lastDone != nil {
			<-lastDone
		}

		source, err := h.opener.Open()
		if err != nil {
			h.mu.Lock()
			h.lastErr = err.Error()
			h.mu.Unlock()
			h.logger.Error("Failed to start capture", "error", err)
			return nil, err
		}

		h.runs++
		run = &captureRun{
			id:        h.runs,
			source:    source,
			backend:   source.Backend(),
			startedAt: time.Now(),
			stop:      make(chan struct{}),
			done:      make(chan struct{}),
		}
		h.latest.Store(nil)
		metrics.SourceOpened(string(run.backend))
		metrics.SetCaptureRunning(true)
	}

	sub := newSubscriber(id)

	h.mu.Lock()
	if run != nil {
		h.run = run
		h.lastDone = run.done
		h.backend = run.backend
		h.lastErr = ""
	}
	h.subs[id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	if run != nil {
		h.logger.Info("Capture started", "backend", run.backend)
		go h.captureLoop(run)
		h.publish(events.CaptureStartedEvent{
			Run:       run.id,
			Backend:   string(run.backend),
			Width:     h.width,
			Height:    h.height,
			FPS:       h.fps,
			Timestamp: timestamp(),
		})
	}

	metrics.SetSubscribers(count)
	h.logger.Debug("Subscriber joined", "subscriber_id", id, "subscribers", count)
	h.publish(events.SubscriberJoinedEvent{
		SubscriberID: id,
		Subscribers:  count,
		Timestamp:    timestamp(),
	})
	return sub, nil
}

// Unsubscribe removes id. The last subscriber stops the capture loop and
// waits for it to close the source. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	sub, ok := h.subs[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, id)
	count := len(h.subs)
	var run *captureRun
	if count == 0 {
		run = h.run
		h.run = nil
	}
	h.mu.Unlock()

	sub.terminate(ErrUnsubscribed)
	metrics.SetSubscribers(count)
	h.logger.Debug("Subscriber left", "subscriber_id", id, "subscribers", count, "dropped", sub.Dropped())
	h.publish(events.SubscriberLeftEvent{
		SubscriberID:  id,
		Subscribers:   count,
		DroppedFrames: sub.Dropped(),
		Timestamp:     timestamp(),
	})

	if run != nil {
		h.stopRun(run, "idle")
	}
}

// stopRun signals the loop and waits for it to close the source.
func (h *Hub) stopRun(run *captureRun, reason string) {
	run.signalStop()
	<-run.done

	h.logger.Info("Capture stopped", "backend", run.backend, "reason", reason, "frames", run.frames)
	h.publish(events.CaptureStoppedEvent{
		Run:            run.id,
		Backend:        string(run.backend),
		Reason:         reason,
		FramesCaptured: run.frames,
		Timestamp:      timestamp(),
	})
}

// Close stops capture and ends every subscriber with ErrHubClosed.
func (h *Hub) Close() error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	run := h.run
	h.run = nil
	subs := h.takeSubscribers()
	h.mu.Unlock()

	if run != nil {
		h.stopRun(run, "shutdown")
	}
	for _, sub := range subs {
		sub.terminate(ErrHubClosed)
	}
	metrics.SetSubscribers(0)
	return nil
}

// takeSubscribers must be called with mu held.
func (h *Hub) takeSubscribers() []*Subscriber {
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[string]*Subscriber)
	return subs
}

func (h *Hub) captureLoop(run *captureRun) {
	defer close(run.done)

	failures := 0
	for {
		select {
		case <-run.stop:
			h.closeSource(run)
			return
		default:
		}

		raw, err := run.source.CaptureNext()
		if err != nil {
			if !camera.IsTransient(err) {
				metrics.ReadFailure("fatal")
				h.fail(run, err)
				return
			}
			metrics.ReadFailure("transient")
			failures++
			if failures >= h.maxFailures {
				h.fail(run, fmt.Errorf("%d consecutive failures, last: %w", failures, err))
				return
			}
			h.logger.Debug("Transient capture failure", "error", err, "consecutive", failures)
			continue
		}

		start := time.Now()
		data, err := h.encoder.Encode(raw)
		if err != nil {
			metrics.EncodeFailure()
			failures++
			if failures >= h.maxFailures {
				h.fail(run, fmt.Errorf("%d consecutive failures, last: %w", failures, err))
				return
			}
			h.logger.Debug("Encode failure", "error", err, "consecutive", failures)
			continue
		}
		failures = 0

		frame := &EncodedFrame{
			Seq:       h.seq.Add(1),
			Data:      data,
			Timestamp: time.Now(),
		}
		metrics.FrameCaptured(len(data), time.Since(start))
		h.latest.Store(frame)
		h.captured.Add(1)
		run.frames++

		h.broadcast(run, frame)
	}
}

func (h *Hub) broadcast(run *captureRun, frame *EncodedFrame) {
	h.mu.Lock()
	run.scratch = run.scratch[:0]
	for _, sub := range h.subs {
		run.scratch = append(run.scratch, sub)
	}
	h.mu.Unlock()

	for _, sub := range run.scratch {
		if sub.offer(frame) {
			metrics.FrameDropped()
		}
	}
	metrics.FramesDelivered(len(run.scratch))
	clear(run.scratch)
}

func (h *Hub) closeSource(run *captureRun) {
	if err := run.source.Close(); err != nil {
		h.logger.Warn("Error closing frame source", "backend", run.backend, "error", err)
	}
	metrics.SourceClosed(string(run.backend))
	metrics.SetCaptureRunning(false)
}

// fail ends the run from inside the loop. If Unsubscribe or Close already
// detached the run they own the subscribers and only the source is closed
// here.
func (h *Hub) fail(run *captureRun, cause error) {
	h.closeSource(run)

	h.mu.Lock()
	var subs []*Subscriber
	if h.run == run {
		h.run = nil
		subs = h.takeSubscribers()
	}
	h.lastErr = cause.Error()
	h.mu.Unlock()

	h.logger.Error("Capture failed", "backend", run.backend, "error", cause, "subscribers", len(subs))

	err := fmt.Errorf("%w: %w", ErrCaptureFailed, cause)
	for _, sub := range subs {
		sub.terminate(err)
	}
	if len(subs) > 0 {
		metrics.SetSubscribers(0)
	}

	h.publish(events.CaptureFailedEvent{
		Run:         run.id,
		Backend:     string(run.backend),
		Error:       cause.Error(),
		Subscribers: len(subs),
		Timestamp:   timestamp(),
	})
}

// Snapshot returns the latest frame while capture runs, otherwise it
// subscribes briefly to grab one.
func (h *Hub) Snapshot(ctx context.Context) (*EncodedFrame, error) {
	h.mu.Lock()
	running := h.run != nil
	h.mu.Unlock()

	if running {
		if f := h.latest.Load(); f != nil {
			return f, nil
		}
	}

	id := "snapshot-" + uuid.NewString()
	sub, err := h.Subscribe(id)
	if err != nil {
		return nil, err
	}
	defer h.Unsubscribe(id)

	return sub.Next(ctx)
}

// Status describes the hub at one instant.
type Status struct {
	Running        bool
	Backend        camera.Backend
	Subscribers    int
	LastSeq        uint64
	FramesCaptured uint64
	StartedAt      time.Time
	LastError      string
}

// Status returns the current state. Backend is the running backend, or the
// last one used when idle.
func (h *Hub) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{
		Running:        h.run != nil,
		Backend:        h.backend,
		Subscribers:    len(h.subs),
		LastSeq:        h.seq.Load(),
		FramesCaptured: h.captured.Load(),
		LastError:      h.lastErr,
	}
	if h.run != nil {
		st.StartedAt = h.run.startedAt
	}
	return st
}

func (h *Hub) publish(ev events.Event) {
	if h.events != nil {
		h.events.Publish(ev)
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
