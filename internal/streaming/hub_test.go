package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/camfeed/internal/camera"
	"github.com/smazurov/camfeed/internal/events"
)

// fakeSource yields a frame every millisecond. script, if set, decides the
// error for the n-th read (1-based).
type fakeSource struct {
	opener *fakeOpener
	reads  atomic.Int64
	closed atomic.Bool
	script func(n int64) error
}

func (s *fakeSource) CaptureNext() (camera.RawFrame, error) {
	if s.closed.Load() {
		return camera.RawFrame{}, errors.New("read after close")
	}
	time.Sleep(time.Millisecond)
	n := s.reads.Add(1)
	if s.script != nil {
		if err := s.script(n); err != nil {
			return camera.RawFrame{}, err
		}
	}
	return camera.RawFrame{
		Data:   []byte{byte(n)},
		Width:  1,
		Height: 1,
		Format: camera.FormatMJPEG,
	}, nil
}

func (s *fakeSource) Close() error {
	if s.closed.Swap(true) {
		return errors.New("double close")
	}
	s.opener.closes.Add(1)
	return nil
}

func (s *fakeSource) Backend() camera.Backend {
	return camera.BackendV4L2
}

type fakeOpener struct {
	opens   atomic.Int64
	closes  atomic.Int64
	openErr error

	mu      sync.Mutex
	script  func(n int64) error
	sources []*fakeSource
}

func (o *fakeOpener) Open() (camera.FrameSource, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.opens.Add(1)
	o.mu.Lock()
	defer o.mu.Unlock()
	src := &fakeSource{opener: o, script: o.script}
	o.sources = append(o.sources, src)
	return src, nil
}

func (o *fakeOpener) setScript(script func(n int64) error) {
	o.mu.Lock()
	o.script = script
	o.mu.Unlock()
}

// passthroughEncoder returns the raw bytes. fail, if set, rejects frames.
type passthroughEncoder struct {
	fail func(raw camera.RawFrame) bool
}

func (e passthroughEncoder) Encode(raw camera.RawFrame) ([]byte, error) {
	if e.fail != nil && e.fail(raw) {
		return nil, errors.New("bad frame")
	}
	return raw.Data, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) count(match func(events.Event) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if match(ev) {
			n++
		}
	}
	return n
}

func newTestHub(t *testing.T, opener *fakeOpener, opts Options) *Hub {
	t.Helper()
	if opts.MaxReadFailures == 0 {
		opts.MaxReadFailures = 5
	}
	h := NewHub(opener, passthroughEncoder{}, opts)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func nextFrame(t *testing.T, sub *Subscriber) *EncodedFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	return f
}

func waitDone(t *testing.T, sub *Subscriber) error {
	t.Helper()
	select {
	case <-sub.Done():
		return sub.Err()
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber %s not terminated", sub.ID())
		return nil
	}
}

func TestHubSequenceStrictlyIncreasing(t *testing.T) {
	opener := &fakeOpener{}
	h := newTestHub(t, opener, Options{})

	const clients = 4
	var wg sync.WaitGroup
	for i := range clients {
		sub, err := h.Subscribe(fmt.Sprintf("client-%d", i))
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			var last uint64
			for range 20 {
				f, err := sub.Next(ctx)
				if err != nil {
					t.Errorf("%s: Next() error = %v", sub.ID(), err)
					return
				}
				if f.Seq <= last {
					t.Errorf("%s: seq %d after %d", sub.ID(), f.Seq, last)
					return
				}
				last = f.Seq
			}
		}()
	}
	wg.Wait()

	if got := opener.opens.Load(); got != 1 {
		t.Errorf("opens = %d, want 1 for concurrent subscribers", got)
	}
}

func TestHubOpensOnFirstClosesOnLast(t *testing.T) {
	opener := &fakeOpener{}
	h := newTestHub(t, opener, Options{})

	if h.Status().Running {
		t.Fatal("hub running before any subscriber")
	}

	for cycle := 1; cycle <= 3; cycle++ {
		a, err := h.Subscribe("a")
		if err != nil {
			t.Fatalf("Subscribe(a) error = %v", err)
		}
		b, err := h.Subscribe("b")
		if err != nil {
			t.Fatalf("Subscribe(b) error = %v", err)
		}
		nextFrame(t, a)
		nextFrame(t, b)

		h.Unsubscribe("a")
		if !h.Status().Running {
			t.Fatalf("cycle %d: capture stopped with a subscriber left", cycle)
		}
		h.Unsubscribe("b")

		if h.Status().Running {
			t.Fatalf("cycle %d: capture running after last unsubscribe", cycle)
		}
		if opens, closes := opener.opens.Load(), opener.closes.Load(); opens != int64(cycle) || closes != int64(cycle) {
			t.Fatalf("cycle %d: opens=%d closes=%d", cycle, opens, closes)
		}
		if !errors.Is(waitDone(t, a), ErrUnsubscribed) {
			t.Errorf("a.Err() = %v, want ErrUnsubscribed", a.Err())
		}
	}
}

func TestHubSlowSubscriberHoldsOneFrame(t *testing.T) {
	opener := &fakeOpener{}
	h := newTestHub(t, opener, Options{})

	slow, err := h.Subscribe("slow")
	if err != nil {
		t.Fatalf("Subscribe(slow) error = %v", err)
	}
	fast, err := h.Subscribe("fast")
	if err != nil {
		t.Fatalf("Subscribe(fast) error = %v", err)
	}

	var last uint64
	for range 30 {
		f := nextFrame(t, fast)
		if len(slow.frames) > 1 {
			t.Fatalf("slow subscriber queue = %d, want <= 1", len(slow.frames))
		}
		last = f.Seq
	}

	if slow.Dropped() == 0 {
		t.Error("slow subscriber dropped no frames")
	}

	// The one frame still queued is recent, not the first.
	f := nextFrame(t, slow)
	if f.Seq == 1 || f.Seq+5 < last {
		t.Errorf("slow subscriber got seq %d, latest was %d", f.Seq, last)
	}
}

func TestHubOpenFailure(t *testing.T) {
	opener := &fakeOpener{openErr: fmt.Errorf("%w: no camera", camera.ErrBackendUnavailable)}
	h := newTestHub(t, opener, Options{})

	_, err := h.Subscribe("viewer")
	if !errors.Is(err, camera.ErrBackendUnavailable) {
		t.Fatalf("Subscribe() error = %v, want ErrBackendUnavailable", err)
	}

	st := h.Status()
	if st.Running || st.Subscribers != 0 {
		t.Errorf("status after failed open = %+v", st)
	}
	if st.LastError == "" {
		t.Error("LastError not recorded")
	}

	// The id was not registered, so a retry is not a duplicate.
	opener.openErr = nil
	if _, err := h.Subscribe("viewer"); err != nil {
		t.Fatalf("retry Subscribe() error = %v", err)
	}
}

func TestHubTransientFailuresDoNotTerminate(t *testing.T) {
	opener := &fakeOpener{}
	opener.setScript(func(n int64) error {
		if n%2 == 0 {
			return camera.Transient(errors.New("corrupt frame"))
		}
		return nil
	})
	h := newTestHub(t, opener, Options{MaxReadFailures: 3})

	sub, err := h.Subscribe("viewer")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	for range 20 {
		nextFrame(t, sub)
	}
	if err := sub.Err(); err != nil {
		t.Fatalf("subscriber terminated: %v", err)
	}
}

func TestHubEncodeFailuresAreSkipped(t *testing.T) {
	opener := &fakeOpener{}
	h := NewHub(opener, passthroughEncoder{
		fail: func(raw camera.RawFrame) bool { return raw.Data[0]%3 == 0 },
	}, Options{MaxReadFailures: 5})
	t.Cleanup(func() { _ = h.Close() })

	sub, err := h.Subscribe("viewer")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	for range 10 {
		f := nextFrame(t, sub)
		if f.Data[0]%3 == 0 {
			t.Fatalf("rejected frame %d was delivered", f.Data[0])
		}
	}
}

func TestHubConsecutiveFailuresTerminateAll(t *testing.T) {
	opener := &fakeOpener{}
	opener.setScript(func(n int64) error {
		if n > 3 {
			return camera.Transient(errors.New("select timeout"))
		}
		return nil
	})
	pub := &recordingPublisher{}
	h := newTestHub(t, opener, Options{MaxReadFailures: 4, Events: pub})

	a, _ := h.Subscribe("a")
	b, _ := h.Subscribe("b")

	for _, sub := range []*Subscriber{a, b} {
		if err := waitDone(t, sub); !errors.Is(err, ErrCaptureFailed) {
			t.Errorf("%s terminated with %v, want ErrCaptureFailed", sub.ID(), err)
		}
	}

	if opener.closes.Load() != 1 {
		t.Errorf("closes = %d, want 1", opener.closes.Load())
	}
	st := h.Status()
	if st.Running || st.Subscribers != 0 || st.LastError == "" {
		t.Errorf("status after failure = %+v", st)
	}
	if n := pub.count(func(ev events.Event) bool { _, ok := ev.(events.CaptureFailedEvent); return ok }); n != 1 {
		t.Errorf("CaptureFailedEvent published %d times", n)
	}

	// Leaving after termination is a no-op.
	h.Unsubscribe("a")
	h.Unsubscribe("b")

	// The next subscriber reopens the device.
	opener.setScript(nil)
	c, err := h.Subscribe("c")
	if err != nil {
		t.Fatalf("Subscribe after failure error = %v", err)
	}
	nextFrame(t, c)
	if opener.opens.Load() != 2 {
		t.Errorf("opens = %d, want 2", opener.opens.Load())
	}
}

func TestHubFatalErrorTerminatesImmediately(t *testing.T) {
	opener := &fakeOpener{}
	opener.setScript(func(n int64) error {
		if n == 2 {
			return camera.Fatal(errors.New("device unplugged"))
		}
		return nil
	})
	h := newTestHub(t, opener, Options{MaxReadFailures: 100})

	sub, _ := h.Subscribe("viewer")
	if err := waitDone(t, sub); !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("Err() = %v, want ErrCaptureFailed", err)
	}
}

func TestHubClose(t *testing.T) {
	opener := &fakeOpener{}
	h := NewHub(opener, passthroughEncoder{}, Options{})

	a, _ := h.Subscribe("a")
	b, _ := h.Subscribe("b")
	nextFrame(t, a)

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	for _, sub := range []*Subscriber{a, b} {
		if err := waitDone(t, sub); !errors.Is(err, ErrHubClosed) {
			t.Errorf("%s terminated with %v, want ErrHubClosed", sub.ID(), err)
		}
	}
	if opener.closes.Load() != 1 {
		t.Errorf("closes = %d, want 1", opener.closes.Load())
	}
	if _, err := h.Subscribe("late"); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Subscribe after Close error = %v, want ErrHubClosed", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestHubDuplicateSubscriber(t *testing.T) {
	h := newTestHub(t, &fakeOpener{}, Options{})

	if _, err := h.Subscribe("same"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := h.Subscribe("same"); !errors.Is(err, ErrDuplicateSubscriber) {
		t.Errorf("second Subscribe() error = %v, want ErrDuplicateSubscriber", err)
	}
	if got := h.Status().Subscribers; got != 1 {
		t.Errorf("Subscribers = %d, want 1", got)
	}
}

func TestHubUnsubscribeUnknown(t *testing.T) {
	opener := &fakeOpener{}
	h := newTestHub(t, opener, Options{})

	h.Unsubscribe("nobody")

	if _, err := h.Subscribe("a"); err != nil {
		t.Fatal(err)
	}
	h.Unsubscribe("a")
	h.Unsubscribe("a")

	if opener.closes.Load() != 1 {
		t.Errorf("closes = %d, want 1", opener.closes.Load())
	}
}

func TestHubSnapshot(t *testing.T) {
	opener := &fakeOpener{}
	h := newTestHub(t, opener, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Idle: a temporary subscription opens and closes the source.
	f, err := h.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(f.Data) == 0 {
		t.Error("empty snapshot")
	}
	if h.Status().Running {
		t.Error("capture still running after idle snapshot")
	}
	if opener.opens.Load() != 1 || opener.closes.Load() != 1 {
		t.Errorf("opens=%d closes=%d after idle snapshot", opener.opens.Load(), opener.closes.Load())
	}

	// Active: served from the latest frame without reopening.
	sub, _ := h.Subscribe("viewer")
	nextFrame(t, sub)
	if _, err := h.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot() while running error = %v", err)
	}
	if opener.opens.Load() != 2 {
		t.Errorf("opens = %d, want 2", opener.opens.Load())
	}
}

func TestHubEvents(t *testing.T) {
	pub := &recordingPublisher{}
	h := newTestHub(t, &fakeOpener{}, Options{Events: pub, Width: 640, Height: 480, FPS: 30})

	for range 2 {
		if _, err := h.Subscribe("a"); err != nil {
			t.Fatal(err)
		}
		h.Unsubscribe("a")
	}

	checks := map[string]func(events.Event) bool{
		"started run 1": func(ev events.Event) bool {
			e, ok := ev.(events.CaptureStartedEvent)
			return ok && e.Run == 1 && e.Width == 640 && e.Height == 480 && e.FPS == 30
		},
		"started run 2": func(ev events.Event) bool {
			e, ok := ev.(events.CaptureStartedEvent)
			return ok && e.Run == 2 && e.Width == 640 && e.Height == 480 && e.FPS == 30
		},
		"stopped run 1": func(ev events.Event) bool {
			e, ok := ev.(events.CaptureStoppedEvent)
			return ok && e.Run == 1 && e.Reason == "idle"
		},
		"stopped run 2": func(ev events.Event) bool {
			e, ok := ev.(events.CaptureStoppedEvent)
			return ok && e.Run == 2 && e.Reason == "idle"
		},
	}
	for name, match := range checks {
		if n := pub.count(match); n != 1 {
			t.Errorf("%s events = %d, want 1", name, n)
		}
	}

	joined := pub.count(func(ev events.Event) bool {
		e, ok := ev.(events.SubscriberJoinedEvent)
		return ok && e.SubscriberID == "a" && e.Subscribers == 1
	})
	left := pub.count(func(ev events.Event) bool {
		e, ok := ev.(events.SubscriberLeftEvent)
		return ok && e.SubscriberID == "a" && e.Subscribers == 0
	})
	if joined != 2 || left != 2 {
		t.Errorf("joined/left events = %d/%d, want 2/2", joined, left)
	}
}

func TestSubscriberOfferReplacesUnread(t *testing.T) {
	s := newSubscriber("x")

	if s.offer(&EncodedFrame{Seq: 1}) {
		t.Error("first offer reported eviction")
	}
	if !s.offer(&EncodedFrame{Seq: 2}) {
		t.Error("second offer did not evict")
	}
	if f := <-s.Frames(); f.Seq != 2 {
		t.Errorf("queued seq = %d, want 2", f.Seq)
	}
	if s.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", s.Dropped())
	}

	if s.Err() != nil {
		t.Error("Err() before termination should be nil")
	}
	s.terminate(ErrHubClosed)
	s.terminate(errors.New("ignored"))
	if !errors.Is(s.Err(), ErrHubClosed) {
		t.Errorf("Err() = %v, want first terminal error", s.Err())
	}
}
