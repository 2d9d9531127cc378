package streaming

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EncodedFrame is one JPEG image shared read-only by every subscriber.
type EncodedFrame struct {
	Seq       uint64
	Data      []byte
	Timestamp time.Time
}

// Subscriber receives frames from a Hub. The queue holds at most one
// frame; a newer frame replaces an unread one.
type Subscriber struct {
	id       string
	joinedAt time.Time
	frames   chan *EncodedFrame
	done     chan struct{}
	once     sync.Once
	err      error
	dropped  atomic.Uint64
}

func newSubscriber(id string) *Subscriber {
	return &Subscriber{
		id:       id,
		joinedAt: time.Now(),
		frames:   make(chan *EncodedFrame, 1),
		done:     make(chan struct{}),
	}
}

// ID returns the subscriber id.
func (s *Subscriber) ID() string {
	return s.id
}

// Frames returns the receive side of the queue. It is never closed; use
// Done to observe termination.
func (s *Subscriber) Frames() <-chan *EncodedFrame {
	return s.frames
}

// Done is closed when the subscriber is terminated.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error once Done is closed, nil before.
func (s *Subscriber) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Dropped returns how many queued frames were replaced before being read.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Next blocks until a frame arrives, the subscriber is terminated or ctx
// ends.
func (s *Subscriber) Next(ctx context.Context) (*EncodedFrame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// offer enqueues f without blocking, evicting an unread frame. Only the
// capture goroutine calls it, so after an eviction the send cannot fail.
func (s *Subscriber) offer(f *EncodedFrame) (evicted bool) {
	select {
	case s.frames <- f:
		return false
	default:
	}

	select {
	case <-s.frames:
		evicted = true
		s.dropped.Add(1)
	default:
	}

	select {
	case s.frames <- f:
	default:
	}
	return evicted
}

func (s *Subscriber) terminate(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
