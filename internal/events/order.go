package events

import "sync"

// RunOrder applies capture lifecycle events in run order. The bus queues
// each event type separately, so the stop of one run may be delivered
// after the start of the next.
type RunOrder struct {
	mu    sync.Mutex
	run   uint64
	ended bool
}

// Apply calls fn unless a later run, or the end of the same run, has
// already been applied. It reports whether fn was called. fn runs under
// the order's lock.
func (o *RunOrder) Apply(run uint64, ended bool, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if run < o.run || (run == o.run && (o.ended || !ended)) {
		return false
	}
	o.run, o.ended = run, ended
	fn()
	return true
}
