package backend

import (
	"iter"
	"slices"
	"sync"
	"time"

	"deedles.dev/wlcomp/input"
)

// InputQueue buffers input events between a backend's reader
// goroutines and the compositor's loop.
type InputQueue struct {
	start  time.Time
	notify func()

	m      sync.Mutex
	events []input.Event
}

// NewInputQueue returns a queue that calls notify whenever an event is
// pushed into it while it was empty.
func NewInputQueue(notify func()) *InputQueue {
	return &InputQueue{
		start:  time.Now(),
		notify: notify,
	}
}

// Now returns the current time in the queue's event timebase.
func (q *InputQueue) Now() time.Duration {
	return time.Since(q.start)
}

// At converts an absolute time into the queue's event timebase.
func (q *InputQueue) At(t time.Time) time.Duration {
	return t.Sub(q.start)
}

func (q *InputQueue) Push(evs ...input.Event) {
	if len(evs) == 0 {
		return
	}

	q.m.Lock()
	wasEmpty := len(q.events) == 0
	q.events = append(q.events, evs...)
	q.m.Unlock()

	if wasEmpty && (q.notify != nil) {
		q.notify()
	}
}

// Len returns the number of queued events.
func (q *InputQueue) Len() int {
	q.m.Lock()
	defer q.m.Unlock()
	return len(q.events)
}

// Drain returns a sequence that yields the events queued at the time
// iteration starts. Events not consumed because iteration stopped
// early stay queued.
func (q *InputQueue) Drain() iter.Seq[input.Event] {
	return func(yield func(input.Event) bool) {
		q.m.Lock()
		events := q.events
		q.events = nil
		q.m.Unlock()

		for i, ev := range events {
			if !yield(ev) {
				q.m.Lock()
				q.events = slices.Concat(events[i+1:], q.events)
				q.m.Unlock()
				return
			}
		}
	}
}
