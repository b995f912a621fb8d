// Package ev implements the compositor's single dispatch loop. Work
// from other goroutines is posted to the loop as closures, which are
// collected into batches and run one at a time, so handlers never
// observe a half-applied update.
package ev

import (
	"context"
	"errors"

	"deedles.dev/xsync/cq"
	"github.com/sirupsen/logrus"
)

// ErrQuit can be returned, possibly wrapped, from a posted function to
// stop the loop.
var ErrQuit = errors.New("event loop stopped")

type Queue = cq.BulkQueue[func() error, *Events]

func NewQueue() *Queue {
	return cq.New(func(v []func() error) *Events {
		return &Events{
			events: v,
		}
	})
}

// Events represents a series of events from a Client's event queue.
type Events struct {
	events []func() error
}

// Flush processess all of the events represented by q.
func (q *Events) Flush() error {
	return errors.Join(Flush(q)...)
}

func Flush(queue *Events) (errs []error) {
	for _, ev := range queue.events {
		err := ev()
		if err != nil {
			errs = append(errs, err)
		}
	}
	queue.events = nil
	return errs
}

// Loop runs posted functions on a single goroutine.
type Loop struct {
	queue *Queue
	log   logrus.FieldLogger
	done  chan struct{}

	// Idle, if not nil, is called after every batch. It is used to
	// flush outgoing client messages.
	Idle func()
}

func NewLoop(log logrus.FieldLogger) *Loop {
	return &Loop{
		queue: NewQueue(),
		log:   log,
		done:  make(chan struct{}),
	}
}

// Post schedules f to run on the loop. It reports false if the loop
// has exited or ctx was canceled before f could be queued.
func (l *Loop) Post(ctx context.Context, f func() error) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.done:
		return false
	case l.queue.Add() <- f:
		return true
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run dispatches posted functions until ctx is canceled or a function
// returns ErrQuit. Other errors are logged and do not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	defer l.queue.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case events := <-l.queue.Get():
			var quit bool
			for _, err := range Flush(events) {
				if errors.Is(err, ErrQuit) {
					quit = true
					continue
				}
				l.log.WithError(err).Warn("event handler failed")
			}
			if l.Idle != nil {
				l.Idle()
			}
			if quit {
				return nil
			}
		}
	}
}
