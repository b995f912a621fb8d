package ev_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"deedles.dev/wlcomp/internal/ev"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInOrder(t *testing.T) {
	log, _ := test.NewNullLogger()
	loop := ev.NewLoop(log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []int
	go func() {
		for i := range 5 {
			loop.Post(ctx, func() error { got = append(got, i); return nil })
		}
		loop.Post(ctx, func() error { return ev.ErrQuit })
	}()

	require.NoError(t, loop.Run(ctx))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.False(t, loop.Post(ctx, func() error { return nil }))
}

func TestLoopLogsErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	loop := ev.NewLoop(log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		loop.Post(ctx, func() error { return errors.New("boom") })
		loop.Post(ctx, func() error { return ev.ErrQuit })
	}()

	require.NoError(t, loop.Run(ctx))
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, hook.AllEntries()[0].Level)
}

func TestFlush(t *testing.T) {
	q := ev.NewQueue()
	defer q.Stop()

	q.Add() <- func() error { return nil }
	q.Add() <- func() error { return errors.New("a") }

	var errs []error
	deadline := time.After(5 * time.Second)
	for len(errs) == 0 {
		select {
		case events := <-q.Get():
			errs = append(errs, ev.Flush(events)...)
		case <-deadline:
			t.Fatal("queue never produced events")
		}
	}
	assert.Len(t, errs, 1)
}
