package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_RunsJobsInOrder(t *testing.T) {
	w := NewWorker(zerolog.Nop())

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, w.Submit(func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}

	require.NoError(t, w.Shutdown(time.Second))

	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestWorker_SubmitAfterShutdown(t *testing.T) {
	w := NewWorker(zerolog.Nop())
	require.NoError(t, w.Shutdown(time.Second))

	err := w.Submit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrWorkerStopped)

	select {
	case <-w.Done():
	default:
		t.Fatal("worker still running")
	}
}

func TestWorker_JobPanic(t *testing.T) {
	w := NewWorker(zerolog.Nop())

	ran := false
	require.NoError(t, w.Submit(func(ctx context.Context) { panic("boom") }))
	require.NoError(t, w.Submit(func(ctx context.Context) { ran = true }))

	require.NoError(t, w.Shutdown(time.Second))
	assert.True(t, ran)
}

func TestWorker_ShutdownTimeout(t *testing.T) {
	w := NewWorker(zerolog.Nop())

	started := make(chan struct{})
	require.NoError(t, w.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))

	ranQueued := false
	require.NoError(t, w.Submit(func(ctx context.Context) { ranQueued = true }))

	<-started
	start := time.Now()
	err := w.Shutdown(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrWorkerShutdownTimeout)
	assert.Less(t, time.Since(start), time.Second)

	<-w.Done()
	assert.False(t, ranQueued)
}
