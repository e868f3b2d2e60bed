package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

var (
	ErrWorkerStopped         = fmt.Errorf("worker stopped")
	ErrWorkerShutdownTimeout = fmt.Errorf("worker shutdown timeout")
)

// Job is a unit of work executed by a Worker. ctx is cancelled when the
// worker is forcibly terminated.
type Job func(ctx context.Context)

// Worker runs submitted jobs one at a time, in submission order, on a single
// goroutine. Submit never blocks.
type Worker struct {
	mu      sync.Mutex
	queue   []Job
	stopped bool

	wake chan struct{}
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	log zerolog.Logger
}

func NewWorker(log zerolog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	go w.run()
	return w
}

// Submit queues job. It returns ErrWorkerStopped once Shutdown was called.
func (w *Worker) Submit(job Job) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrWorkerStopped
	}
	w.queue = append(w.queue, job)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Shutdown stops accepting jobs and waits up to grace for the queued ones to
// finish. After that the worker context is cancelled, the remaining queue is
// dropped and ErrWorkerShutdownTimeout is returned.
func (w *Worker) Shutdown(grace time.Duration) error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-w.done:
		w.cancel()
		return nil
	case <-timer.C:
	}

	w.mu.Lock()
	dropped := len(w.queue)
	w.queue = nil
	w.mu.Unlock()
	w.cancel()

	w.log.Warn().Int("dropped_jobs", dropped).Msg("worker did not drain in time, terminating")

	// the in-flight job observes ctx; give it one more grace period to return
	timer.Reset(grace)
	select {
	case <-w.done:
	case <-timer.C:
		w.log.Error().Msg("worker job ignored cancellation")
	}
	return ErrWorkerShutdownTimeout
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) next() (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) == 0 {
		return nil, w.stopped
	}
	job := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return job, false
}

func (w *Worker) run() {
	defer close(w.done)

	for {
		job, exit := w.next()
		if exit {
			return
		}
		if job == nil {
			select {
			case <-w.wake:
			case <-w.ctx.Done():
				return
			}
			continue
		}

		if r := panics.Try(func() { job(w.ctx) }); r != nil {
			w.log.Error().Str("panic", r.String()).Msg("worker job panicked")
		}
	}
}
