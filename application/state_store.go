package application

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

var ErrStateStoreCloseTimeout = fmt.Errorf("state store close timeout")

// StateListener receives every published DeviceState snapshot.
type StateListener func(state DeviceState)

// StateStore holds the current DeviceState. Updates are applied one at a time
// in submission order. Each subscriber is served by its own goroutine, so a
// slow listener delays only itself and never the caller of Update.
type StateStore struct {
	current atomic.Pointer[DeviceState]

	// mu orders Update calls and fan-out to subscribers.
	mu          sync.Mutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	closed      bool

	wg conc.WaitGroup

	log zerolog.Logger
}

func NewStateStore(initial DeviceState, log zerolog.Logger) *StateStore {
	s := &StateStore{
		subscribers: make(map[uint64]*subscriber),
		log:         log,
	}
	s.current.Store(&initial)
	return s
}

// Get returns the latest snapshot without blocking.
func (s *StateStore) Get() DeviceState {
	return *s.current.Load()
}

// Update applies fn to the current snapshot, stores the result and queues it
// for every subscriber. It returns the new snapshot.
func (s *StateStore) Update(fn func(DeviceState) DeviceState) DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(*s.current.Load())
	s.current.Store(&next)

	if s.closed {
		return next
	}
	for _, sub := range s.subscribers {
		sub.push(next)
	}
	return next
}

// Subscribe registers listener and returns a function removing it. Snapshots
// still queued for the listener when it is removed are discarded.
func (s *StateStore) Subscribe(listener StateListener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}

	id := s.nextID
	s.nextID++

	sub := newSubscriber(listener)
	s.subscribers[id] = sub
	s.wg.Go(func() {
		sub.run(s.log.With().Uint64("subscriber_id", id).Logger())
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			sub.stop(false)
		})
	}
}

// Close delivers the snapshots already queued and waits up to grace for every
// subscriber goroutine to exit. Listeners still busy after that have their
// queues dropped and ErrStateStoreCloseTimeout is returned. Updates after
// Close are stored but not published.
func (s *StateStore) Close(grace time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*subscriber, 0, len(s.subscribers))
	for id, sub := range s.subscribers {
		sub.stop(true)
		subs = append(subs, sub)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	dropped := 0
	for _, sub := range subs {
		dropped += sub.stop(false)
	}
	s.log.Warn().Int("dropped_snapshots", dropped).Msg("state listeners did not finish in time, abandoning them")

	return ErrStateStoreCloseTimeout
}

type subscriber struct {
	listener StateListener

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []DeviceState
	stopped bool
	drain   bool
}

func newSubscriber(listener StateListener) *subscriber {
	sub := &subscriber{listener: listener}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

func (s *subscriber) push(state DeviceState) {
	s.mu.Lock()
	if !s.stopped {
		s.queue = append(s.queue, state)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// stop ends delivery. Without drain the queue is discarded; the number of
// discarded snapshots is returned.
func (s *subscriber) stop(drain bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.drain = drain

	dropped := 0
	if !drain {
		dropped = len(s.queue)
		s.queue = nil
	}
	s.cond.Signal()
	return dropped
}

func (s *subscriber) run(log zerolog.Logger) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if len(s.queue) == 0 || (s.stopped && !s.drain) {
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue[0] = DeviceState{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if r := panics.Try(func() { s.listener(next) }); r != nil {
			log.Error().Str("panic", r.String()).Msg("state listener panicked")
		}
	}
}
