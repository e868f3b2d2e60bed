package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultConnectTimeout       = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 5 * time.Second
)

var (
	ErrNotConnected       = fmt.Errorf("not connected")
	ErrReconnectExhausted = fmt.Errorf("reconnect attempts exhausted")
)

type ConnectionPhase int

const (
	PhaseDisconnected ConnectionPhase = iota
	PhaseConnecting
	PhaseConnected
	PhaseReconnectPending
)

func (p ConnectionPhase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnectPending:
		return "reconnect_pending"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ConnectionState is a snapshot of the supervisor's state machine.
// Attempt counts consecutive failed connection attempts; NextDeadline is set
// only while a retry is pending. Exhausted marks the terminal Disconnected
// state reached after MaxReconnectAttempts failures.
type ConnectionState struct {
	Phase        ConnectionPhase
	Attempt      int
	NextDeadline time.Time
	Exhausted    bool
}

// BackoffPolicy returns the delay before retry number attempt (1-based).
type BackoffPolicy func(attempt int) time.Duration

func ConstantBackoff(delay time.Duration) BackoffPolicy {
	return func(int) time.Duration {
		return delay
	}
}

// Subscription binds a topic to a handler. Handlers run on the worker.
type Subscription struct {
	Topic   string
	QoS     byte
	Handler func(ctx context.Context, msg MQTTMessage)
}

type ConnectionSupervisorParams struct {
	NewClient     MQTTClientFactory
	Worker        *Worker
	Store         *StateStore
	Subscriptions []Subscription

	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	Backoff              BackoffPolicy

	Log zerolog.Logger
}

func (p *ConnectionSupervisorParams) EnsureDefaults() {
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = DefaultConnectTimeout
	}

	if p.MaxReconnectAttempts == 0 {
		p.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	if p.ReconnectDelay == 0 {
		p.ReconnectDelay = DefaultReconnectDelay
	}

	if p.Backoff == nil {
		p.Backoff = ConstantBackoff(p.ReconnectDelay)
	}
}

// ConnectionSupervisor owns the transport session. Everything except
// Connect, Disconnect, State and IsConnected runs on the worker goroutine,
// which is the only writer of the state machine and the session handle.
type ConnectionSupervisor struct {
	params ConnectionSupervisorParams

	// worker-owned
	state      ConnectionState
	session    MQTTClient
	retryTimer *time.Timer

	snapshot atomic.Pointer[ConnectionState]

	// epoch is bumped by Disconnect; work scheduled under an older epoch
	// is discarded.
	epoch atomic.Uint64

	attemptMu     sync.Mutex
	attemptCancel context.CancelFunc

	log zerolog.Logger
}

func NewConnectionSupervisor(params ConnectionSupervisorParams) (*ConnectionSupervisor, error) {
	if params.NewClient == nil {
		return nil, fmt.Errorf("NewClient is nil")
	}
	if params.Worker == nil {
		return nil, fmt.Errorf("Worker is nil")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("Store is nil")
	}
	params.EnsureDefaults()

	s := &ConnectionSupervisor{params: params, log: params.Log}
	s.snapshot.Store(&ConnectionState{Phase: PhaseDisconnected})
	return s, nil
}

// State returns the last published state without blocking.
func (s *ConnectionSupervisor) State() ConnectionState {
	return *s.snapshot.Load()
}

func (s *ConnectionSupervisor) IsConnected() bool {
	return s.State().Phase == PhaseConnected
}

// Connect requests a connection. It is a no-op while connecting or connected.
func (s *ConnectionSupervisor) Connect() {
	epoch := s.epoch.Load()
	err := s.params.Worker.Submit(func(ctx context.Context) {
		s.connect(ctx, epoch)
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("connect request dropped")
	}
}

// Disconnect cancels a pending retry or an in-flight attempt and closes the
// session. It is idempotent.
func (s *ConnectionSupervisor) Disconnect() {
	s.epoch.Add(1)

	s.attemptMu.Lock()
	if s.attemptCancel != nil {
		s.attemptCancel()
	}
	s.attemptMu.Unlock()

	err := s.params.Worker.Submit(func(ctx context.Context) {
		s.disconnect()
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("disconnect request dropped")
	}
}

// ReportTransportFailure feeds a publish failure into the reconnect flow.
// Must be called on the worker.
func (s *ConnectionSupervisor) ReportTransportFailure(err error) {
	if s.state.Phase != PhaseConnected {
		return
	}
	s.fail(err)
}

// publish sends on the current session. Must be called on the worker.
func (s *ConnectionSupervisor) publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if s.state.Phase != PhaseConnected || s.session == nil {
		return ErrNotConnected
	}

	if err := s.session.Publish(ctx, topic, qos, false, payload); err != nil {
		return &TransportError{Op: "publish", Err: err}
	}
	return nil
}

func (s *ConnectionSupervisor) connect(ctx context.Context, epoch uint64) {
	if s.epoch.Load() != epoch {
		s.log.Debug().Msg("connect request superseded by disconnect")
		return
	}

	switch s.state.Phase {
	case PhaseConnecting, PhaseConnected:
		s.log.Debug().Stringer("phase", s.state.Phase).Msg("already connecting or connected")
		return
	case PhaseReconnectPending:
		s.stopRetryTimer()
	case PhaseDisconnected:
		s.state.Attempt = 0
	}

	s.attempt(ctx, epoch)
}

func (s *ConnectionSupervisor) retry(ctx context.Context, epoch uint64) {
	if s.epoch.Load() != epoch || s.state.Phase != PhaseReconnectPending {
		return
	}
	s.retryTimer = nil

	s.log.Info().Int("attempt", s.state.Attempt).Msg("reconnecting")
	s.attempt(ctx, epoch)
}

func (s *ConnectionSupervisor) attempt(ctx context.Context, epoch uint64) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.params.ConnectTimeout)
	defer cancel()

	if !s.trackAttempt(epoch, cancel) {
		return
	}
	defer s.untrackAttempt()

	s.setState(ConnectionState{Phase: PhaseConnecting, Attempt: s.state.Attempt})
	s.log.Info().Int("attempt", s.state.Attempt).Msg("connecting")

	var session MQTTClient
	session = s.params.NewClient(func(err error) {
		s.sessionLost(session, err)
	})

	err := s.open(attemptCtx, session)

	if s.epoch.Load() != epoch {
		session.Disconnect()
		s.log.Info().Msg("connection attempt aborted")
		return
	}

	if err != nil {
		session.Disconnect()
		s.fail(err)
		return
	}

	s.session = session
	s.setState(ConnectionState{Phase: PhaseConnected})
	s.log.Info().Msg("connected")

	s.params.Store.Update(func(state DeviceState) DeviceState {
		return state.WithStatus(MachineStatusIdle)
	})
}

func (s *ConnectionSupervisor) open(ctx context.Context, session MQTTClient) error {
	if err := session.Connect(ctx); err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	for _, sub := range s.params.Subscriptions {
		if err := session.Subscribe(ctx, sub.Topic, sub.QoS, s.route(session, sub)); err != nil {
			return &TransportError{Op: "subscribe " + sub.Topic, Err: err}
		}
		s.log.Debug().Str("topic", sub.Topic).Msg("subscribed")
	}
	return nil
}

// route hands incoming messages to the worker, keeping transport order, and
// drops those that arrive for a session that is no longer current.
func (s *ConnectionSupervisor) route(session MQTTClient, sub Subscription) func(msg MQTTMessage) {
	return func(msg MQTTMessage) {
		err := s.params.Worker.Submit(func(ctx context.Context) {
			if s.session != session {
				return
			}
			sub.Handler(ctx, msg)
		})
		if err != nil {
			s.log.Debug().Err(err).Str("topic", msg.Topic()).Msg("message dropped")
		}
	}
}

func (s *ConnectionSupervisor) sessionLost(session MQTTClient, err error) {
	submitErr := s.params.Worker.Submit(func(ctx context.Context) {
		if session == nil || s.session != session {
			return
		}
		s.log.Warn().Err(err).Msg("connection lost")
		s.fail(&TransportError{Op: "session", Err: err})
	})
	if submitErr != nil {
		s.log.Debug().Err(submitErr).Msg("connection lost event dropped")
	}
}

func (s *ConnectionSupervisor) fail(err error) {
	if s.session != nil {
		s.session.Disconnect()
		s.session = nil
	}
	s.stopRetryTimer()

	attempt := s.state.Attempt + 1
	if attempt >= s.params.MaxReconnectAttempts {
		s.setState(ConnectionState{Phase: PhaseDisconnected, Attempt: attempt, Exhausted: true})
		s.log.Error().Err(err).Int("attempt", attempt).Msg(ErrReconnectExhausted.Error())

		s.params.Store.Update(func(state DeviceState) DeviceState {
			return state.WithStatus(MachineStatusError)
		})
		return
	}

	delay := s.params.Backoff(attempt)
	s.setState(ConnectionState{
		Phase:        PhaseReconnectPending,
		Attempt:      attempt,
		NextDeadline: time.Now().Add(delay),
	})
	s.log.Error().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("connection failed, retry scheduled")

	epoch := s.epoch.Load()
	s.retryTimer = time.AfterFunc(delay, func() {
		err := s.params.Worker.Submit(func(ctx context.Context) {
			s.retry(ctx, epoch)
		})
		if err != nil {
			s.log.Debug().Err(err).Msg("retry dropped")
		}
	})
}

func (s *ConnectionSupervisor) disconnect() {
	s.stopRetryTimer()

	if s.session != nil {
		s.session.Disconnect()
		s.session = nil
	}

	if s.state.Phase != PhaseDisconnected {
		s.log.Info().Msg("disconnected")
	}
	s.setState(ConnectionState{Phase: PhaseDisconnected})
}

func (s *ConnectionSupervisor) stopRetryTimer() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *ConnectionSupervisor) setState(state ConnectionState) {
	s.state = state
	s.snapshot.Store(&state)
}

func (s *ConnectionSupervisor) trackAttempt(epoch uint64, cancel context.CancelFunc) bool {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	if s.epoch.Load() != epoch {
		return false
	}
	s.attemptCancel = cancel
	return true
}

func (s *ConnectionSupervisor) untrackAttempt() {
	s.attemptMu.Lock()
	s.attemptCancel = nil
	s.attemptMu.Unlock()
}
