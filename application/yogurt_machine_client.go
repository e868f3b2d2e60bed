package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultQoS           = 1
	DefaultShutdownGrace = 5 * time.Second
)

// YogurtMachine is the surface offered to the UI. None of its methods block
// on the network and none of them return transport errors: failures show up
// in ConnectionState and in DeviceState.Status.
type YogurtMachine interface {
	Connect()
	Disconnect()
	IsConnected() bool

	StartProcess(targetTemp float64, hours int)
	StopProcess()

	CurrentState() DeviceState
	OnStateChanged(listener StateListener) (unsubscribe func())

	ConnectionState() ConnectionState
	Status() MQTTStatus
	Shutdown() error
}

type YogurtMachineClientParams struct {
	NewClient MQTTClientFactory

	Topics Topics
	QoS    byte

	ConnectTimeout       time.Duration
	PublishTimeout       time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	Backoff              BackoffPolicy
	ShutdownGrace        time.Duration

	Log zerolog.Logger
}

func (p *YogurtMachineClientParams) EnsureDefaults() {
	if p.ShutdownGrace == 0 {
		p.ShutdownGrace = DefaultShutdownGrace
	}
}

type YogurtMachineClient struct {
	params YogurtMachineClientParams

	store      *StateStore
	worker     *Worker
	supervisor *ConnectionSupervisor
	publisher  *CommandPublisher

	shutdownOnce sync.Once
	shutdownErr  error

	log zerolog.Logger
}

func NewYogurtMachineClient(params YogurtMachineClientParams) (*YogurtMachineClient, error) {
	if params.NewClient == nil {
		return nil, fmt.Errorf("NewClient is nil")
	}
	params.EnsureDefaults()

	c := &YogurtMachineClient{
		params: params,
		log:    params.Log,
		store:  NewStateStore(DefaultDeviceState(), params.Log.With().Str("module", "state-store").Logger()),
		worker: NewWorker(params.Log.With().Str("module", "worker").Logger()),
	}

	supervisor, err := NewConnectionSupervisor(ConnectionSupervisorParams{
		NewClient: params.NewClient,
		Worker:    c.worker,
		Store:     c.store,
		Subscriptions: []Subscription{
			{Topic: params.Topics.Temperature(), QoS: params.QoS, Handler: c.handleTemperature},
			{Topic: params.Topics.Status(), QoS: params.QoS, Handler: c.handleStatus},
		},
		ConnectTimeout:       params.ConnectTimeout,
		MaxReconnectAttempts: params.MaxReconnectAttempts,
		ReconnectDelay:       params.ReconnectDelay,
		Backoff:              params.Backoff,
		Log:                  params.Log.With().Str("module", "connection-supervisor").Logger(),
	})
	if err != nil {
		return nil, err
	}
	c.supervisor = supervisor

	publisher, err := NewCommandPublisher(CommandPublisherParams{
		Supervisor:     supervisor,
		Worker:         c.worker,
		Store:          c.store,
		Topic:          params.Topics.Command(),
		QoS:            params.QoS,
		PublishTimeout: params.PublishTimeout,
		Log:            params.Log.With().Str("module", "command-publisher").Logger(),
	})
	if err != nil {
		return nil, err
	}
	c.publisher = publisher

	return c, nil
}

// Connect requests a connection. The phase is checked on the worker, so a
// Connect right after Disconnect is honoured.
func (c *YogurtMachineClient) Connect() {
	c.supervisor.Connect()
}

func (c *YogurtMachineClient) Disconnect() {
	c.supervisor.Disconnect()
}

func (c *YogurtMachineClient) IsConnected() bool {
	return c.supervisor.IsConnected()
}

func (c *YogurtMachineClient) StartProcess(targetTemp float64, hours int) {
	c.publisher.StartProcess(targetTemp, hours)
}

func (c *YogurtMachineClient) StopProcess() {
	c.publisher.StopProcess()
}

func (c *YogurtMachineClient) CurrentState() DeviceState {
	return c.store.Get()
}

func (c *YogurtMachineClient) OnStateChanged(listener StateListener) func() {
	return c.store.Subscribe(listener)
}

func (c *YogurtMachineClient) ConnectionState() ConnectionState {
	return c.supervisor.State()
}

func (c *YogurtMachineClient) Status() MQTTStatus {
	return c.publisher.Status()
}

// Shutdown disconnects, drains the worker and then the state listeners, each
// within the configured grace period. Later calls return the first result.
func (c *YogurtMachineClient) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.log.Info().Msg("shutting down")

		c.supervisor.Disconnect()
		workerErr := c.worker.Shutdown(c.params.ShutdownGrace)
		if errors.Is(workerErr, ErrWorkerShutdownTimeout) {
			c.log.Warn().Err(workerErr).Msg("forced worker shutdown")
		}

		storeErr := c.store.Close(c.params.ShutdownGrace)
		if storeErr != nil {
			c.log.Warn().Err(storeErr).Msg("forced listener shutdown")
		}

		c.shutdownErr = errors.Join(workerErr, storeErr)
	})
	return c.shutdownErr
}

func (c *YogurtMachineClient) handleTemperature(_ context.Context, msg MQTTMessage) {
	temp, err := DecodeTemperature(msg.Payload())
	if err != nil {
		c.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("invalid temperature, keeping previous")
		return
	}
	c.log.Debug().Float64("temperature", temp).Msg("received temperature")

	c.store.Update(func(state DeviceState) DeviceState {
		return state.WithCurrentTemperature(temp)
	})
}

func (c *YogurtMachineClient) handleStatus(_ context.Context, msg MQTTMessage) {
	status, err := DecodeStatus(msg.Payload())
	if err != nil {
		c.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("invalid status, reporting ERROR")
		status = MachineStatusError
	} else {
		c.log.Debug().Str("status", string(status)).Msg("received status")
	}

	c.store.Update(func(state DeviceState) DeviceState {
		return state.WithStatus(status)
	})
}

var _ YogurtMachine = &YogurtMachineClient{}
