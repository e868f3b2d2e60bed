package application

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPublishTimeout = 5 * time.Second

	CommandStop = "STOP"
)

var ErrInvalidCommand = fmt.Errorf("invalid command")

// FormatStartCommand renders START,<temp with one decimal>,<hours>.
func FormatStartCommand(targetTemp float64, hours int) (string, error) {
	if math.IsNaN(targetTemp) || math.IsInf(targetTemp, 0) {
		return "", fmt.Errorf("%w: target temperature %v", ErrInvalidCommand, targetTemp)
	}
	if hours < 0 {
		return "", fmt.Errorf("%w: negative duration %d", ErrInvalidCommand, hours)
	}
	return fmt.Sprintf("START,%.1f,%d", targetTemp, hours), nil
}

type CommandPublisherParams struct {
	Supervisor *ConnectionSupervisor
	Worker     *Worker
	Store      *StateStore

	Topic          string
	QoS            byte
	PublishTimeout time.Duration

	Log zerolog.Logger
}

func (p *CommandPublisherParams) EnsureDefaults() {
	if p.Topic == "" {
		p.Topic = Topics{}.Command()
	}

	if p.PublishTimeout == 0 {
		p.PublishTimeout = DefaultPublishTimeout
	}
}

// CommandPublisher sends operator commands. Commands issued while not
// connected are dropped, never queued.
type CommandPublisher struct {
	params CommandPublisherParams

	msgCount          atomic.Uint64
	lastTimePublished atomic.Pointer[time.Time]

	log zerolog.Logger
}

func NewCommandPublisher(params CommandPublisherParams) (*CommandPublisher, error) {
	if params.Supervisor == nil {
		return nil, fmt.Errorf("Supervisor is nil")
	}
	if params.Worker == nil {
		return nil, fmt.Errorf("Worker is nil")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("Store is nil")
	}
	params.EnsureDefaults()

	p := &CommandPublisher{params: params, log: params.Log}

	t := time.Unix(0, 0)
	p.lastTimePublished.Store(&t)

	return p, nil
}

func (p *CommandPublisher) StartProcess(targetTemp float64, hours int) {
	cmd, err := FormatStartCommand(targetTemp, hours)
	if err != nil {
		p.log.Warn().Err(err).Msg("start command rejected")
		return
	}

	p.submit(cmd, func(state DeviceState) DeviceState {
		return state.WithProcess(targetTemp, hours).WithRunning(true)
	})
}

func (p *CommandPublisher) StopProcess() {
	p.submit(CommandStop, func(state DeviceState) DeviceState {
		return state.WithRunning(false)
	})
}

func (p *CommandPublisher) Status() MQTTStatus {
	return MQTTStatus{
		MessageCount:      p.msgCount.Load(),
		LastTimePublished: *p.lastTimePublished.Load(),
		Connected:         p.params.Supervisor.IsConnected(),
	}
}

func (p *CommandPublisher) submit(cmd string, onSent func(DeviceState) DeviceState) {
	if !p.params.Supervisor.IsConnected() {
		p.log.Warn().Str("command", cmd).Msg("cannot send command: not connected")
		return
	}

	err := p.params.Worker.Submit(func(ctx context.Context) {
		p.publish(ctx, cmd, onSent)
	})
	if err != nil {
		p.log.Warn().Err(err).Str("command", cmd).Msg("command dropped")
	}
}

// publish runs on the worker, where the connection state is authoritative.
func (p *CommandPublisher) publish(ctx context.Context, cmd string, onSent func(DeviceState) DeviceState) {
	if !p.params.Supervisor.IsConnected() {
		p.log.Warn().Str("command", cmd).Msg("cannot send command: not connected")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.params.PublishTimeout)
	defer cancel()

	err := p.params.Supervisor.publish(pubCtx, p.params.Topic, p.params.QoS, []byte(cmd))
	if err != nil {
		p.log.Error().Err(err).Str("command", cmd).Msg("failed to publish command")
		p.params.Supervisor.ReportTransportFailure(err)
		return
	}

	t := time.Now()
	p.lastTimePublished.Store(&t)
	p.msgCount.Add(1)
	p.log.Debug().Str("command", cmd).Msg("command published")

	p.params.Store.Update(onSent)
}
