package application

import (
	"context"
	"fmt"
	"time"
)

type MQTTStatus struct {
	MessageCount      uint64
	LastTimePublished time.Time
	Connected         bool
}

type MQTTMessage interface {
	Topic() string
	Payload() []byte
}

// MQTTClient is a single transport session with the broker. A session is
// connected at most once; reconnecting means creating a new one.
type MQTTClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool

	Subscribe(ctx context.Context, topic string, qos byte, handler func(msg MQTTMessage)) error
	Publish(ctx context.Context, topic string, qos byte, retained bool, msg any) error
}

// MQTTClientFactory creates a fresh session. onConnectionLost is called from
// a transport goroutine when an established session drops.
type MQTTClientFactory func(onConnectionLost func(err error)) MQTTClient

// TransportError wraps a connect, subscribe or publish failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
