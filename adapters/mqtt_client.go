package adapters

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"yogurt-mqtt/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout    = 30 * time.Second
	MQTTDefaultPublishTimeout    = 5 * time.Second
	MQTTDefaultSubscribeTimeout  = 10 * time.Second
	MQTTDefaultKeepAlive         = 60 * time.Second
	MQTTDefaultDisconnectQuiesce = 250 // milliseconds
)

var (
	ErrMQTTNotConnected     = fmt.Errorf("not connected")
	ErrMQTTConnectTimeout   = fmt.Errorf("connect timeout")
	ErrMQTTPublishTimeout   = fmt.Errorf("publish timeout")
	ErrMQTTSubscribeTimeout = fmt.Errorf("subscribe timeout")
)

type MQTTClientParams struct {
	ClientID string
	Username string
	Password string
	MQTTUrl  string

	CleanSession bool
	KeepAlive    time.Duration

	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration

	// OnConnectionLost is called when an established connection drops.
	OnConnectionLost func(err error)

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTClientParams) EnsureDefaults() {
	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.PublishTimeout == 0 {
		m.PublishTimeout = MQTTDefaultPublishTimeout
	}

	if m.SubscribeTimeout == 0 {
		m.SubscribeTimeout = MQTTDefaultSubscribeTimeout
	}

	if m.KeepAlive == 0 {
		m.KeepAlive = MQTTDefaultKeepAlive
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

// MQTTClient is one paho session. Reconnection is left to the caller, so
// paho's own auto-reconnect and connect-retry are disabled.
type MQTTClient struct {
	params MQTTClientParams

	client mqtt.Client

	connected uint64

	log zerolog.Logger
}

func NewMQTTClient(params MQTTClientParams) *MQTTClient {
	params.EnsureDefaults()

	m := &MQTTClient{params: params, log: params.Log}
	m.client = m.newMqttClient()

	return m
}

func (m *MQTTClient) Connect(ctx context.Context) error {
	if atomic.LoadUint64(&m.connected) == 1 {
		return nil
	}

	err := m.wait(ctx, m.client.Connect(), m.params.ConnectTimeout, ErrMQTTConnectTimeout)
	if err != nil {
		return err
	}

	atomic.StoreUint64(&m.connected, 1)
	return nil
}

func (m *MQTTClient) Disconnect() {
	atomic.StoreUint64(&m.connected, 0)
	m.client.Disconnect(MQTTDefaultDisconnectQuiesce)
}

func (m *MQTTClient) IsConnected() bool {
	if atomic.LoadUint64(&m.connected) == 0 {
		return false
	}
	return true
}

func (m *MQTTClient) Publish(ctx context.Context, topic string, qos byte, retained bool, msg any) error {
	if !m.IsConnected() {
		return ErrMQTTNotConnected
	}

	return m.wait(ctx, m.client.Publish(topic, qos, retained, msg), m.params.PublishTimeout, ErrMQTTPublishTimeout)
}

func (m *MQTTClient) Subscribe(ctx context.Context, topic string, qos byte, handler func(msg application.MQTTMessage)) error {
	if !m.IsConnected() {
		return ErrMQTTNotConnected
	}

	token := m.client.Subscribe(topic, qos, func(client mqtt.Client, msg mqtt.Message) {
		handler(msg)
	})
	return m.wait(ctx, token, m.params.SubscribeTimeout, ErrMQTTSubscribeTimeout)
}

func (m *MQTTClient) PublishHandler(client mqtt.Client, msg mqtt.Message) {
	m.log.Debug().Str("topic", msg.Topic()).Msg("unrouted message")
}

func (m *MQTTClient) OnConnect(client mqtt.Client) {
	m.log.Info().Msgf("connected")
	atomic.StoreUint64(&m.connected, 1)
}

func (m *MQTTClient) OnConnectionLost(client mqtt.Client, err error) {
	m.log.Info().Msgf("connect lost: %v", err)
	atomic.StoreUint64(&m.connected, 0)

	if m.params.OnConnectionLost != nil {
		m.params.OnConnectionLost(err)
	}
}

func (m *MQTTClient) wait(ctx context.Context, token mqtt.Token, timeout time.Duration, errTimeout error) error {
	tc := time.NewTimer(timeout)
	defer tc.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tc.C:
		return errTimeout
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (m *MQTTClient) newMqttClient() mqtt.Client {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(m.params.MQTTUrl)
	opts.SetClientID(m.params.ClientID)
	if m.params.Username != "" {
		opts.SetUsername(m.params.Username)
		opts.SetPassword(m.params.Password)
	}

	opts.SetCleanSession(m.params.CleanSession)
	opts.SetKeepAlive(m.params.KeepAlive)
	opts.SetConnectTimeout(m.params.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)

	opts.SetDefaultPublishHandler(m.PublishHandler)
	opts.OnConnect = m.OnConnect
	opts.OnConnectionLost = m.OnConnectionLost

	return m.params.NewClientFunc(opts)
}

var _ application.MQTTClient = &MQTTClient{}
