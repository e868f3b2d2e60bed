package application

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"
)

type testMessage struct {
	topic   string
	payload []byte
}

func (m testMessage) Topic() string   { return m.topic }
func (m testMessage) Payload() []byte { return m.payload }

type MockMQTTClient struct {
	mock.Mock

	mu       sync.Mutex
	handlers map[string]func(msg MQTTMessage)
	onLost   func(err error)
}

func (m *MockMQTTClient) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockMQTTClient) Disconnect() {
	m.Called()
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) Subscribe(ctx context.Context, topic string, qos byte, handler func(msg MQTTMessage)) error {
	m.mu.Lock()
	if m.handlers == nil {
		m.handlers = make(map[string]func(msg MQTTMessage))
	}
	m.handlers[topic] = handler
	m.mu.Unlock()

	return m.Called(ctx, topic, qos, handler).Error(0)
}

func (m *MockMQTTClient) Publish(ctx context.Context, topic string, qos byte, retained bool, msg any) error {
	return m.Called(ctx, topic, qos, retained, msg).Error(0)
}

// Deliver simulates the transport invoking the subscription handler.
func (m *MockMQTTClient) Deliver(topic string, payload string) {
	m.mu.Lock()
	handler := m.handlers[topic]
	m.mu.Unlock()

	handler(testMessage{topic: topic, payload: []byte(payload)})
}

// Lose simulates the transport reporting a dropped connection.
func (m *MockMQTTClient) Lose(err error) {
	m.mu.Lock()
	onLost := m.onLost
	m.mu.Unlock()

	onLost(err)
}

var _ MQTTClient = &MockMQTTClient{}

// sessionFactory hands out sessions built by next, in order, and records them.
type sessionFactory struct {
	next func(n int) *MockMQTTClient

	mu       sync.Mutex
	sessions []*MockMQTTClient
	calls    atomic.Int64
}

func (f *sessionFactory) New(onConnectionLost func(err error)) MQTTClient {
	n := int(f.calls.Add(1))

	session := f.next(n)
	session.mu.Lock()
	session.onLost = onConnectionLost
	session.mu.Unlock()

	f.mu.Lock()
	f.sessions = append(f.sessions, session)
	f.mu.Unlock()
	return session
}

func (f *sessionFactory) Calls() int {
	return int(f.calls.Load())
}

func (f *sessionFactory) Session(i int) *MockMQTTClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

// healthySession connects and subscribes successfully.
func healthySession() *MockMQTTClient {
	m := &MockMQTTClient{}
	m.On("Connect", mock.Anything).Return(nil)
	m.On("Subscribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.On("Disconnect").Return().Maybe()
	return m
}

// failingSession fails to connect with err.
func failingSession(err error) *MockMQTTClient {
	m := &MockMQTTClient{}
	m.On("Connect", mock.Anything).Return(err)
	m.On("Disconnect").Return().Maybe()
	return m
}

type MockYogurtMachine struct {
	mock.Mock
}

func (m *MockYogurtMachine) Connect() {
	m.Called()
}

func (m *MockYogurtMachine) Disconnect() {
	m.Called()
}

func (m *MockYogurtMachine) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockYogurtMachine) StartProcess(targetTemp float64, hours int) {
	m.Called(targetTemp, hours)
}

func (m *MockYogurtMachine) StopProcess() {
	m.Called()
}

func (m *MockYogurtMachine) CurrentState() DeviceState {
	return m.Called().Get(0).(DeviceState)
}

func (m *MockYogurtMachine) OnStateChanged(listener StateListener) func() {
	return m.Called(listener).Get(0).(func())
}

func (m *MockYogurtMachine) ConnectionState() ConnectionState {
	return m.Called().Get(0).(ConnectionState)
}

func (m *MockYogurtMachine) Status() MQTTStatus {
	return m.Called().Get(0).(MQTTStatus)
}

func (m *MockYogurtMachine) Shutdown() error {
	return m.Called().Error(0)
}

var _ YogurtMachine = &MockYogurtMachine{}
