package application

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewMonitorService_NoMachine(t *testing.T) {
	svc, err := NewMonitorService(MonitorServiceParams{})
	require.Error(t, err)
	require.Nil(t, svc)
}

func TestMonitorService_Run(t *testing.T) {
	mMachine := &MockYogurtMachine{}

	unsubscribed := false
	var listener StateListener

	mMachine.On("OnStateChanged", mock.Anything).Run(func(args mock.Arguments) {
		listener = args.Get(0).(StateListener)
	}).Return(func() { unsubscribed = true }).Once()
	mMachine.On("Connect").Run(func(args mock.Arguments) {
		listener(DefaultDeviceState().WithStatus(MachineStatusRunning))
	}).Return().Once()
	mMachine.On("Status").Return(MQTTStatus{MessageCount: 3, Connected: true})
	mMachine.On("ConnectionState").Return(ConnectionState{Phase: PhaseConnected})
	mMachine.On("Shutdown").Return(nil).Once()

	svc, err := NewMonitorService(MonitorServiceParams{
		Machine:        mMachine,
		ReportInterval: 5 * time.Millisecond,
		Log:            zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = svc.Run(ctx)
	require.NoError(t, err)
	assert.True(t, unsubscribed)

	mMachine.AssertExpectations(t)
	mMachine.AssertCalled(t, "Status")
}
