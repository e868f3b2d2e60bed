package application

import "fmt"

type MachineStatus string

const (
	MachineStatusIdle               MachineStatus = "IDLE"
	MachineStatusRunning            MachineStatus = "RUNNING"
	MachineStatusCompleted          MachineStatus = "COMPLETED"
	MachineStatusTemperatureTooHigh MachineStatus = "TEMPERATURE_TOO_HIGH"
	MachineStatusTemperatureTooLow  MachineStatus = "TEMPERATURE_TOO_LOW"
	MachineStatusError              MachineStatus = "ERROR"
)

var machineStatuses = map[string]MachineStatus{
	string(MachineStatusIdle):               MachineStatusIdle,
	string(MachineStatusRunning):            MachineStatusRunning,
	string(MachineStatusCompleted):          MachineStatusCompleted,
	string(MachineStatusTemperatureTooHigh): MachineStatusTemperatureTooHigh,
	string(MachineStatusTemperatureTooLow):  MachineStatusTemperatureTooLow,
	string(MachineStatusError):             MachineStatusError,
}

// ParseMachineStatus matches name against the known statuses. The match is
// exact and case-sensitive.
func ParseMachineStatus(name string) (MachineStatus, bool) {
	status, ok := machineStatuses[name]
	return status, ok
}

const (
	DefaultTargetTemperature    = 42.0
	DefaultFermentationDuration = 8
)

// DeviceState is the last known telemetry of the machine. It is passed and
// stored by value; every change produces a new copy.
type DeviceState struct {
	CurrentTemperature   float64
	TargetTemperature    float64
	FermentationDuration int // hours
	IsRunning            bool
	Status               MachineStatus
}

func DefaultDeviceState() DeviceState {
	return DeviceState{
		CurrentTemperature:   0,
		TargetTemperature:    DefaultTargetTemperature,
		FermentationDuration: DefaultFermentationDuration,
		IsRunning:            false,
		Status:               MachineStatusIdle,
	}
}

func (s DeviceState) WithCurrentTemperature(t float64) DeviceState {
	s.CurrentTemperature = t
	return s
}

func (s DeviceState) WithStatus(status MachineStatus) DeviceState {
	s.Status = status
	return s
}

func (s DeviceState) WithRunning(running bool) DeviceState {
	s.IsRunning = running
	return s
}

// WithProcess records an operator-requested setpoint.
func (s DeviceState) WithProcess(targetTemp float64, hours int) DeviceState {
	s.TargetTemperature = targetTemp
	s.FermentationDuration = hours
	return s
}

func (s DeviceState) String() string {
	return fmt.Sprintf("temp=%.1f target=%.1f hours=%d running=%t status=%s",
		s.CurrentTemperature, s.TargetTemperature, s.FermentationDuration, s.IsRunning, s.Status)
}
