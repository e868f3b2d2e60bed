package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultReportInterval = 30 * time.Second

type MonitorService interface {
	Run(ctx context.Context) error
}

type MonitorServiceParams struct {
	Machine YogurtMachine

	ReportInterval time.Duration

	Log zerolog.Logger
}

type monitorService struct {
	params MonitorServiceParams

	log zerolog.Logger
}

func NewMonitorService(params MonitorServiceParams) (MonitorService, error) {
	if params.Machine == nil {
		return nil, fmt.Errorf("Machine is nil")
	}
	if params.ReportInterval == 0 {
		params.ReportInterval = DefaultReportInterval
	}
	return &monitorService{params: params, log: params.Log}, nil
}

// Run connects the machine, logs every state change and a periodic
// connection report until ctx is done, then shuts the machine down.
func (m monitorService) Run(ctx context.Context) error {
	g := errgroup.Group{}

	// state change logger
	g.Go(func() error {
		unsubscribe := m.params.Machine.OnStateChanged(func(state DeviceState) {
			m.log.Info().
				Float64("current_temperature", state.CurrentTemperature).
				Float64("target_temperature", state.TargetTemperature).
				Int("fermentation_hours", state.FermentationDuration).
				Bool("is_running", state.IsRunning).
				Str("status", string(state.Status)).
				Msg("state changed")
		})
		defer unsubscribe()

		m.log.Info().Msg("connecting")
		m.params.Machine.Connect()

		<-ctx.Done()
		return nil
	})

	// connection report
	g.Go(func() error {
		ticker := time.NewTicker(m.params.ReportInterval)
		defer ticker.Stop()

		lastStatus := MQTTStatus{}

	ReporterLoop:
		for {
			select {
			case <-ctx.Done():
				break ReporterLoop
			case <-ticker.C:
				newStatus := m.params.Machine.Status()
				conn := m.params.Machine.ConnectionState()

				m.log.Info().
					Str("phase", conn.Phase.String()).
					Int("attempt", conn.Attempt).
					Bool("exhausted", conn.Exhausted).
					Uint64("commands_sent", newStatus.MessageCount-lastStatus.MessageCount).
					Time("last_time_published", newStatus.LastTimePublished).
					Msg("connection report")

				lastStatus = newStatus
			}
		}

		return nil
	})

	err := g.Wait()

	if shutdownErr := m.params.Machine.Shutdown(); shutdownErr != nil {
		m.log.Warn().Err(shutdownErr).Msg("shutdown")
	}
	return err
}
