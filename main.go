package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	"yogurt-mqtt/adapters"
	"yogurt-mqtt/application"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagConfig,
	FlagMQTTUrl,
	FlagMQTTClientID,
	FlagMQTTUsername,
	FlagMQTTPassword,
	FlagMQTTTopicPrefix,
	FlagMQTTQoS,
	FlagMQTTCleanSession,
	FlagMQTTKeepAlive,
	FlagConnectTimeout,
	FlagPublishTimeout,
	FlagReconnectDelay,
	FlagMaxReconnectAttempts,
	FlagShutdownGrace,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "yogurt-mqtt",
		Usage:   "monitor and control a yogurt machine over mqtt",
		Version: "v0.1.0",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			switch ctx.String(FlagLogWriter.Name) {
			case "console":
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			case "json":
				logWriter = os.Stderr
			default:
				return fmt.Errorf("invalid log writer: %s", ctx.String(FlagLogWriter.Name))
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "yogurt-mqtt").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "monitor",
				Usage: "connect and log machine state until interrupted",
				Flags: []cli.Flag{FlagReportInterval},
				Action: func(ctx *cli.Context) error {
					cfg, err := loadConfig(ctx)
					if err != nil {
						return err
					}

					appCtx, cancel := signalContext(ctx.Context, logger)
					defer cancel()

					machine, err := newYogurtMachine(cfg, logger)
					if err != nil {
						return err
					}

					monitor, err := application.NewMonitorService(application.MonitorServiceParams{
						Machine:        machine,
						ReportInterval: cfg.ReportInterval,
						Log:            logger.With().Str("module", "monitor").Logger(),
					})
					if err != nil {
						return err
					}

					logger.Info().Str("broker", cfg.MQTT.URL).Str("client_id", cfg.MQTT.ClientID).Msg("service started")
					err = monitor.Run(appCtx)
					if err != nil {
						return err
					}

					logger.Info().Msg("service terminating...")
					return nil
				},
			},
			{
				Name:  "start",
				Usage: "start a fermentation",
				Flags: []cli.Flag{FlagTargetTemp, FlagHours, FlagWait},
				Action: func(ctx *cli.Context) error {
					return sendCommand(ctx, logger, func(machine application.YogurtMachine) {
						machine.StartProcess(ctx.Float64(FlagTargetTemp.Name), ctx.Int(FlagHours.Name))
					})
				},
			},
			{
				Name:  "stop",
				Usage: "stop the running fermentation",
				Flags: []cli.Flag{FlagWait},
				Action: func(ctx *cli.Context) error {
					return sendCommand(ctx, logger, func(machine application.YogurtMachine) {
						machine.StopProcess()
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (Config, error) {
	cfg, err := LoadConfig(ctx.String(FlagConfig.Name))
	if err != nil {
		return cfg, err
	}

	cfg.ApplyFlags(ctx)
	cfg.EnsureClientID()

	return cfg, cfg.Validate()
}

func newYogurtMachine(cfg Config, logger zerolog.Logger) (*application.YogurtMachineClient, error) {
	mqttLog := logger.With().Str("module", "mqtt-client").Logger()

	return application.NewYogurtMachineClient(application.YogurtMachineClientParams{
		NewClient: func(onConnectionLost func(err error)) application.MQTTClient {
			return adapters.NewMQTTClient(adapters.MQTTClientParams{
				ClientID:         cfg.MQTT.ClientID,
				Username:         cfg.MQTT.Username,
				Password:         cfg.MQTT.Password,
				MQTTUrl:          cfg.MQTT.URL,
				CleanSession:     cfg.MQTT.CleanSession,
				KeepAlive:        cfg.MQTT.KeepAlive,
				ConnectTimeout:   cfg.MQTT.ConnectTimeout,
				PublishTimeout:   cfg.MQTT.PublishTimeout,
				OnConnectionLost: onConnectionLost,
				Log:              mqttLog,
			})
		},
		Topics:               application.Topics{Prefix: cfg.MQTT.TopicPrefix},
		QoS:                  byte(cfg.MQTT.QoS),
		ConnectTimeout:       cfg.MQTT.ConnectTimeout,
		PublishTimeout:       cfg.MQTT.PublishTimeout,
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectDelay:       cfg.Reconnect.Delay,
		ShutdownGrace:        cfg.ShutdownGrace,
		Log:                  logger.With().Str("module", "yogurt-machine").Logger(),
	})
}

// sendCommand connects, issues one command and shuts down. Shutdown drains
// the worker, so the publish completes before the session closes; a forced
// shutdown is reported as the command's error.
func sendCommand(ctx *cli.Context, logger zerolog.Logger, issue func(machine application.YogurtMachine)) (err error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	appCtx, cancel := signalContext(ctx.Context, logger)
	defer cancel()

	machine, err := newYogurtMachine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = shutdownMachine(machine, logger, err)
	}()

	machine.Connect()
	if err = waitConnected(appCtx, machine, ctx.Duration(FlagWait.Name)); err != nil {
		return err
	}

	issue(machine)
	return nil
}

// shutdownMachine shuts machine down and returns err, or the shutdown error
// when err is nil.
func shutdownMachine(machine application.YogurtMachine, logger zerolog.Logger, err error) error {
	shutdownErr := machine.Shutdown()
	if shutdownErr == nil {
		return err
	}

	logger.Warn().Err(shutdownErr).Msg("shutdown")
	if err != nil {
		return err
	}
	return shutdownErr
}

func waitConnected(ctx context.Context, machine application.YogurtMachine, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if machine.IsConnected() {
			return nil
		}
		if machine.ConnectionState().Exhausted {
			return application.ErrReconnectExhausted
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for connection: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func signalContext(parent context.Context, logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(logger.WithContext(parent))
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(c)

		select {
		case <-c:
			logger.Warn().Msg("interrupt signal received")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
