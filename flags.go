package main

import (
	"yogurt-mqtt/adapters"
	"yogurt-mqtt/application"

	"github.com/urfave/cli/v2"
)

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	Usage:    "one of: [console, json]",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagConfig = &cli.StringFlag{
	Name:     "config",
	Usage:    "path to a yaml config file",
	EnvVars:  []string{"YOGURT_CONFIG"},
	Required: false,
}

var FlagMQTTUrl = &cli.StringFlag{
	Name:    "mqtt-url",
	Usage:   "tcp://broker:port",
	EnvVars: []string{"MQTT_URL"},
	Value:   DefaultMQTTUrl,
}

var FlagMQTTClientID = &cli.StringFlag{
	Name:        "mqtt-client-id",
	EnvVars:     []string{"MQTT_CLIENT_ID"},
	DefaultText: "yogurt-mqtt-<uuid>",
}

var FlagMQTTUsername = &cli.StringFlag{
	Name:    "mqtt-username",
	EnvVars: []string{"MQTT_USERNAME"},
}

var FlagMQTTPassword = &cli.StringFlag{
	Name:    "mqtt-password",
	EnvVars: []string{"MQTT_PASSWORD"},
}

var FlagMQTTTopicPrefix = &cli.StringFlag{
	Name:    "mqtt-topic-prefix",
	EnvVars: []string{"MQTT_TOPIC_PREFIX"},
	Value:   application.DefaultTopicPrefix,
}

var FlagMQTTQoS = &cli.IntFlag{
	Name:    "mqtt-qos",
	Usage:   "one of: [0, 1, 2]",
	EnvVars: []string{"MQTT_QOS"},
	Value:   application.DefaultQoS,
}

var FlagMQTTCleanSession = &cli.BoolFlag{
	Name:    "mqtt-clean-session",
	EnvVars: []string{"MQTT_CLEAN_SESSION"},
	Value:   true,
}

var FlagMQTTKeepAlive = &cli.DurationFlag{
	Name:    "mqtt-keep-alive",
	EnvVars: []string{"MQTT_KEEP_ALIVE"},
	Value:   adapters.MQTTDefaultKeepAlive,
}

var FlagConnectTimeout = &cli.DurationFlag{
	Name:    "connect-timeout",
	EnvVars: []string{"CONNECT_TIMEOUT"},
	Value:   application.DefaultConnectTimeout,
}

var FlagPublishTimeout = &cli.DurationFlag{
	Name:    "publish-timeout",
	EnvVars: []string{"PUBLISH_TIMEOUT"},
	Value:   application.DefaultPublishTimeout,
}

var FlagReconnectDelay = &cli.DurationFlag{
	Name:    "reconnect-delay",
	EnvVars: []string{"RECONNECT_DELAY"},
	Value:   application.DefaultReconnectDelay,
}

var FlagMaxReconnectAttempts = &cli.IntFlag{
	Name:    "max-reconnect-attempts",
	Usage:   "consecutive failed connects, the first one included, before giving up; 1 disables reconnecting",
	EnvVars: []string{"MAX_RECONNECT_ATTEMPTS"},
	Value:   application.DefaultMaxReconnectAttempts,
}

var FlagShutdownGrace = &cli.DurationFlag{
	Name:    "shutdown-grace",
	EnvVars: []string{"SHUTDOWN_GRACE"},
	Value:   application.DefaultShutdownGrace,
}

var FlagReportInterval = &cli.DurationFlag{
	Name:    "report-interval",
	EnvVars: []string{"REPORT_INTERVAL"},
	Value:   application.DefaultReportInterval,
}

var FlagTargetTemp = &cli.Float64Flag{
	Name:  "target-temp",
	Usage: "fermentation temperature",
	Value: application.DefaultTargetTemperature,
}

var FlagHours = &cli.IntFlag{
	Name:  "hours",
	Usage: "fermentation duration in hours",
	Value: application.DefaultFermentationDuration,
}

var FlagWait = &cli.DurationFlag{
	Name:  "wait",
	Usage: "how long to wait for the broker connection",
	Value: DefaultWait,
}
