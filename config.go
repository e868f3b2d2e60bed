package main

import (
	"fmt"
	"os"
	"time"
	"yogurt-mqtt/adapters"
	"yogurt-mqtt/application"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMQTTUrl = "tcp://localhost:1883"
	DefaultWait    = time.Minute
)

// Config is the runtime configuration. Values come from defaults, then the
// optional yaml file, then explicitly set flags or env vars.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Reconnect ReconnectConfig `yaml:"reconnect"`

	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type MQTTConfig struct {
	URL         string `yaml:"url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`

	QoS          int           `yaml:"qos"`
	CleanSession bool          `yaml:"clean_session"`
	KeepAlive    time.Duration `yaml:"keep_alive"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

func DefaultConfig() Config {
	return Config{
		MQTT: MQTTConfig{
			URL:            DefaultMQTTUrl,
			TopicPrefix:    application.DefaultTopicPrefix,
			QoS:            application.DefaultQoS,
			CleanSession:   true,
			KeepAlive:      adapters.MQTTDefaultKeepAlive,
			ConnectTimeout: application.DefaultConnectTimeout,
			PublishTimeout: application.DefaultPublishTimeout,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: application.DefaultMaxReconnectAttempts,
			Delay:       application.DefaultReconnectDelay,
		},
		ShutdownGrace:  application.DefaultShutdownGrace,
		ReportInterval: application.DefaultReportInterval,
	}
}

// LoadConfig reads path over the defaults. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyFlags overrides the config with every flag set on the command line or
// through its env var.
func (c *Config) ApplyFlags(ctx *cli.Context) {
	if ctx.IsSet(FlagMQTTUrl.Name) {
		c.MQTT.URL = ctx.String(FlagMQTTUrl.Name)
	}
	if ctx.IsSet(FlagMQTTClientID.Name) {
		c.MQTT.ClientID = ctx.String(FlagMQTTClientID.Name)
	}
	if ctx.IsSet(FlagMQTTUsername.Name) {
		c.MQTT.Username = ctx.String(FlagMQTTUsername.Name)
	}
	if ctx.IsSet(FlagMQTTPassword.Name) {
		c.MQTT.Password = ctx.String(FlagMQTTPassword.Name)
	}
	if ctx.IsSet(FlagMQTTTopicPrefix.Name) {
		c.MQTT.TopicPrefix = ctx.String(FlagMQTTTopicPrefix.Name)
	}
	if ctx.IsSet(FlagMQTTQoS.Name) {
		c.MQTT.QoS = ctx.Int(FlagMQTTQoS.Name)
	}
	if ctx.IsSet(FlagMQTTCleanSession.Name) {
		c.MQTT.CleanSession = ctx.Bool(FlagMQTTCleanSession.Name)
	}
	if ctx.IsSet(FlagMQTTKeepAlive.Name) {
		c.MQTT.KeepAlive = ctx.Duration(FlagMQTTKeepAlive.Name)
	}
	if ctx.IsSet(FlagConnectTimeout.Name) {
		c.MQTT.ConnectTimeout = ctx.Duration(FlagConnectTimeout.Name)
	}
	if ctx.IsSet(FlagPublishTimeout.Name) {
		c.MQTT.PublishTimeout = ctx.Duration(FlagPublishTimeout.Name)
	}
	if ctx.IsSet(FlagMaxReconnectAttempts.Name) {
		c.Reconnect.MaxAttempts = ctx.Int(FlagMaxReconnectAttempts.Name)
	}
	if ctx.IsSet(FlagReconnectDelay.Name) {
		c.Reconnect.Delay = ctx.Duration(FlagReconnectDelay.Name)
	}
	if ctx.IsSet(FlagShutdownGrace.Name) {
		c.ShutdownGrace = ctx.Duration(FlagShutdownGrace.Name)
	}
	if ctx.IsSet(FlagReportInterval.Name) {
		c.ReportInterval = ctx.Duration(FlagReportInterval.Name)
	}
}

// EnsureClientID generates a unique client id when none was configured, so
// several instances can share a broker.
func (c *Config) EnsureClientID() {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "yogurt-mqtt-" + uuid.NewString()
	}
}

func (c Config) Validate() error {
	if c.MQTT.URL == "" {
		return fmt.Errorf("mqtt url is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d, must be 0, 1 or 2", c.MQTT.QoS)
	}
	if c.MQTT.Password != "" && c.MQTT.Username == "" {
		return fmt.Errorf("mqtt password set without username")
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("max reconnect attempts must be at least 1")
	}

	for name, d := range map[string]time.Duration{
		"keep alive":      c.MQTT.KeepAlive,
		"connect timeout": c.MQTT.ConnectTimeout,
		"publish timeout": c.MQTT.PublishTimeout,
		"reconnect delay": c.Reconnect.Delay,
		"shutdown grace":  c.ShutdownGrace,
		"report interval": c.ReportInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
