package options

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/groundlink/pkg/mqtt"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions contains configuration for the telemetry uplink.
type MqttOptions struct {
	// Enabled turns the uplink on. The link runs fine without it.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify accepts any broker certificate. Testing only.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot prefixes every topic: {TopicRoot}/{suffix}/{linkID}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`

	QoS int `json:"qos" mapstructure:"qos"`

	// TelemetryInterval is the period of snapshot publishes.
	TelemetryInterval time.Duration `json:"telemetry-interval" mapstructure:"telemetry-interval"`

	// AcceptCommands subscribes to the command topic and forwards requests to the link.
	AcceptCommands bool `json:"accept-commands" mapstructure:"accept-commands"`
}

func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:            "mqtt://127.0.0.1:1883",
		KeepAlive:         60 * time.Second,
		ConnectTimeout:    5 * time.Second,
		SessionExpiry:     60,
		CleanStart:        true,
		TopicRoot:         "groundlink/v1",
		QoS:               1,
		TelemetryInterval: time.Second,
	}
}

func (o *MqttOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	errors := []error{}

	if _, err := url.Parse(o.Broker); err != nil || o.Broker == "" {
		errors = append(errors, fmt.Errorf("--mqtt.broker %q is not a valid url", o.Broker))
	}
	if o.QoS < 0 || o.QoS > 2 {
		errors = append(errors, fmt.Errorf("--mqtt.qos must be 0, 1 or 2"))
	}
	if o.TopicRoot == "" {
		errors = append(errors, fmt.Errorf("--mqtt.topic-root must not be empty"))
	}
	if o.TelemetryInterval <= 0 {
		errors = append(errors, fmt.Errorf("--mqtt.telemetry-interval must be positive"))
	}

	return errors
}

func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "mqtt.enabled", o.Enabled, "Publish link state to an MQTT broker.")
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The URL of the MQTT broker.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Explicit client ID. Defaults to groundlink-<link id>.")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT keep alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing the MQTT connection.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "MQTT session expiry interval in seconds.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Start with a clean MQTT session.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")

	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Prefix of every published topic.")
	fs.IntVar(&o.QoS, "mqtt.qos", o.QoS, "QoS of published messages.")
	fs.DurationVar(&o.TelemetryInterval, "mqtt.telemetry-interval", o.TelemetryInterval, "Period of telemetry snapshot publishes.")
	fs.BoolVar(&o.AcceptCommands, "mqtt.accept-commands", o.AcceptCommands, "Accept command requests from the command topic.")
}

// ToClientConfig builds the client config. will is published retained on an
// unclean disconnect when willTopic is set.
func (o *MqttOptions) ToClientConfig(willTopic string, will []byte) *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
		WillTopic:          willTopic,
		WillPayload:        will,
		WillQoS:            byte(o.QoS),
		WillRetain:         true,
	}
}
