package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*LinkOptions)(nil)

// LinkOptions tunes the session timing. The defaults match common autopilots.
type LinkOptions struct {
	TickInterval     time.Duration `json:"tick-interval" mapstructure:"tick-interval"`
	AckTimeout       time.Duration `json:"ack-timeout" mapstructure:"ack-timeout"`
	MaxRetries       int           `json:"max-retries" mapstructure:"max-retries"`
	SettleDelay      time.Duration `json:"settle-delay" mapstructure:"settle-delay"`
	HeartbeatTimeout time.Duration `json:"heartbeat-timeout" mapstructure:"heartbeat-timeout"`
	StaleTimeout     time.Duration `json:"parameter-stale-timeout" mapstructure:"parameter-stale-timeout"`
	InboxSize        int           `json:"inbox-size" mapstructure:"inbox-size"`

	// LinkID names this link in MQTT topics and stored snapshots.
	LinkID string `json:"id" mapstructure:"id"`
}

func NewLinkOptions() *LinkOptions {
	return &LinkOptions{
		TickInterval:     100 * time.Millisecond,
		AckTimeout:       200 * time.Millisecond,
		MaxRetries:       5,
		SettleDelay:      5 * time.Second,
		HeartbeatTimeout: 5 * time.Second,
		StaleTimeout:     7 * time.Second,
		InboxSize:        512,
		LinkID:           "fc-1",
	}
}

func (o *LinkOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	positive := map[string]time.Duration{
		"tick-interval":           o.TickInterval,
		"ack-timeout":             o.AckTimeout,
		"settle-delay":            o.SettleDelay,
		"heartbeat-timeout":       o.HeartbeatTimeout,
		"parameter-stale-timeout": o.StaleTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("--link.%s must be positive, got %s", name, d))
		}
	}
	if o.AckTimeout > 0 && o.TickInterval > o.AckTimeout {
		errs = append(errs, fmt.Errorf("--link.tick-interval (%s) must not exceed --link.ack-timeout (%s)", o.TickInterval, o.AckTimeout))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("--link.max-retries must not be negative"))
	}
	if o.InboxSize <= 0 {
		errs = append(errs, fmt.Errorf("--link.inbox-size must be positive"))
	}
	if o.LinkID == "" {
		errs = append(errs, fmt.Errorf("--link.id must not be empty"))
	}
	return errs
}

func (o *LinkOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.LinkID, "link.id", o.LinkID, "Identifier of this link in MQTT topics and stored snapshots.")
	fs.DurationVar(&o.TickInterval, "link.tick-interval", o.TickInterval, "Period of the session loop.")
	fs.DurationVar(&o.AckTimeout, "link.ack-timeout", o.AckTimeout, "Time to wait for COMMAND_ACK before resending.")
	fs.IntVar(&o.MaxRetries, "link.max-retries", o.MaxRetries, "Resends before a command fails; 0 sends every command once.")
	fs.DurationVar(&o.SettleDelay, "link.settle-delay", o.SettleDelay, "Delay after link up before the parameter fetch.")
	fs.DurationVar(&o.HeartbeatTimeout, "link.heartbeat-timeout", o.HeartbeatTimeout, "Heartbeat age at which the link counts as lost.")
	fs.DurationVar(&o.StaleTimeout, "link.parameter-stale-timeout", o.StaleTimeout, "Gap between PARAM_VALUE messages that aborts the fetch.")
	fs.IntVar(&o.InboxSize, "link.inbox-size", o.InboxSize, "Capacity of the session inbox.")
}
