package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*MavlinkOptions)(nil)

// MavlinkOptions describes the transport and addressing of the flight controller link.
type MavlinkOptions struct {
	// Endpoints in "<kind>:<address>" form, e.g. "udps:0.0.0.0:14550" or
	// "serial:/dev/ttyACM0:57600".
	Endpoints []string `json:"endpoints" mapstructure:"endpoints"`

	// SystemID and ComponentID are our own address on the link.
	SystemID    uint8 `json:"system-id" mapstructure:"system-id"`
	ComponentID uint8 `json:"component-id" mapstructure:"component-id"`

	TargetSystem    uint8 `json:"target-system" mapstructure:"target-system"`
	TargetComponent uint8 `json:"target-component" mapstructure:"target-component"`

	// RestrictSystem and RestrictComponent drop frames from any other source.
	RestrictSystem    bool `json:"restrict-sysid" mapstructure:"restrict-sysid"`
	RestrictComponent bool `json:"restrict-compid" mapstructure:"restrict-compid"`

	HeartbeatPeriod time.Duration `json:"heartbeat-period" mapstructure:"heartbeat-period"`
}

func NewMavlinkOptions() *MavlinkOptions {
	return &MavlinkOptions{
		Endpoints:       []string{"udps:0.0.0.0:14550"},
		SystemID:        255,
		ComponentID:     190,
		TargetSystem:    1,
		TargetComponent: 1,
		HeartbeatPeriod: time.Second,
	}
}

func (o *MavlinkOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if len(o.Endpoints) == 0 {
		errs = append(errs, fmt.Errorf("--mavlink.endpoints must not be empty"))
	}
	if o.SystemID == 0 {
		errs = append(errs, fmt.Errorf("--mavlink.system-id must be between 1 and 255"))
	}
	if o.TargetSystem == 0 {
		errs = append(errs, fmt.Errorf("--mavlink.target-system must be between 1 and 255"))
	}
	if o.SystemID == o.TargetSystem {
		errs = append(errs, fmt.Errorf("--mavlink.system-id must differ from --mavlink.target-system"))
	}
	if o.HeartbeatPeriod < 0 {
		errs = append(errs, fmt.Errorf("--mavlink.heartbeat-period must not be negative"))
	}
	return errs
}

func (o *MavlinkOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringSliceVar(&o.Endpoints, "mavlink.endpoints", o.Endpoints, "MAVLink endpoints (udps:, udpc:, udpb:, tcps:, tcpc:, serial:<device>[:<baud>]).")
	fs.Uint8Var(&o.SystemID, "mavlink.system-id", o.SystemID, "Our MAVLink system id.")
	fs.Uint8Var(&o.ComponentID, "mavlink.component-id", o.ComponentID, "Our MAVLink component id.")
	fs.Uint8Var(&o.TargetSystem, "mavlink.target-system", o.TargetSystem, "System id of the flight controller.")
	fs.Uint8Var(&o.TargetComponent, "mavlink.target-component", o.TargetComponent, "Component id of the flight controller.")
	fs.BoolVar(&o.RestrictSystem, "mavlink.restrict-sysid", o.RestrictSystem, "Ignore frames from other system ids.")
	fs.BoolVar(&o.RestrictComponent, "mavlink.restrict-compid", o.RestrictComponent, "Ignore frames from other component ids.")
	fs.DurationVar(&o.HeartbeatPeriod, "mavlink.heartbeat-period", o.HeartbeatPeriod, "Period of our own heartbeat. 0 disables it.")
}
