package session

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/autopeer-io/groundlink/internal/link/channel"
	"github.com/autopeer-io/groundlink/internal/link/command"
	"github.com/autopeer-io/groundlink/internal/link/liveness"
)

// Telemetry holds the latest decoded values of the tracked streams.
type Telemetry struct {
	Roll  float32 `json:"roll"`
	Pitch float32 `json:"pitch"`
	Yaw   float32 `json:"yaw"`

	// BatteryVoltage is in volts; BatteryRemaining in percent, -1 when unknown.
	BatteryVoltage   float32 `json:"batteryVoltage"`
	BatteryRemaining int8    `json:"batteryRemaining"`

	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Altitude   float32 `json:"altitude"`
	GPSFix     uint8   `json:"gpsFix"`
	Satellites uint8   `json:"satellites"`

	Airspeed    float32 `json:"airspeed"`
	Groundspeed float32 `json:"groundspeed"`
	Heading     int16   `json:"heading"`
	Throttle    uint16  `json:"throttle"`
	Climb       float32 `json:"climb"`
}

// accept applies the optional source filter.
func (s *Session) accept(f channel.Frame) bool {
	if s.cfg.RestrictSystem && f.SystemID != s.cfg.Target.System {
		return false
	}
	if s.cfg.RestrictComponent && f.ComponentID != s.cfg.Target.Component {
		return false
	}
	return true
}

func (s *Session) handleFrame(ctx context.Context, f channel.Frame, now time.Time) {
	if !s.accept(f) {
		return
	}

	// Any accepted frame proves the ground link carries traffic.
	if !s.conn.LinkAvailable() {
		s.conn.OnGroundLinkAvailable(true)
	}

	switch m := f.Message.(type) {
	case *common.MessageHeartbeat:
		s.tracker.Record(liveness.Heartbeat, now)

	case *common.MessageAttitude:
		s.tracker.Record(liveness.Attitude, now)
		s.telemetry.Roll, s.telemetry.Pitch, s.telemetry.Yaw = m.Roll, m.Pitch, m.Yaw

	case *common.MessageSysStatus:
		s.tracker.Record(liveness.Battery, now)
		s.telemetry.BatteryVoltage = float32(m.VoltageBattery) / 1000
		s.telemetry.BatteryRemaining = m.BatteryRemaining

	case *common.MessageBatteryStatus:
		s.tracker.Record(liveness.Battery, now)
		s.telemetry.BatteryRemaining = m.BatteryRemaining

	case *common.MessageGpsRawInt:
		s.tracker.Record(liveness.GPS, now)
		s.telemetry.Latitude = float64(m.Lat) / 1e7
		s.telemetry.Longitude = float64(m.Lon) / 1e7
		s.telemetry.Altitude = float32(m.Alt) / 1000
		s.telemetry.GPSFix = uint8(m.FixType)
		s.telemetry.Satellites = m.SatellitesVisible

	case *common.MessageVfrHud:
		s.tracker.Record(liveness.VFR, now)
		s.telemetry.Airspeed = m.Airspeed
		s.telemetry.Groundspeed = m.Groundspeed
		s.telemetry.Heading = m.Heading
		s.telemetry.Throttle = m.Throttle
		s.telemetry.Climb = m.Climb

	case *common.MessageParamValue:
		s.conn.OnParameterReceived(m.ParamId, int(m.ParamIndex), int(m.ParamCount), m.ParamValue, now)

	case *common.MessageCommandAck:
		s.commands.OnAck(ctx, command.AckFromMessage(m))
	}
}

func messageName(m message.Message) string {
	return fmt.Sprintf("%T", m)
}
