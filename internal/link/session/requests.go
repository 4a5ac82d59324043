package session

import (
	"context"
	"math"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// MAVLink component ids used for addressing.
const (
	ComponentAutopilot      uint8 = 1
	ComponentMissionPlanner uint8 = 190
)

// DataStreamSystem is the only system that answers REQUEST_DATA_STREAM.
const DataStreamSystem uint8 = 1

// Send writes msg to the channel. It satisfies command.Sender.
func (s *Session) Send(ctx context.Context, msg message.Message) error {
	return s.ch.Send(ctx, msg)
}

// RequestParameterList asks the target for every parameter.
func (s *Session) RequestParameterList(ctx context.Context) error {
	return s.Send(ctx, &common.MessageParamRequestList{
		TargetSystem:    s.cfg.Target.System,
		TargetComponent: s.cfg.Target.Component,
	})
}

// RequestAutopilotInfo asks the target for AUTOPILOT_VERSION. It is a single
// standalone COMMAND_LONG and leaves the command machine alone, so a
// command awaiting its ack keeps its slot.
func (s *Session) RequestAutopilotInfo(ctx context.Context) error {
	return s.enqueue(ctx, sendItem{msg: &common.MessageCommandLong{
		TargetSystem:    s.cfg.Target.System,
		TargetComponent: s.cfg.Target.Component,
		Command:         common.MAV_CMD_REQUEST_MESSAGE,
		Param1:          float32((&common.MessageAutopilotVersion{}).GetID()),
	}})
}

// RequestDataStream sets the rate of one legacy data stream. The request
// always goes to the primary autopilot.
func (s *Session) RequestDataStream(ctx context.Context, stream common.MAV_DATA_STREAM, hz uint16) error {
	return s.enqueue(ctx, sendItem{msg: &common.MessageRequestDataStream{
		TargetSystem:    DataStreamSystem,
		TargetComponent: ComponentAutopilot,
		ReqStreamId:     uint8(stream),
		ReqMessageRate:  hz,
		StartStop:       1,
	}})
}

// RequestMissionList asks the target for its mission item count.
func (s *Session) RequestMissionList(ctx context.Context) error {
	return s.enqueue(ctx, sendItem{msg: &common.MessageMissionRequestList{
		TargetSystem:    s.cfg.Target.System,
		TargetComponent: s.cfg.Target.Component,
	}})
}

// RequestMissionItems requests items 1..total-1. Item 0 is the home position.
// The whole range takes one inbox slot.
func (s *Session) RequestMissionItems(ctx context.Context, total int) error {
	if total <= 1 {
		return nil
	}
	return s.enqueue(ctx, missionItemsItem{from: 1, to: uint16(min(total, math.MaxUint16+1) - 1)})
}

// SendMissionAck acknowledges a completed mission download.
func (s *Session) SendMissionAck(ctx context.Context) error {
	return s.enqueue(ctx, sendItem{msg: &common.MessageMissionAck{
		TargetSystem:    s.cfg.Target.System,
		TargetComponent: s.cfg.Target.Component,
		Type:            common.MAV_MISSION_ACCEPTED,
	}})
}
