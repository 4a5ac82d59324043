// Package command delivers MAVLink commands over a lossy link.
//
// A Machine owns at most one in-flight Command. Each tick it either sends
// the command, waits for a COMMAND_ACK, or resends after a fixed timeout
// until the retry budget is spent. Submitting a new command preempts the
// previous one without notifying anybody about it.
package command

import (
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// Kind selects how a Command is packed on the wire.
type Kind int

const (
	// KindLong packs as COMMAND_LONG: seven float params plus a confirmation counter.
	KindLong Kind = iota
	// KindInt packs as COMMAND_INT: frame, four float params, integer x/y and float z.
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindLong:
		return "long"
	case KindInt:
		return "int"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is a single MAVLink command request.
//
// For KindInt, Params[0:4] map to param1..param4, X and Y carry the integer
// positional params and Params[6] is z. Params[4] and Params[5] are unused.
type Command struct {
	Kind Kind
	ID   uint16

	// Confirmation is bumped on every resend of a KindLong command.
	Confirmation uint8
	RetryCount   int

	Params [7]float32

	Frame        uint8
	Current      uint8
	Autocontinue uint8
	X            int32
	Y            int32
}

// NewLong builds a COMMAND_LONG request. Missing params default to zero.
func NewLong(id uint16, confirmation uint8, params ...float32) Command {
	c := Command{Kind: KindLong, ID: id, Confirmation: confirmation}
	copy(c.Params[:], params)
	return c
}

// NewInt builds a COMMAND_INT request.
func NewInt(id uint16, frame uint8, current, autocontinue bool, p1, p2, p3, p4 float32, x, y int32, z float32) Command {
	c := Command{
		Kind:  KindInt,
		ID:    id,
		Frame: frame,
		X:     x,
		Y:     y,
	}
	c.Params[0], c.Params[1], c.Params[2], c.Params[3] = p1, p2, p3, p4
	c.Params[6] = z
	if current {
		c.Current = 1
	}
	if autocontinue {
		c.Autocontinue = 1
	}
	return c
}

// Target addresses the component that should execute a command.
type Target struct {
	System    uint8
	Component uint8
}

// Message packs the command for t.
func (c Command) Message(t Target) message.Message {
	if c.Kind == KindInt {
		return &common.MessageCommandInt{
			TargetSystem:    t.System,
			TargetComponent: t.Component,
			Frame:           common.MAV_FRAME(c.Frame),
			Command:         common.MAV_CMD(c.ID),
			Current:         c.Current,
			Autocontinue:    c.Autocontinue,
			Param1:          c.Params[0],
			Param2:          c.Params[1],
			Param3:          c.Params[2],
			Param4:          c.Params[3],
			X:               c.X,
			Y:               c.Y,
			Z:               c.Params[6],
		}
	}

	return &common.MessageCommandLong{
		TargetSystem:    t.System,
		TargetComponent: t.Component,
		Command:         common.MAV_CMD(c.ID),
		Confirmation:    c.Confirmation,
		Param1:          c.Params[0],
		Param2:          c.Params[1],
		Param3:          c.Params[2],
		Param4:          c.Params[3],
		Param5:          c.Params[4],
		Param6:          c.Params[5],
		Param7:          c.Params[6],
	}
}

// Ack is the part of a COMMAND_ACK the machine cares about.
type Ack struct {
	Command uint16
	Result  common.MAV_RESULT
}

// AckFromMessage extracts an Ack from a decoded COMMAND_ACK.
func AckFromMessage(m *common.MessageCommandAck) Ack {
	return Ack{Command: uint16(m.Command), Result: m.Result}
}

// OK reports whether the target accepted the command.
func (a Ack) OK() bool {
	return a.Result == common.MAV_RESULT_ACCEPTED
}
