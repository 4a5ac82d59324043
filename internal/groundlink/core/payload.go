package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/autopeer-io/groundlink/internal/link/command"
	"github.com/autopeer-io/groundlink/internal/link/connection"
)

// CommandRequest is the wire form of a command submitted over HTTP or MQTT.
type CommandRequest struct {
	// Kind is "long" (default) or "int".
	Kind    string `json:"kind,omitempty"`
	Command uint16 `json:"command"`

	// Params holds param1..param7 for long commands and param1..param4 for
	// int commands.
	Params []float32 `json:"params,omitempty"`

	Confirmation uint8 `json:"confirmation,omitempty"`

	Frame        uint8   `json:"frame,omitempty"`
	Current      bool    `json:"current,omitempty"`
	Autocontinue bool    `json:"autocontinue,omitempty"`
	X            int32   `json:"x,omitempty"`
	Y            int32   `json:"y,omitempty"`
	Z            float32 `json:"z,omitempty"`
}

var ErrInvalidRequest = errors.New("invalid command request")

// ToCommand validates r and converts it.
func (r CommandRequest) ToCommand() (command.Command, error) {
	if r.Command == 0 {
		return command.Command{}, fmt.Errorf("%w: command id is required", ErrInvalidRequest)
	}

	switch r.Kind {
	case "", command.KindLong.String():
		if len(r.Params) > 7 {
			return command.Command{}, fmt.Errorf("%w: long commands take at most 7 params, got %d", ErrInvalidRequest, len(r.Params))
		}
		return command.NewLong(r.Command, r.Confirmation, r.Params...), nil
	case command.KindInt.String():
		if len(r.Params) > 4 {
			return command.Command{}, fmt.Errorf("%w: int commands take at most 4 params, got %d", ErrInvalidRequest, len(r.Params))
		}
		var p [4]float32
		copy(p[:], r.Params)
		return command.NewInt(r.Command, r.Frame, r.Current, r.Autocontinue, p[0], p[1], p[2], p[3], r.X, r.Y, r.Z), nil
	default:
		return command.Command{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	}
}

// CommandResult reports a finished command.
type CommandResult struct {
	LinkID   string `json:"linkId"`
	Command  uint16 `json:"command"`
	Done     bool   `json:"done"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
	Result   string `json:"result,omitempty"`
	At       int64  `json:"at"`
}

// NewCommandResult converts a terminal command outcome.
func NewCommandResult(linkID string, o command.Outcome, done bool, at time.Time) CommandResult {
	r := CommandResult{
		LinkID:   linkID,
		Command:  o.Command.ID,
		Done:     done,
		Attempts: o.Attempts,
		Reason:   string(o.Reason),
		At:       at.Unix(),
	}
	if done || o.Reason == command.ReasonRejected {
		r.Result = o.Result.String()
	}
	return r
}

// Status is the retained online state of a link. The will carries the
// offline variant.
type Status struct {
	LinkID string           `json:"linkId"`
	Online bool             `json:"online"`
	Phase  connection.Phase `json:"phase,omitempty"`
	Reason string           `json:"reason,omitempty"`
}
