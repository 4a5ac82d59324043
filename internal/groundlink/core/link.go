package core

import (
	"context"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/autopeer-io/groundlink/internal/link/command"
	"github.com/autopeer-io/groundlink/internal/link/session"
)

// Link is the flight controller session as seen by the outer surfaces.
// *session.Session implements it.
type Link interface {
	Submit(ctx context.Context, cmd command.Command) error
	Snapshot() session.Snapshot
	AllParameters() map[string]float32

	RequestAutopilotInfo(ctx context.Context) error
	RequestDataStream(ctx context.Context, stream common.MAV_DATA_STREAM, hz uint16) error
	RequestMissionList(ctx context.Context) error
	RequestMissionItems(ctx context.Context, total int) error
	SendMissionAck(ctx context.Context) error
}

var _ Link = (*session.Session)(nil)
