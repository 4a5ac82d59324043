package session

import (
	"context"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/autopeer-io/groundlink/internal/link/channel"
	"github.com/autopeer-io/groundlink/internal/link/command"
)

// item is one hand-off from another goroutine, applied on the loop goroutine.
type item interface {
	apply(ctx context.Context, s *Session, now time.Time)
}

type frameItem channel.Frame

func (f frameItem) apply(ctx context.Context, s *Session, now time.Time) {
	s.handleFrame(ctx, channel.Frame(f), now)
}

type submitItem command.Command

func (c submitItem) apply(ctx context.Context, s *Session, _ time.Time) {
	s.commands.Submit(ctx, command.Command(c))
}

type linkItem bool

func (l linkItem) apply(_ context.Context, s *Session, _ time.Time) {
	s.conn.OnGroundLinkAvailable(bool(l))
}

type savingItem bool

func (v savingItem) apply(_ context.Context, s *Session, _ time.Time) {
	s.conn.SetSaving(bool(v))
}

// sendItem is a fire-and-forget request that bypasses the command machine.
type sendItem struct {
	msg message.Message
}

func (r sendItem) apply(ctx context.Context, s *Session, _ time.Time) {
	if err := s.Send(ctx, r.msg); err != nil {
		s.logger.Error(err, "Failed to send request", "message", messageName(r.msg))
	}
}

// missionItemsItem requests mission items from..to inclusive.
type missionItemsItem struct {
	from, to uint16
}

func (r missionItemsItem) apply(ctx context.Context, s *Session, _ time.Time) {
	for seq := r.from; seq <= r.to; seq++ {
		err := s.Send(ctx, &common.MessageMissionRequestInt{
			TargetSystem:    s.cfg.Target.System,
			TargetComponent: s.cfg.Target.Component,
			Seq:             seq,
		})
		if err != nil {
			s.logger.Error(err, "Failed to request mission item", "seq", seq)
			return
		}
		if seq == r.to {
			return
		}
	}
}
