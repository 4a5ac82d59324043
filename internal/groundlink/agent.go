// Package groundlink assembles the flight controller session and the
// surfaces around it into one runnable agent.
package groundlink

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/groundlink/internal/groundlink/bus"
	"github.com/autopeer-io/groundlink/internal/groundlink/core"
	"github.com/autopeer-io/groundlink/internal/groundlink/paramstore"
	grpcserver "github.com/autopeer-io/groundlink/internal/groundlink/server/grpc"
	httpserver "github.com/autopeer-io/groundlink/internal/groundlink/server/http"
	"github.com/autopeer-io/groundlink/internal/groundlink/uplink"
	"github.com/autopeer-io/groundlink/internal/link/channel"
	"github.com/autopeer-io/groundlink/internal/link/session"
	"github.com/autopeer-io/groundlink/pkg/log"
)

type Agent struct {
	linkID string
	logger log.Logger

	bus     *bus.Bus
	channel channel.Channel
	session *session.Session

	store    *paramstore.SQLiteStore
	archive  *paramstore.S3Archive
	archiver *paramstore.Archiver

	// Optional surfaces.
	uplink *uplink.Uplink
	http   *httpserver.Server
	grpc   *grpcserver.Server
}

// Run starts every component and blocks until ctx is done or one of them
// fails. The session stopping ends the agent.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting groundlink", "linkID", a.linkID)
	defer a.closeResources()

	if a.archive != nil {
		if err := a.archive.CheckBucket(ctx); err != nil {
			return err
		}
	}

	components := a.components()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range components {
		g.Go(func() error {
			err := c.Run(ctx)
			if err != nil && ctx.Err() == nil {
				a.logger.Error(err, "Component failed", "component", c.Name())
				return err
			}
			a.logger.Debug("Component stopped", "component", c.Name())
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("Groundlink shutting down...")
	return err
}

// components subscribes every bus consumer before anything publishes.
func (a *Agent) components() []core.Component {
	params := a.bus.Subscribe(bus.TopicParameters)
	out := []core.Component{
		core.NewComponent("session", func(ctx context.Context) error {
			err := a.session.Run(ctx)
			if ctx.Err() == nil {
				// The channel closed underneath us; stop the rest.
				if err == nil {
					err = channel.ErrClosed
				}
			}
			return err
		}),
		core.NewComponent("archiver", func(ctx context.Context) error {
			return a.archiver.Run(ctx, params)
		}),
	}

	if a.uplink != nil {
		sub := a.bus.Subscribe(bus.TopicPhase, bus.TopicCommand, bus.TopicParameters)
		out = append(out, core.NewComponent(a.uplink.Name(), func(ctx context.Context) error {
			return a.uplink.Run(ctx, sub)
		}))
	}
	if a.grpc != nil {
		sub := a.bus.Subscribe(bus.TopicPhase)
		out = append(out, core.NewComponent(a.grpc.Name(), func(ctx context.Context) error {
			return a.grpc.Run(ctx, sub)
		}))
	}
	if a.http != nil {
		out = append(out, a.http)
	}
	return out
}

func (a *Agent) closeResources() {
	if a.channel != nil {
		a.channel.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error(err, "Failed to close parameter store")
		}
	}
}
