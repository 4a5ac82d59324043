package groundlink

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/ptr"

	"github.com/autopeer-io/groundlink/internal/groundlink/bus"
	"github.com/autopeer-io/groundlink/internal/groundlink/paramstore"
	grpcserver "github.com/autopeer-io/groundlink/internal/groundlink/server/grpc"
	httpserver "github.com/autopeer-io/groundlink/internal/groundlink/server/http"
	"github.com/autopeer-io/groundlink/internal/groundlink/uplink"
	"github.com/autopeer-io/groundlink/internal/link/channel"
	"github.com/autopeer-io/groundlink/internal/link/command"
	"github.com/autopeer-io/groundlink/internal/link/session"
	"github.com/autopeer-io/groundlink/pkg/log"
	"github.com/autopeer-io/groundlink/pkg/mqtt"
	"github.com/autopeer-io/groundlink/pkg/options"
)

const storeOpenTimeout = 10 * time.Second

type Config struct {
	MavlinkOptions *options.MavlinkOptions
	LinkOptions    *options.LinkOptions
	MqttOptions    *options.MqttOptions
	HttpOptions    *options.HttpOptions
	GrpcOptions    *options.GrpcOptions
	StoreOptions   *options.StoreOptions
	S3Options      *options.S3Options
}

// NewAgent opens the flight controller channel and builds every enabled
// component around one session.
func (cfg *Config) NewAgent() (*Agent, error) {
	logger := log.WithValues("linkID", cfg.LinkOptions.LinkID)

	endpoints, err := channel.ParseEndpoints(cfg.MavlinkOptions.Endpoints)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		linkID: cfg.LinkOptions.LinkID,
		bus:    bus.New(0, logger),
		logger: logger,
	}

	if cfg.StoreOptions.Path != "" {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
		a.store, err = paramstore.OpenSQLite(ctx, cfg.StoreOptions.Path, cfg.StoreOptions.History)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to open parameter store: %w", err)
		}
	}
	if cfg.StoreOptions.Archive {
		if a.archive, err = paramstore.NewS3Archive(cfg.S3Options, logger); err != nil {
			a.closeResources()
			return nil, err
		}
	}

	node, err := channel.Open(channel.Config{
		Endpoints:        endpoints,
		SystemID:         cfg.MavlinkOptions.SystemID,
		ComponentID:      cfg.MavlinkOptions.ComponentID,
		HeartbeatPeriod:  cfg.MavlinkOptions.HeartbeatPeriod,
		HeartbeatDisable: cfg.MavlinkOptions.HeartbeatPeriod == 0,
	}, logger)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to open mavlink channel: %w", err)
	}
	a.channel = node

	a.session = session.New(cfg.sessionConfig(), a.channel, nil, a.bus, logger)

	var archive paramstore.Archive
	if a.archive != nil {
		archive = a.archive
	}
	var store paramstore.Store
	if a.store != nil {
		store = a.store
	}
	a.archiver = paramstore.NewArchiver(a.linkID, store, archive, a.session, logger)

	if cfg.MqttOptions.Enabled {
		if a.uplink, err = cfg.newUplink(a.session, logger); err != nil {
			a.closeResources()
			return nil, fmt.Errorf("failed to init mqtt uplink: %w", err)
		}
	}
	if cfg.HttpOptions.Enabled {
		a.http = httpserver.NewServer(cfg.HttpOptions, httpserver.Deps{
			LinkID:  a.linkID,
			Link:    a.session,
			Store:   store,
			Archive: archive,
			Index:   a.archiver,
		}, logger)
	}
	if cfg.GrpcOptions.Enabled {
		a.grpc = grpcserver.NewServer(cfg.GrpcOptions, a.session.Snapshot().Phase, logger)
	}

	return a, nil
}

func (cfg *Config) sessionConfig() session.Config {
	m, l := cfg.MavlinkOptions, cfg.LinkOptions
	return session.Config{
		Target:            command.Target{System: m.TargetSystem, Component: m.TargetComponent},
		SystemID:          m.SystemID,
		ComponentID:       m.ComponentID,
		RestrictSystem:    m.RestrictSystem,
		RestrictComponent: m.RestrictComponent,
		TickInterval:      l.TickInterval,
		AckTimeout:        l.AckTimeout,
		MaxRetries:        ptr.To(l.MaxRetries),
		SettleDelay:       l.SettleDelay,
		HeartbeatTimeout:  l.HeartbeatTimeout,
		StaleTimeout:      l.StaleTimeout,
		InboxSize:         l.InboxSize,
	}
}

func (cfg *Config) newUplink(link *session.Session, logger log.Logger) (*uplink.Uplink, error) {
	linkID := cfg.LinkOptions.LinkID
	willTopic, will := uplink.OfflineWill(cfg.MqttOptions.TopicRoot, linkID)

	mqttConfig := cfg.MqttOptions.ToClientConfig(willTopic, will)
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("groundlink-%s", linkID)
	}

	client, err := mqtt.NewClient(mqttConfig, logger)
	if err != nil {
		return nil, err
	}

	return uplink.New(uplink.Config{
		LinkID:            linkID,
		TopicRoot:         cfg.MqttOptions.TopicRoot,
		QoS:               cfg.MqttOptions.QoS,
		TelemetryInterval: cfg.MqttOptions.TelemetryInterval,
		AcceptCommands:    cfg.MqttOptions.AcceptCommands,
	}, client, link, nil, logger), nil
}
