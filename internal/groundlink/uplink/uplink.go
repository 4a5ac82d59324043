// Package uplink mirrors the link state to an MQTT broker and, optionally,
// accepts command requests from it.
package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/groundlink/internal/groundlink/bus"
	"github.com/autopeer-io/groundlink/internal/groundlink/core"
	"github.com/autopeer-io/groundlink/internal/link/connection"
	"github.com/autopeer-io/groundlink/internal/link/session"
	"github.com/autopeer-io/groundlink/pkg/log"
	"github.com/autopeer-io/groundlink/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/groundlink/pkg/mqtt/topic"
)

const disconnectTimeout = 5 * time.Second

type Config struct {
	LinkID            string
	TopicRoot         string
	QoS               int
	TelemetryInterval time.Duration
	AcceptCommands    bool
}

type Uplink struct {
	cfg    Config
	mc     mqtt.Client
	topics *mqtttopic.TopicBuilder
	link   core.Link
	clock  clock.WithTicker
	logger log.Logger

	events   map[core.EventType]string
	retained map[core.EventType]bool

	// Loop state.
	online bool
	phase  connection.Phase
}

var _ core.Sender = (*Uplink)(nil)

func New(cfg Config, client mqtt.Client, link core.Link, clk clock.WithTicker, logger log.Logger) *Uplink {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = time.Second
	}
	topics := mqtttopic.NewTopicBuilder(cfg.TopicRoot)

	return &Uplink{
		cfg:    cfg,
		mc:     client,
		topics: topics,
		link:   link,
		clock:  clk,
		logger: log.OrStd(logger).WithName("uplink").WithValues("linkID", cfg.LinkID),
		events: map[core.EventType]string{
			core.EventCommandRequest: topics.Command(cfg.LinkID),
			core.EventCommandResult:  topics.CommandResult(cfg.LinkID),
			core.EventStatus:         topics.Status(cfg.LinkID),
			core.EventTelemetry:      topics.Telemetry(cfg.LinkID),
			core.EventParameters:     topics.Parameters(cfg.LinkID),
		},
		retained: map[core.EventType]bool{
			core.EventStatus:     true,
			core.EventParameters: true,
		},
	}
}

// OfflineWill returns the will topic and payload the client must be
// configured with for linkID.
func OfflineWill(topicRoot, linkID string) (string, []byte) {
	payload, _ := json.Marshal(core.Status{LinkID: linkID, Online: false, Reason: "UnexpectedDisconnect"})
	return mqtttopic.NewTopicBuilder(topicRoot).Status(linkID), payload
}

func (u *Uplink) Name() string { return "uplink" }

func (u *Uplink) Send(ctx context.Context, event core.EventType, payload []byte) error {
	topic, ok := u.events[event]
	if !ok {
		return fmt.Errorf("unmapped event: %s", event)
	}
	return u.mc.Publish(ctx, topic, u.cfg.QoS, u.retained[event], payload)
}

func (u *Uplink) SendJSON(ctx context.Context, event core.EventType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return u.Send(ctx, event, payload)
}

// Run publishes bus events from sub and periodic telemetry until ctx is
// done. The broker may be unreachable; publishes are dropped until it is.
func (u *Uplink) Run(ctx context.Context, sub bus.Subscription) error {
	if err := u.mc.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt client: %w", err)
	}
	defer u.stop()

	if u.cfg.AcceptCommands {
		topic := u.events[core.EventCommandRequest]
		if err := u.mc.Subscribe(ctx, topic, u.cfg.QoS, u.handleCommand); err != nil {
			// Restored by the client on connect.
			u.logger.Debug("Command subscription deferred", "topic", topic, "error", err)
		}
	}

	ticker := u.clock.NewTicker(u.cfg.TelemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			u.handleEvent(ctx, msg)
		case <-ticker.C():
			u.publishTelemetry(ctx)
		}
	}
}

func (u *Uplink) handleEvent(ctx context.Context, msg any) {
	switch ev := msg.(type) {
	case bus.PhaseEvent:
		u.phase = ev.To
		u.publish(ctx, core.EventStatus, u.status(true))
	case bus.CommandEvent:
		u.publish(ctx, core.EventCommandResult, core.NewCommandResult(u.cfg.LinkID, ev.Outcome, ev.Done, ev.At))
	case bus.ParametersEvent:
		u.publish(ctx, core.EventParameters, parametersPayload{LinkID: u.cfg.LinkID, At: ev.At.Unix(), Values: ev.Values})
	}
}

type telemetryPayload struct {
	LinkID string `json:"linkId"`
	session.Snapshot
}

type parametersPayload struct {
	LinkID string             `json:"linkId"`
	At     int64              `json:"at"`
	Values map[string]float32 `json:"values"`
}

func (u *Uplink) publishTelemetry(ctx context.Context) {
	connected := u.mc.IsConnected()
	if !connected {
		u.online = false
		return
	}
	if !u.online {
		// Overwrite a will that fired while we were away.
		u.online = true
		u.phase = u.link.Snapshot().Phase
		u.publish(ctx, core.EventStatus, u.status(true))
	}
	u.publish(ctx, core.EventTelemetry, telemetryPayload{LinkID: u.cfg.LinkID, Snapshot: u.link.Snapshot()})
}

func (u *Uplink) status(online bool) core.Status {
	return core.Status{LinkID: u.cfg.LinkID, Online: online, Phase: u.phase}
}

func (u *Uplink) publish(ctx context.Context, event core.EventType, v any) {
	if !u.mc.IsConnected() {
		return
	}
	if err := u.SendJSON(ctx, event, v); err != nil {
		u.logger.Error(err, "Publish failed", "event", event)
	}
}

func (u *Uplink) handleCommand(ctx context.Context, topic string, payload []byte) {
	var req core.CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		u.logger.Warn("Malformed command request", "topic", topic, "error", err)
		return
	}
	cmd, err := req.ToCommand()
	if err != nil {
		u.logger.Warn("Rejected command request", "topic", topic, "error", err)
		return
	}
	if err := u.link.Submit(ctx, cmd); err != nil && !errors.Is(err, context.Canceled) {
		u.logger.Error(err, "Submit failed", "command", cmd.ID)
		return
	}
	u.logger.Info("Command submitted from broker", "command", cmd.ID, "kind", cmd.Kind)
}

// stop publishes a clean offline status and disconnects.
func (u *Uplink) stop() {
	u.logger.Info("Disconnecting MQTT client...")
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	if u.mc.IsConnected() {
		st := u.status(false)
		st.Reason = "Shutdown"
		if err := u.SendJSON(ctx, core.EventStatus, st); err != nil {
			u.logger.Debug("Offline status not published", "error", err)
		}
	}
	u.mc.Disconnect(ctx)
}
