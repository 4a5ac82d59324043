// Package channel adapts a gomavlib node to the send/on-message primitive the
// link session consumes. It offers no ordering or delivery guarantee.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/autopeer-io/groundlink/pkg/log"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("channel closed")

// Frame is one decoded inbound message with its source address.
type Frame struct {
	SystemID    uint8
	ComponentID uint8
	Message     message.Message
}

// Channel is the transport seen by the session.
type Channel interface {
	// Send writes msg to every endpoint. It never waits for an answer.
	Send(ctx context.Context, msg message.Message) error

	// Frames delivers inbound frames. It is closed when the channel closes.
	Frames() <-chan Frame

	Close()
}

type Config struct {
	Endpoints []Endpoint

	// SystemID and ComponentID are stamped on every outbound frame.
	SystemID    uint8
	ComponentID uint8

	// HeartbeatPeriod is the period of the GCS heartbeat emitted by the node.
	// Zero keeps the gomavlib default.
	HeartbeatPeriod  time.Duration
	HeartbeatDisable bool

	// Buffer is the capacity of the inbound frame queue.
	Buffer int
}

// Node is a Channel backed by gomavlib.
type Node struct {
	node   *gomavlib.Node
	frames chan Frame
	logger log.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

var _ Channel = (*Node)(nil)

// Open starts a gomavlib node over the configured endpoints.
func Open(cfg Config, logger log.Logger) (*Node, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("at least one mavlink endpoint is required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}

	confs := make([]gomavlib.EndpointConf, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		conf, err := ep.conf()
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep, err)
		}
		confs = append(confs, conf)
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:        confs,
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      cfg.SystemID,
		OutComponentID:   cfg.ComponentID,
		HeartbeatDisable: cfg.HeartbeatDisable,
		HeartbeatPeriod:  cfg.HeartbeatPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mavlink node: %w", err)
	}

	n := &Node{
		node:   node,
		frames: make(chan Frame, cfg.Buffer),
		logger: log.OrStd(logger).WithName("channel"),
		closed: make(chan struct{}),
	}

	n.logger.Info("MAVLink node started", "endpoints", len(confs), "sysid", cfg.SystemID, "compid", cfg.ComponentID)

	go n.pump()
	return n, nil
}

func (n *Node) Send(ctx context.Context, msg message.Message) error {
	select {
	case <-n.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return n.node.WriteMessageAll(msg)
}

func (n *Node) Frames() <-chan Frame {
	return n.frames
}

func (n *Node) Close() {
	n.closeOnce.Do(func() {
		close(n.closed)
		n.node.Close()
		n.logger.Info("MAVLink node closed")
	})
}

// pump runs on the gomavlib event goroutine and hands frames off to the
// session; it is the only producer of n.frames.
func (n *Node) pump() {
	defer close(n.frames)

	for evt := range n.node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventFrame:
			f := Frame{
				SystemID:    e.SystemID(),
				ComponentID: e.ComponentID(),
				Message:     e.Message(),
			}
			select {
			case n.frames <- f:
			case <-n.closed:
				return
			}

		case *gomavlib.EventChannelOpen:
			n.logger.Info("MAVLink channel open", "channel", fmt.Sprint(e.Channel))

		case *gomavlib.EventChannelClose:
			n.logger.Warn("MAVLink channel closed", "channel", fmt.Sprint(e.Channel))

		case *gomavlib.EventParseError:
			n.logger.Debug("MAVLink parse error", "error", e.Error)
		}
	}
}
