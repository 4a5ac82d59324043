// Package session owns one flight controller link: both state machines, the
// liveness tracker and the parameter session, driven from a single goroutine.
package session

import (
	"context"
	"errors"
	"maps"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/groundlink/internal/link/channel"
	"github.com/autopeer-io/groundlink/internal/link/command"
	"github.com/autopeer-io/groundlink/internal/link/connection"
	"github.com/autopeer-io/groundlink/internal/link/liveness"
	"github.com/autopeer-io/groundlink/internal/link/params"
	"github.com/autopeer-io/groundlink/internal/pkg/metrics"
	"github.com/autopeer-io/groundlink/pkg/log"
)

// ErrStopped is returned by hand-off calls once Run has returned.
var ErrStopped = errors.New("session stopped")

const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultInboxSize    = 512
)

// Notifier is the union of everything the session reports.
type Notifier interface {
	command.Notifier
	connection.Notifier
}

type Config struct {
	// Target is the flight controller address.
	Target command.Target

	// Own identity, used for log context only; the channel stamps frames.
	SystemID    uint8
	ComponentID uint8

	// RestrictSystem and RestrictComponent drop frames that do not come
	// from Target.
	RestrictSystem    bool
	RestrictComponent bool

	TickInterval     time.Duration
	AckTimeout       time.Duration
	MaxRetries       *int
	SettleDelay      time.Duration
	HeartbeatTimeout time.Duration
	StaleTimeout     time.Duration

	InboxSize int
}

func (c *Config) setDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.InboxSize <= 0 {
		c.InboxSize = DefaultInboxSize
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = liveness.DefaultHeartbeatTimeout
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = params.DefaultStaleTimeout
	}
}

type Session struct {
	cfg      Config
	ch       channel.Channel
	clock    clock.WithTicker
	notifier Notifier
	logger   log.Logger

	tracker  *liveness.Tracker
	params   *params.Session
	commands *command.Machine
	conn     *connection.Machine

	inbox chan item
	done  chan struct{}

	// Owned by the loop goroutine.
	telemetry Telemetry

	snapshot  atomic.Pointer[Snapshot]
	allParams atomic.Pointer[map[string]float32]
}

// New wires a session over ch. A nil clock uses the real clock and a nil
// notifier discards every notification.
func New(cfg Config, ch channel.Channel, clk clock.WithTicker, notifier Notifier, logger log.Logger) *Session {
	cfg.setDefaults()
	if clk == nil {
		clk = clock.RealClock{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	s := &Session{
		cfg:      cfg,
		ch:       ch,
		clock:    clk,
		logger:   log.OrStd(logger).WithName("session").WithValues("target", cfg.Target.System),
		tracker:  liveness.NewTracker(cfg.HeartbeatTimeout),
		params:   params.NewSession(cfg.StaleTimeout),
		inbox:    make(chan item, cfg.InboxSize),
		done:     make(chan struct{}),
		notifier: notifier,
	}

	s.commands = command.NewMachine(command.Config{
		Target:     cfg.Target,
		AckTimeout: cfg.AckTimeout,
		MaxRetries: cfg.MaxRetries,
	}, s, notifier, logger)

	s.conn = connection.NewMachine(connection.Config{
		SettleDelay: cfg.SettleDelay,
	}, s.tracker, s.params, s, (*connNotifier)(s), logger)

	s.publish(clk.Now())
	return s
}

// Run drives the session until ctx is cancelled or the channel closes.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pump(ctx)
	}()

	s.logger.Info("Link session started", "tick", s.cfg.TickInterval, "sysid", s.cfg.SystemID, "compid", s.cfg.ComponentID)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Link session stopped")
			return nil

		case <-pumpDone:
			if ctx.Err() == nil {
				s.logger.Warn("Channel closed, stopping link session")
			}
			return nil

		case it := <-s.inbox:
			it.apply(ctx, s, s.clock.Now())

		case <-ticker.C():
			s.tick(ctx, s.clock.Now())
		}
	}
}

// tick drains pending hand-offs first so every machine sees them before it
// evaluates timeouts.
func (s *Session) tick(ctx context.Context, now time.Time) {
	s.drain(ctx, now)
	s.conn.Tick(ctx, now)
	s.commands.Tick(ctx, now)
	s.publish(now)
}

func (s *Session) drain(ctx context.Context, now time.Time) {
	for {
		select {
		case it := <-s.inbox:
			it.apply(ctx, s, now)
		default:
			return
		}
	}
}

// pump moves inbound frames into the inbox. A full inbox drops the frame;
// every protocol step tolerates loss.
func (s *Session) pump(ctx context.Context) {
	frames := s.ch.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			select {
			case s.inbox <- frameItem(f):
			default:
				metrics.InboxDropped.Inc()
			}
		}
	}
}

// enqueue hands it to the loop, blocking until accepted or ctx ends.
func (s *Session) enqueue(ctx context.Context, it item) error {
	select {
	case s.inbox <- it:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues cmd to replace any in-flight command on the next pass of the loop.
func (s *Session) Submit(ctx context.Context, cmd command.Command) error {
	return s.enqueue(ctx, submitItem(cmd))
}

// SetGroundLink reports whether a lower layer path to the vehicle exists.
func (s *Session) SetGroundLink(ctx context.Context, available bool) error {
	return s.enqueue(ctx, linkItem(available))
}

// SetSaving flags an in-progress parameter write.
func (s *Session) SetSaving(ctx context.Context, saving bool) error {
	return s.enqueue(ctx, savingItem(saving))
}

// Snapshot returns the state published at the end of the last tick.
func (s *Session) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// AllParameters returns the last complete parameter set, or nil before the
// first full fetch.
func (s *Session) AllParameters() map[string]float32 {
	p := s.allParams.Load()
	if p == nil {
		return nil
	}
	return maps.Clone(*p)
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

type nopNotifier struct{}

func (nopNotifier) CommandDone(command.Outcome)                  {}
func (nopNotifier) CommandFailed(command.Outcome)                {}
func (nopNotifier) PhaseChanged(_, _ connection.Phase)           {}
func (nopNotifier) LivenessChanged(liveness.Kind, time.Duration) {}
func (nopNotifier) AllParametersReceived(map[string]float32)     {}
func (nopNotifier) LoadingChanged(bool)                          {}
func (nopNotifier) SavingChanged(bool)                           {}

// connNotifier stores the parameter set before forwarding connection events.
type connNotifier Session

func (n *connNotifier) PhaseChanged(from, to connection.Phase) {
	n.notifier.PhaseChanged(from, to)
}

func (n *connNotifier) LivenessChanged(kind liveness.Kind, age time.Duration) {
	n.notifier.LivenessChanged(kind, age)
}

func (n *connNotifier) AllParametersReceived(values map[string]float32) {
	n.allParams.Store(&values)
	n.notifier.AllParametersReceived(maps.Clone(values))
}

func (n *connNotifier) LoadingChanged(loading bool) {
	n.notifier.LoadingChanged(loading)
}

func (n *connNotifier) SavingChanged(saving bool) {
	n.notifier.SavingChanged(saving)
}
