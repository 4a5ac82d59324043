package command

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/looplab/fsm"
	"k8s.io/utils/ptr"

	"github.com/autopeer-io/groundlink/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/groundlink/internal/pkg/util/fsm"
	"github.com/autopeer-io/groundlink/pkg/log"
)

// State of the command session.
type State string

const (
	StateReady       State = "ready"
	StateSending     State = "sending"
	StateAwaitingAck State = "awaiting_ack"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

const (
	EventSubmit  = "submit"
	EventSent    = "sent"
	EventRetry   = "retry"
	EventExhaust = "exhaust"
	EventAck     = "ack"
	EventNack    = "nack"
	EventRelease = "release"
)

const (
	DefaultAckTimeout = 200 * time.Millisecond
	DefaultMaxRetries = 5
)

// Reason explains a failed command.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonRejected  Reason = "rejected"
	ReasonExhausted Reason = "exhausted"
)

// Outcome is reported once per command that reaches Done or Failed.
type Outcome struct {
	Command  Command
	Attempts int
	Reason   Reason
	// Result is the ack result for done and rejected commands.
	Result common.MAV_RESULT
}

// Sender writes one packed message to the link.
type Sender interface {
	Send(ctx context.Context, msg message.Message) error
}

// Notifier receives terminal outcomes.
type Notifier interface {
	CommandDone(o Outcome)
	CommandFailed(o Outcome)
}

type Config struct {
	Target     Target
	AckTimeout time.Duration
	// MaxRetries is the number of resends after the first attempt. Nil
	// selects DefaultMaxRetries; zero sends every command exactly once.
	MaxRetries *int
}

func (c *Config) setDefaults() {
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.MaxRetries == nil || *c.MaxRetries < 0 {
		c.MaxRetries = ptr.To(DefaultMaxRetries)
	}
}

// Machine is driven from a single goroutine: Submit, Tick and OnAck must not
// be called concurrently.
type Machine struct {
	fsm        *fsm.FSM
	cfg        Config
	maxRetries int

	sender   Sender
	notifier Notifier
	logger   log.Logger

	// current is non-nil exactly in Sending and AwaitingAck.
	current  *Command
	sentAt   time.Time
	attempts int
	outcome  Outcome
}

func NewMachine(cfg Config, sender Sender, notifier Notifier, logger log.Logger) *Machine {
	cfg.setDefaults()
	m := &Machine{
		cfg:        cfg,
		maxRetries: *cfg.MaxRetries,
		sender:     sender,
		notifier:   notifier,
		logger:     log.OrStd(logger).WithName("command"),
	}

	all := []string{string(StateReady), string(StateSending), string(StateAwaitingAck), string(StateDone), string(StateFailed)}
	events := fsm.Events{
		{Name: EventSubmit, Src: all, Dst: string(StateSending)},
		{Name: EventSent, Src: []string{string(StateSending)}, Dst: string(StateAwaitingAck)},
		{Name: EventRetry, Src: []string{string(StateAwaitingAck)}, Dst: string(StateSending)},
		{Name: EventExhaust, Src: []string{string(StateAwaitingAck)}, Dst: string(StateFailed)},
		{Name: EventAck, Src: []string{string(StateAwaitingAck)}, Dst: string(StateDone)},
		{Name: EventNack, Src: []string{string(StateSending), string(StateAwaitingAck)}, Dst: string(StateFailed)},
		{Name: EventRelease, Src: []string{string(StateDone), string(StateFailed)}, Dst: string(StateReady)},
	}

	callbacks := fsm.Callbacks{
		"enter_" + string(StateSending): fsmutil.WrapEvent(m.actionEnterSending),
		"enter_" + string(StateDone):    fsmutil.WrapEvent(m.actionEnterDone),
		"enter_" + string(StateFailed):  fsmutil.WrapEvent(m.actionEnterFailed),
		"enter_state": func(_ context.Context, e *fsm.Event) {
			m.logger.Debug("Command state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
		},
	}

	m.fsm = fsm.NewFSM(string(StateReady), events, callbacks)
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return State(m.fsm.Current())
}

// Current returns a copy of the in-flight command, if any.
func (m *Machine) Current() (Command, bool) {
	if m.current == nil {
		return Command{}, false
	}
	return *m.current, true
}

// Submit replaces whatever is in flight with cmd. An in-flight command is
// dropped without a done or failed notification. A command that already
// finished but was not released yet is reported first.
func (m *Machine) Submit(ctx context.Context, cmd Command) {
	if s := m.State(); s == StateDone || s == StateFailed {
		m.finish(ctx)
	}

	cmd.RetryCount = 0
	if m.current != nil {
		m.logger.Info("Preempting in-flight command", "dropped", m.current.ID, "next", cmd.ID)
	}
	m.current = &cmd
	m.attempts = 0
	m.outcome = Outcome{}

	// Sending -> Sending is a NoTransitionError, which Fire swallows.
	if err := fsmutil.Fire(ctx, m.fsm, EventSubmit); err != nil {
		m.logger.Error(err, "Failed to submit command", "command", cmd.ID)
	}
}

// Tick advances the machine by one poll interval.
func (m *Machine) Tick(ctx context.Context, now time.Time) {
	var err error

	switch m.State() {
	case StateReady:
		// nothing in flight

	case StateSending:
		m.send(ctx, now)
		err = fsmutil.Fire(ctx, m.fsm, EventSent)

	case StateAwaitingAck:
		if now.Sub(m.sentAt) <= m.cfg.AckTimeout {
			return
		}
		if m.current.RetryCount >= m.maxRetries {
			m.logger.Warn("Command retries exhausted", "command", m.current.ID, "attempts", m.attempts)
			err = fsmutil.Fire(ctx, m.fsm, EventExhaust)
			break
		}
		m.logger.Debug("No ack within timeout, resending", "command", m.current.ID, "retry", m.current.RetryCount+1)
		err = fsmutil.Fire(ctx, m.fsm, EventRetry)

	case StateDone, StateFailed:
		m.finish(ctx)
	}

	if err != nil {
		m.logger.Error(err, "Error during command FSM event processing", "state", m.fsm.Current())
	}
}

// finish reports the outcome of a Done or Failed command and returns the
// machine to Ready.
func (m *Machine) finish(ctx context.Context) {
	o, done := m.outcome, m.State() == StateDone
	m.release()
	if err := fsmutil.Fire(ctx, m.fsm, EventRelease); err != nil {
		m.logger.Error(err, "Error releasing command", "state", m.fsm.Current())
	}

	label := "done"
	if done {
		m.logger.Info("Command done", "command", o.Command.ID, "attempts", o.Attempts)
	} else {
		label = string(o.Reason)
		m.logger.Warn("Command failed", "command", o.Command.ID, "reason", label, "attempts", o.Attempts)
	}
	metrics.CommandResultTotal.WithLabelValues(o.Command.Kind.String(), label).Inc()
	metrics.CommandAttempts.Observe(float64(o.Attempts))

	if m.notifier == nil {
		return
	}
	if done {
		m.notifier.CommandDone(o)
	} else {
		m.notifier.CommandFailed(o)
	}
}

// OnAck applies a COMMAND_ACK. Acks for anything other than the in-flight
// command are ignored.
func (m *Machine) OnAck(ctx context.Context, ack Ack) {
	if m.current == nil {
		return
	}
	if ack.Command != m.current.ID {
		m.logger.Debug("Ignoring ack for a different command", "ack", ack.Command, "inflight", m.current.ID)
		return
	}

	var err error
	switch {
	case ack.OK() && m.State() == StateAwaitingAck:
		err = fsmutil.Fire(ctx, m.fsm, EventAck, ack.Result)
	case !ack.OK():
		err = fsmutil.Fire(ctx, m.fsm, EventNack, ack.Result)
	}
	if err != nil {
		m.logger.Error(err, "Error applying command ack", "command", ack.Command, "result", uint32(ack.Result))
	}
}

func (m *Machine) send(ctx context.Context, now time.Time) {
	cmd := m.current
	msg := cmd.Message(m.cfg.Target)

	m.attempts++
	m.sentAt = now

	result := "ok"
	if err := m.sender.Send(ctx, msg); err != nil {
		// The ack timeout covers this attempt like any lost packet.
		result = "error"
		m.logger.Error(err, "Failed to write command", "command", cmd.ID, "attempt", m.attempts)
	}
	metrics.CommandSendTotal.WithLabelValues(cmd.Kind.String(), result).Inc()

	m.logger.Debug("Command sent", "command", cmd.ID, "kind", cmd.Kind, "confirmation", cmd.Confirmation, "attempt", m.attempts)
}

func (m *Machine) release() {
	m.current = nil
	m.attempts = 0
	m.outcome = Outcome{}
}

// actionEnterSending bumps the retry bookkeeping on resend.
func (m *Machine) actionEnterSending(_ context.Context, e *fsm.Event) error {
	if m.current == nil {
		return fmt.Errorf("entered %s without a command", StateSending)
	}
	if e.Event == EventRetry {
		m.current.RetryCount++
		if m.current.Kind == KindLong {
			m.current.Confirmation++
		}
	}
	return nil
}

func (m *Machine) actionEnterDone(_ context.Context, e *fsm.Event) error {
	if m.current == nil {
		return fmt.Errorf("entered %s without a command", StateDone)
	}
	m.outcome = Outcome{
		Command:  *m.current,
		Attempts: m.attempts,
		Result:   resultArg(e),
	}
	m.current = nil
	return nil
}

func (m *Machine) actionEnterFailed(_ context.Context, e *fsm.Event) error {
	if m.current == nil {
		return fmt.Errorf("entered %s without a command", StateFailed)
	}
	reason := ReasonExhausted
	if e.Event == EventNack {
		reason = ReasonRejected
	}
	m.outcome = Outcome{
		Command:  *m.current,
		Attempts: m.attempts,
		Reason:   reason,
		Result:   resultArg(e),
	}
	m.current = nil
	return nil
}

func resultArg(e *fsm.Event) common.MAV_RESULT {
	if len(e.Args) > 0 {
		if r, ok := e.Args[0].(common.MAV_RESULT); ok {
			return r
		}
	}
	return 0
}
