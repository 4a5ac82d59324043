// Package bus fans session notifications out to any number of subscribers.
package bus

import (
	"reflect"
	"time"

	"github.com/cskr/pubsub"

	"github.com/autopeer-io/groundlink/internal/link/command"
	"github.com/autopeer-io/groundlink/internal/link/connection"
	"github.com/autopeer-io/groundlink/internal/link/liveness"
	"github.com/autopeer-io/groundlink/internal/link/session"
	"github.com/autopeer-io/groundlink/pkg/log"
)

// Topics published by the bus.
const (
	TopicCommand    = "command"
	TopicPhase      = "phase"
	TopicParameters = "parameters"
	TopicLiveness   = "liveness"
	TopicFlags      = "flags"
)

const defaultCapacity = 128

type Subscription chan any

// CommandEvent reports a command that reached Done or Failed.
type CommandEvent struct {
	Outcome command.Outcome
	Done    bool
	At      time.Time
}

type PhaseEvent struct {
	From connection.Phase
	To   connection.Phase
	At   time.Time
}

// ParametersEvent carries a complete parameter set.
type ParametersEvent struct {
	Values map[string]float32
	At     time.Time
}

type LivenessEvent struct {
	Kind liveness.Kind
	Age  time.Duration
}

// FlagsEvent reports a change of the loading or saving flag.
type FlagsEvent struct {
	Loading bool
	Saving  bool
}

// Bus is a session.Notifier. Publishing never blocks the session loop for
// longer than a subscriber takes to drain its buffer.
type Bus struct {
	ps     *pubsub.PubSub
	logger log.Logger
	now    func() time.Time

	loading, saving bool
}

var _ session.Notifier = (*Bus)(nil)

func New(capacity int, logger log.Logger) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{
		ps:     pubsub.New(capacity),
		logger: log.OrStd(logger).WithName("bus"),
		now:    time.Now,
	}
}

func (b *Bus) Publish(topic string, msg any) {
	b.logger.Debug("Publish", "topic", topic, "payloadType", payloadType(msg))
	b.ps.Pub(msg, topic)
}

func (b *Bus) Subscribe(topics ...string) Subscription {
	b.logger.Debug("Subscribe", "topics", topics)
	return b.ps.Sub(topics...)
}

// Unsubscribe detaches ch from topics, or from everything when topics is empty.
func (b *Bus) Unsubscribe(ch Subscription, topics ...string) {
	b.ps.Unsub(ch, topics...)
}

func (b *Bus) Close() {
	b.ps.Shutdown()
}

func (b *Bus) CommandDone(o command.Outcome) {
	b.Publish(TopicCommand, CommandEvent{Outcome: o, Done: true, At: b.now()})
}

func (b *Bus) CommandFailed(o command.Outcome) {
	b.Publish(TopicCommand, CommandEvent{Outcome: o, At: b.now()})
}

func (b *Bus) PhaseChanged(from, to connection.Phase) {
	b.Publish(TopicPhase, PhaseEvent{From: from, To: to, At: b.now()})
}

func (b *Bus) AllParametersReceived(values map[string]float32) {
	b.Publish(TopicParameters, ParametersEvent{Values: values, At: b.now()})
}

// LivenessChanged is called for every kind on every tick. Slow subscribers
// miss samples instead of stalling the session loop.
func (b *Bus) LivenessChanged(kind liveness.Kind, age time.Duration) {
	b.ps.TryPub(LivenessEvent{Kind: kind, Age: age}, TopicLiveness)
}

func (b *Bus) LoadingChanged(loading bool) {
	b.loading = loading
	b.Publish(TopicFlags, FlagsEvent{Loading: b.loading, Saving: b.saving})
}

func (b *Bus) SavingChanged(saving bool) {
	b.saving = saving
	b.Publish(TopicFlags, FlagsEvent{Loading: b.loading, Saving: b.saving})
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
