// Package connection derives the flight controller session phase from
// heartbeat liveness and the progress of the bulk parameter fetch.
package connection

import (
	"context"
	"time"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/groundlink/internal/link/liveness"
	"github.com/autopeer-io/groundlink/internal/link/params"
	"github.com/autopeer-io/groundlink/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/groundlink/internal/pkg/util/fsm"
	"github.com/autopeer-io/groundlink/pkg/log"
)

// Phase of the link session.
type Phase string

const (
	PhaseDisconnected       Phase = "disconnected"
	PhaseConnected          Phase = "connected"
	PhaseFetchingParameters Phase = "fetching_parameters"
	PhaseIdle               Phase = "idle"
)

// Phases lists every phase, in lifecycle order.
var Phases = []Phase{PhaseDisconnected, PhaseConnected, PhaseFetchingParameters, PhaseIdle}

const (
	EventLinkUp   = "link_up"
	EventFetch    = "fetch"
	EventComplete = "complete"
	EventLost     = "lost"
)

// DefaultSettleDelay is how long the link must be up before the parameter fetch starts.
const DefaultSettleDelay = 5 * time.Second

// Requester asks the flight controller for its full parameter list.
type Requester interface {
	RequestParameterList(ctx context.Context) error
}

// Notifier receives session level changes.
type Notifier interface {
	PhaseChanged(from, to Phase)
	LivenessChanged(kind liveness.Kind, age time.Duration)
	AllParametersReceived(values map[string]float32)
	LoadingChanged(loading bool)
	SavingChanged(saving bool)
}

type Config struct {
	SettleDelay time.Duration
}

// Machine is owned by the session loop and is not safe for concurrent use.
type Machine struct {
	fsm *fsm.FSM
	cfg Config

	tracker   *liveness.Tracker
	params    *params.Session
	requester Requester
	notifier  Notifier
	logger    log.Logger

	linkAvailable bool
	connectedAt   time.Time
	loading       bool
	saving        bool
}

func NewMachine(cfg Config, tracker *liveness.Tracker, ps *params.Session, requester Requester, notifier Notifier, logger log.Logger) *Machine {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	m := &Machine{
		cfg:       cfg,
		tracker:   tracker,
		params:    ps,
		requester: requester,
		notifier:  notifier,
		logger:    log.OrStd(logger).WithName("connection"),
	}

	events := fsm.Events{
		{Name: EventLinkUp, Src: []string{string(PhaseDisconnected)}, Dst: string(PhaseConnected)},
		{Name: EventFetch, Src: []string{string(PhaseConnected)}, Dst: string(PhaseFetchingParameters)},
		{Name: EventComplete, Src: []string{string(PhaseFetchingParameters)}, Dst: string(PhaseIdle)},
		{Name: EventLost, Src: []string{string(PhaseFetchingParameters), string(PhaseIdle)}, Dst: string(PhaseDisconnected)},
	}

	callbacks := fsm.Callbacks{
		// Side-Effects (enter_...): entry actions of each phase
		"enter_" + string(PhaseDisconnected):       fsmutil.WrapEvent(m.actionEnterDisconnected),
		"enter_" + string(PhaseConnected):          fsmutil.WrapEvent(m.actionEnterConnected),
		"enter_" + string(PhaseFetchingParameters): fsmutil.WrapEvent(m.actionEnterFetching),
		"enter_" + string(PhaseIdle):               fsmutil.WrapEvent(m.actionEnterIdle),
		"enter_state": func(_ context.Context, e *fsm.Event) {
			m.logger.Info("Link phase changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			setPhaseMetric(Phase(e.Dst))
			if m.notifier != nil {
				m.notifier.PhaseChanged(Phase(e.Src), Phase(e.Dst))
			}
		},
	}

	m.fsm = fsm.NewFSM(string(PhaseDisconnected), events, callbacks)
	setPhaseMetric(PhaseDisconnected)
	return m
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return Phase(m.fsm.Current())
}

// LinkAvailable reports the last ground link signal.
func (m *Machine) LinkAvailable() bool {
	return m.linkAvailable
}

func (m *Machine) Loading() bool { return m.loading }
func (m *Machine) Saving() bool  { return m.saving }

// OnGroundLinkAvailable records whether a lower layer transport path exists.
func (m *Machine) OnGroundLinkAvailable(available bool) {
	m.linkAvailable = available
}

// OnParameterReceived feeds one PARAM_VALUE into the parameter session.
func (m *Machine) OnParameterReceived(name string, index, total int, value float32, now time.Time) {
	m.params.Receive(name, index, total, value, now)
}

// SetSaving flags an in-progress parameter write.
func (m *Machine) SetSaving(saving bool) {
	if m.saving == saving {
		return
	}
	m.saving = saving
	if m.notifier != nil {
		m.notifier.SavingChanged(saving)
	}
}

// Tick recomputes liveness ages and advances the phase. Every call resolves
// to exactly one next phase, possibly the current one.
func (m *Machine) Tick(ctx context.Context, now time.Time) {
	sample := m.tracker.Sample(now)
	for _, k := range liveness.Kinds {
		metrics.LivenessAge.WithLabelValues(string(k)).Set(ageSeconds(sample[k]))
		if m.notifier != nil {
			m.notifier.LivenessChanged(k, sample[k])
		}
	}

	var err error

	switch m.Phase() {
	case PhaseDisconnected:
		if m.linkAvailable {
			err = fsmutil.Fire(ctx, m.fsm, EventLinkUp, now)
		}

	case PhaseConnected:
		if now.Sub(m.connectedAt) < m.cfg.SettleDelay {
			return
		}
		m.params.Reset(now)
		if reqErr := m.requester.RequestParameterList(ctx); reqErr != nil {
			// The stale timeout recovers from a lost request.
			m.logger.Error(reqErr, "Failed to request parameter list")
		}
		err = fsmutil.Fire(ctx, m.fsm, EventFetch)

	case PhaseFetchingParameters:
		switch {
		case m.tracker.ConnectionLost(now):
			err = m.drop(ctx, now, "heartbeat lost")
		case m.params.Complete():
			values := m.params.Values()
			m.logger.Info("All parameters received", "count", len(values))
			metrics.ParametersReceived.Set(float64(len(values)))
			if m.notifier != nil {
				m.notifier.AllParametersReceived(values)
			}
			err = fsmutil.Fire(ctx, m.fsm, EventComplete)
		case m.params.Stale(now):
			err = m.drop(ctx, now, "parameter fetch stalled")
		}

	case PhaseIdle:
		if m.tracker.ConnectionLost(now) {
			err = m.drop(ctx, now, "heartbeat lost")
		}
	}

	if err != nil {
		m.logger.Error(err, "Error during connection FSM event processing", "phase", m.fsm.Current())
	}
}

// drop resets the session and returns to Disconnected. The ground link flag
// is cleared so the next inbound frame has to re-establish it.
func (m *Machine) drop(ctx context.Context, now time.Time, reason string) error {
	p := m.params.Progress()
	m.logger.Warn("Link dropped", "reason", reason, "phase", m.fsm.Current(),
		"paramIndex", p.Index, "paramTotal", p.Total, "heartbeatAge", m.tracker.Age(liveness.Heartbeat, now))

	m.params.Reset(now)
	m.linkAvailable = false
	return fsmutil.Fire(ctx, m.fsm, EventLost)
}

func (m *Machine) actionEnterDisconnected(_ context.Context, _ *fsm.Event) error {
	m.setLoading(false)
	m.SetSaving(false)
	return nil
}

func (m *Machine) actionEnterConnected(_ context.Context, e *fsm.Event) error {
	if len(e.Args) > 0 {
		if now, ok := e.Args[0].(time.Time); ok {
			m.connectedAt = now
		}
	}
	return nil
}

func (m *Machine) actionEnterFetching(_ context.Context, _ *fsm.Event) error {
	m.setLoading(true)
	m.SetSaving(false)
	return nil
}

func (m *Machine) actionEnterIdle(_ context.Context, _ *fsm.Event) error {
	m.setLoading(false)
	return nil
}

func (m *Machine) setLoading(loading bool) {
	if m.loading == loading {
		return
	}
	m.loading = loading
	if m.notifier != nil {
		m.notifier.LoadingChanged(loading)
	}
}

func setPhaseMetric(current Phase) {
	for _, p := range Phases {
		v := 0.0
		if p == current {
			v = 1
		}
		metrics.LinkPhase.WithLabelValues(string(p)).Set(v)
	}
}

func ageSeconds(age time.Duration) float64 {
	if age == liveness.Never {
		return -1
	}
	return age.Seconds()
}
