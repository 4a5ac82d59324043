package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/groundlink/internal/link/channel"
	"github.com/autopeer-io/groundlink/internal/link/command"
	"github.com/autopeer-io/groundlink/internal/link/connection"
	"github.com/autopeer-io/groundlink/internal/link/liveness"
)

type fakeChannel struct {
	mu     sync.Mutex
	sent   []message.Message
	frames chan channel.Frame
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{frames: make(chan channel.Frame, 64)}
}

func (f *fakeChannel) Send(_ context.Context, msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Frames() <-chan channel.Frame { return f.frames }
func (f *fakeChannel) Close()                       { close(f.frames) }

func (f *fakeChannel) messages() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Message(nil), f.sent...)
}

func countOf[T message.Message](msgs []message.Message) int {
	n := 0
	for _, m := range msgs {
		if _, ok := m.(T); ok {
			n++
		}
	}
	return n
}

type events struct {
	mu     sync.Mutex
	done   []command.Outcome
	failed []command.Outcome
	phases []connection.Phase
	params []map[string]float32
}

func (e *events) CommandDone(o command.Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = append(e.done, o)
}

func (e *events) CommandFailed(o command.Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, o)
}

func (e *events) PhaseChanged(_, to connection.Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phases = append(e.phases, to)
}

func (e *events) AllParametersReceived(v map[string]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = append(e.params, v)
}

func (e *events) LivenessChanged(liveness.Kind, time.Duration) {}
func (e *events) LoadingChanged(bool)                          {}
func (e *events) SavingChanged(bool)                           {}

var target = command.Target{System: 1, Component: 1}

func newTestSession(cfg Config) (*Session, *fakeChannel, *events, *clocktesting.FakeClock) {
	cfg.Target = target
	ch := newFakeChannel()
	ev := &events{}
	clk := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	return New(cfg, ch, clk, ev, nil), ch, ev, clk
}

func frame(msg message.Message) channel.Frame {
	return channel.Frame{SystemID: target.System, ComponentID: target.Component, Message: msg}
}

// step advances the fake clock and runs one tick on the test goroutine.
func step(s *Session, clk *clocktesting.FakeClock, d time.Duration) {
	clk.Step(d)
	s.tick(context.Background(), clk.Now())
}

func TestFrameMarksLinkAndRecordsHeartbeat(t *testing.T) {
	s, _, ev, clk := newTestSession(Config{})
	ctx := context.Background()

	s.handleFrame(ctx, frame(&common.MessageHeartbeat{}), clk.Now())
	step(s, clk, 100*time.Millisecond)

	snap := s.Snapshot()
	if !snap.LinkAvailable {
		t.Fatalf("an inbound frame should mark the ground link available")
	}
	if snap.Phase != connection.PhaseConnected {
		t.Fatalf("phase = %s, want %s", snap.Phase, connection.PhaseConnected)
	}
	if got := snap.Liveness[liveness.Heartbeat]; got != 100*time.Millisecond {
		t.Fatalf("heartbeat age = %v, want 100ms", got)
	}
	if snap.Liveness[liveness.GPS] != liveness.Never {
		t.Fatalf("gps age = %v, want Never", snap.Liveness[liveness.GPS])
	}
	if len(ev.phases) != 1 {
		t.Fatalf("phase notifications = %v", ev.phases)
	}
}

func TestRestrictedSourceIsIgnored(t *testing.T) {
	s, _, _, clk := newTestSession(Config{RestrictSystem: true, RestrictComponent: true})
	ctx := context.Background()

	s.handleFrame(ctx, channel.Frame{SystemID: 42, ComponentID: 1, Message: &common.MessageHeartbeat{}}, clk.Now())
	s.handleFrame(ctx, channel.Frame{SystemID: 1, ComponentID: 154, Message: &common.MessageHeartbeat{}}, clk.Now())
	step(s, clk, 100*time.Millisecond)

	snap := s.Snapshot()
	if snap.LinkAvailable || snap.Liveness[liveness.Heartbeat] != liveness.Never {
		t.Fatalf("frames from other sources must be dropped, got %+v", snap)
	}
}

func TestTelemetryDecoded(t *testing.T) {
	s, _, _, clk := newTestSession(Config{})
	ctx := context.Background()
	now := clk.Now()

	s.handleFrame(ctx, frame(&common.MessageAttitude{Roll: 0.1, Pitch: 0.2, Yaw: 0.3}), now)
	s.handleFrame(ctx, frame(&common.MessageSysStatus{VoltageBattery: 12600, BatteryRemaining: 80}), now)
	s.handleFrame(ctx, frame(&common.MessageGpsRawInt{Lat: 473977420, Lon: 85455940, Alt: 488000, SatellitesVisible: 11}), now)
	s.handleFrame(ctx, frame(&common.MessageVfrHud{Airspeed: 12, Groundspeed: 11, Heading: 270, Throttle: 40}), now)
	step(s, clk, 100*time.Millisecond)

	tel := s.Snapshot().Telemetry
	if tel.Yaw != 0.3 || tel.BatteryVoltage != 12.6 || tel.BatteryRemaining != 80 {
		t.Fatalf("attitude/battery telemetry = %+v", tel)
	}
	if tel.Satellites != 11 || tel.Heading != 270 || tel.Altitude != 488 {
		t.Fatalf("gps/vfr telemetry = %+v", tel)
	}
	for _, k := range []liveness.Kind{liveness.Attitude, liveness.Battery, liveness.GPS, liveness.VFR} {
		if s.Snapshot().Liveness[k] != 100*time.Millisecond {
			t.Fatalf("%s age = %v", k, s.Snapshot().Liveness[k])
		}
	}
}

func TestFullSessionFetchesParameters(t *testing.T) {
	s, ch, ev, clk := newTestSession(Config{})
	ctx := context.Background()

	s.handleFrame(ctx, frame(&common.MessageHeartbeat{}), clk.Now())
	for i := 0; i < 51; i++ {
		if i%10 == 9 {
			s.handleFrame(ctx, frame(&common.MessageHeartbeat{}), clk.Now())
		}
		step(s, clk, 100*time.Millisecond)
	}

	if got := s.Snapshot().Phase; got != connection.PhaseFetchingParameters {
		t.Fatalf("phase = %s, want %s", got, connection.PhaseFetchingParameters)
	}
	if n := countOf[*common.MessageParamRequestList](ch.messages()); n != 1 {
		t.Fatalf("PARAM_REQUEST_LIST sent %d times, want 1", n)
	}

	for i, name := range []string{"SYSID_THISMAV", "ARMING_CHECK", "BATT_CAPACITY"} {
		s.handleFrame(ctx, frame(&common.MessageParamValue{
			ParamId: name, ParamValue: float32(i + 1), ParamIndex: uint16(i), ParamCount: 3,
		}), clk.Now())
	}
	step(s, clk, 100*time.Millisecond)

	snap := s.Snapshot()
	if !snap.Ready() {
		t.Fatalf("phase = %s, want idle", snap.Phase)
	}
	all := s.AllParameters()
	if len(all) != 3 || all["BATT_CAPACITY"] != 3 {
		t.Fatalf("AllParameters = %v", all)
	}
	all["BATT_CAPACITY"] = 0
	if s.AllParameters()["BATT_CAPACITY"] != 3 {
		t.Fatalf("AllParameters must return a copy")
	}
	if len(ev.params) != 1 {
		t.Fatalf("all-parameters notifications = %d", len(ev.params))
	}
}

func TestCommandAckThroughFrames(t *testing.T) {
	s, ch, ev, clk := newTestSession(Config{})
	ctx := context.Background()

	// Submit is delivered through the inbox and applied at the next tick.
	if err := s.Submit(ctx, command.NewLong(400, 0, 1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	step(s, clk, 100*time.Millisecond)
	if n := countOf[*common.MessageCommandLong](ch.messages()); n != 1 {
		t.Fatalf("COMMAND_LONG sent %d times, want 1", n)
	}
	if got := s.Snapshot().CommandState; got != command.StateAwaitingAck {
		t.Fatalf("command state = %s", got)
	}

	s.handleFrame(ctx, frame(&common.MessageCommandAck{Command: 400, Result: common.MAV_RESULT_ACCEPTED}), clk.Now())
	step(s, clk, 100*time.Millisecond)

	if len(ev.done) != 1 || ev.done[0].Command.ID != 400 {
		t.Fatalf("done notifications = %+v", ev.done)
	}
	if got := s.Snapshot().CommandState; got != command.StateReady {
		t.Fatalf("command state = %s, want ready", got)
	}
}

func TestCommandExhaustsWithoutAck(t *testing.T) {
	s, ch, ev, clk := newTestSession(Config{})
	ctx := context.Background()

	if err := s.Submit(ctx, command.NewLong(400, 0)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for i := 0; i < 40; i++ {
		step(s, clk, 100*time.Millisecond)
	}

	if n := countOf[*common.MessageCommandLong](ch.messages()); n != 6 {
		t.Fatalf("COMMAND_LONG sent %d times, want 6", n)
	}
	if len(ev.failed) != 1 || ev.failed[0].Reason != command.ReasonExhausted {
		t.Fatalf("failed notifications = %+v", ev.failed)
	}
}

func TestRequestsAreSentByTheLoop(t *testing.T) {
	s, ch, _, clk := newTestSession(Config{})
	ctx := context.Background()

	if err := s.RequestDataStream(ctx, common.MAV_DATA_STREAM_ALL, 4); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestMissionList(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestMissionItems(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if err := s.SendMissionAck(ctx); err != nil {
		t.Fatal(err)
	}
	if len(ch.messages()) != 0 {
		t.Fatalf("requests must wait for the loop")
	}
	step(s, clk, 100*time.Millisecond)

	msgs := ch.messages()
	if countOf[*common.MessageMissionRequestInt](msgs) != 3 {
		t.Fatalf("mission item requests = %d, want 3", countOf[*common.MessageMissionRequestInt](msgs))
	}
	ds, ok := msgs[0].(*common.MessageRequestDataStream)
	if !ok {
		t.Fatalf("first message = %T", msgs[0])
	}
	if ds.TargetSystem != DataStreamSystem || ds.TargetComponent != ComponentAutopilot || ds.ReqMessageRate != 4 || ds.StartStop != 1 {
		t.Fatalf("data stream request = %+v", ds)
	}
	if countOf[*common.MessageMissionRequestList](msgs) != 1 || countOf[*common.MessageMissionAck](msgs) != 1 {
		t.Fatalf("mission messages = %v", msgs)
	}
}

func TestRequestAutopilotInfoBypassesCommandMachine(t *testing.T) {
	s, ch, _, clk := newTestSession(Config{})
	if err := s.RequestAutopilotInfo(context.Background()); err != nil {
		t.Fatal(err)
	}
	step(s, clk, 100*time.Millisecond)

	msgs := ch.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	cl, ok := msgs[0].(*common.MessageCommandLong)
	if !ok || cl.Command != common.MAV_CMD_REQUEST_MESSAGE || cl.Param1 != 148 {
		t.Fatalf("autopilot info request = %#v", msgs[0])
	}
	if got := s.Snapshot().CommandState; got != command.StateReady {
		t.Fatalf("command state = %s, want ready", got)
	}

	// Standalone: no resend after the ack timeout.
	for i := 0; i < 10; i++ {
		step(s, clk, 100*time.Millisecond)
	}
	if n := len(ch.messages()); n != 1 {
		t.Fatalf("sent %d messages after timeout, want 1", n)
	}
}

func TestRequestAutopilotInfoKeepsInFlightCommand(t *testing.T) {
	s, ch, ev, clk := newTestSession(Config{})
	ctx := context.Background()

	arm := uint16(common.MAV_CMD_COMPONENT_ARM_DISARM)
	if err := s.Submit(ctx, command.NewLong(arm, 0, 1)); err != nil {
		t.Fatal(err)
	}
	step(s, clk, 100*time.Millisecond)
	if err := s.RequestAutopilotInfo(ctx); err != nil {
		t.Fatal(err)
	}
	step(s, clk, 100*time.Millisecond)

	if snap := s.Snapshot(); snap.CommandState != command.StateAwaitingAck || snap.CommandID != arm {
		t.Fatalf("snapshot = %+v, want ARM still awaiting its ack", snap)
	}

	s.inbox <- frameItem(frame(&common.MessageCommandAck{Command: common.MAV_CMD_COMPONENT_ARM_DISARM, Result: common.MAV_RESULT_ACCEPTED}))
	for i := 0; i < 40; i++ {
		step(s, clk, 100*time.Millisecond)
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.done) != 1 || ev.done[0].Command.ID != arm || len(ev.failed) != 0 {
		t.Fatalf("done=%+v failed=%+v, want ARM done only", ev.done, ev.failed)
	}
	arms := 0
	for _, m := range ch.messages() {
		if cl, ok := m.(*common.MessageCommandLong); ok && cl.Command == common.MAV_CMD_COMPONENT_ARM_DISARM {
			arms++
		}
	}
	if arms != 1 {
		t.Fatalf("ARM sent %d times, want 1", arms)
	}
}

func TestMissionItemsTakeOneInboxSlot(t *testing.T) {
	s, ch, _, clk := newTestSession(Config{InboxSize: 2})
	ctx := context.Background()

	if err := s.RequestMissionItems(ctx, 300); err != nil {
		t.Fatal(err)
	}
	if len(s.inbox) != 1 {
		t.Fatalf("inbox length = %d, want 1", len(s.inbox))
	}
	if err := s.RequestMissionItems(ctx, 1); err != nil || len(s.inbox) != 1 {
		t.Fatalf("a mission with only home must enqueue nothing, err=%v inbox=%d", err, len(s.inbox))
	}
	step(s, clk, 100*time.Millisecond)

	msgs := ch.messages()
	if len(msgs) != 299 {
		t.Fatalf("mission item requests = %d, want 299", len(msgs))
	}
	first := msgs[0].(*common.MessageMissionRequestInt)
	last := msgs[len(msgs)-1].(*common.MessageMissionRequestInt)
	if first.Seq != 1 || last.Seq != 299 {
		t.Fatalf("seq range = %d..%d, want 1..299", first.Seq, last.Seq)
	}
}

func TestSetSavingAndGroundLink(t *testing.T) {
	s, _, _, clk := newTestSession(Config{})
	ctx := context.Background()

	if err := s.SetGroundLink(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSaving(ctx, true); err != nil {
		t.Fatal(err)
	}
	step(s, clk, 100*time.Millisecond)

	snap := s.Snapshot()
	if !snap.LinkAvailable || !snap.Saving {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestFullInboxDropsFrames(t *testing.T) {
	s, ch, _, _ := newTestSession(Config{InboxSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch.frames <- frame(&common.MessageHeartbeat{})
	ch.frames <- frame(&common.MessageHeartbeat{})
	ch.frames <- frame(&common.MessageHeartbeat{})
	ch.Close()

	// pump returns once the channel is drained; the inbox keeps only one frame.
	s.pump(ctx)
	if len(s.inbox) != 1 {
		t.Fatalf("inbox length = %d, want 1", len(s.inbox))
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s, ch, _, clk := newTestSession(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	ch.frames <- frame(&common.MessageHeartbeat{})

	deadline := time.Now().Add(5 * time.Second)
	for !clk.HasWaiters() {
		if time.Now().After(deadline) {
			t.Fatalf("ticker was never created")
		}
		time.Sleep(time.Millisecond)
	}
	for s.Snapshot().Phase != connection.PhaseConnected {
		if time.Now().After(deadline) {
			t.Fatalf("session never reached connected, phase = %s", s.Snapshot().Phase)
		}
		clk.Step(100 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	if err := s.Submit(context.Background(), command.NewLong(1, 0)); err != ErrStopped && err != nil {
		t.Fatalf("Submit after stop = %v", err)
	}
}
