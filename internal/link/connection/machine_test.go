package connection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/autopeer-io/groundlink/internal/link/liveness"
	"github.com/autopeer-io/groundlink/internal/link/params"
	"github.com/autopeer-io/groundlink/pkg/log"
)

type fakeRequester struct {
	calls int
	err   error
}

func (f *fakeRequester) RequestParameterList(context.Context) error {
	f.calls++
	return f.err
}

type recorder struct {
	phases   []Phase
	loading  []bool
	saving   []bool
	params   []map[string]float32
	liveness map[liveness.Kind]time.Duration
}

func newRecorder() *recorder {
	return &recorder{liveness: make(map[liveness.Kind]time.Duration)}
}

func (r *recorder) PhaseChanged(_, to Phase)                           { r.phases = append(r.phases, to) }
func (r *recorder) LivenessChanged(k liveness.Kind, age time.Duration) { r.liveness[k] = age }
func (r *recorder) AllParametersReceived(v map[string]float32)         { r.params = append(r.params, v) }
func (r *recorder) LoadingChanged(l bool)                              { r.loading = append(r.loading, l) }
func (r *recorder) SavingChanged(s bool)                               { r.saving = append(r.saving, s) }

var epoch = time.Unix(1_700_000_000, 0)

func at(ms int64) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

type harness struct {
	m   *Machine
	tr  *liveness.Tracker
	ps  *params.Session
	req *fakeRequester
	rec *recorder
	ctx context.Context
}

func newHarness() *harness {
	tr := liveness.NewTracker(5 * time.Second)
	ps := params.NewSession(7 * time.Second)
	req := &fakeRequester{}
	rec := newRecorder()
	return &harness{
		m:   NewMachine(Config{SettleDelay: 5 * time.Second}, tr, ps, req, rec, log.NewNopLogger()),
		tr:  tr,
		ps:  ps,
		req: req,
		rec: rec,
		ctx: context.Background(),
	}
}

// advance ticks every 100ms in (from, to], recording a heartbeat each second
// when beat is true.
func (h *harness) advance(from, to int64, beat bool) {
	for ms := from + 100; ms <= to; ms += 100 {
		if beat && ms%1000 == 0 {
			h.tr.Record(liveness.Heartbeat, at(ms))
		}
		h.m.Tick(h.ctx, at(ms))
	}
}

// connect drives the machine into FetchingParameters and returns the time.
func (h *harness) connect(t *testing.T) int64 {
	t.Helper()
	h.tr.Record(liveness.Heartbeat, at(0))
	h.m.OnGroundLinkAvailable(true)
	h.m.Tick(h.ctx, at(0))
	if h.m.Phase() != PhaseConnected {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseConnected)
	}
	h.advance(0, 5000, true)
	if h.m.Phase() != PhaseFetchingParameters {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseFetchingParameters)
	}
	return 5000
}

func TestStaysDisconnectedWithoutLink(t *testing.T) {
	h := newHarness()
	h.tr.Record(liveness.Heartbeat, at(0))
	h.advance(0, 10_000, true)

	if h.m.Phase() != PhaseDisconnected {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseDisconnected)
	}
	if h.req.calls != 0 {
		t.Fatalf("parameter list requested while disconnected")
	}
}

func TestCleanSessionReachesIdle(t *testing.T) {
	h := newHarness()

	h.tr.Record(liveness.Heartbeat, at(0))
	h.m.OnGroundLinkAvailable(true)
	h.m.Tick(h.ctx, at(0))

	h.advance(0, 4900, true)
	if h.m.Phase() != PhaseConnected {
		t.Fatalf("fetch must wait for the settle delay, phase = %s", h.m.Phase())
	}

	h.advance(4900, 5000, true)
	if h.m.Phase() != PhaseFetchingParameters {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseFetchingParameters)
	}
	if h.req.calls != 1 {
		t.Fatalf("parameter list requests = %d, want 1", h.req.calls)
	}
	if !h.m.Loading() {
		t.Fatalf("loading flag should be set while fetching")
	}

	const n = 4
	for i := 0; i < n; i++ {
		h.m.OnParameterReceived(fmt.Sprintf("P%d", i), i, n, float32(i), at(5100))
		h.m.Tick(h.ctx, at(5100))
	}
	if h.m.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseIdle)
	}
	if h.m.Loading() {
		t.Fatalf("loading flag should clear in idle")
	}

	want := []Phase{PhaseConnected, PhaseFetchingParameters, PhaseIdle}
	if fmt.Sprint(h.rec.phases) != fmt.Sprint(want) {
		t.Fatalf("phase sequence = %v, want %v", h.rec.phases, want)
	}
	if len(h.rec.params) != 1 || len(h.rec.params[0]) != n {
		t.Fatalf("all-parameters notification = %v", h.rec.params)
	}
	if fmt.Sprint(h.rec.loading) != "[true false]" {
		t.Fatalf("loading notifications = %v", h.rec.loading)
	}
}

func TestIdleHeartbeatLossDisconnects(t *testing.T) {
	h := newHarness()
	now := h.connect(t)

	h.m.OnParameterReceived("ONLY", 0, 1, 1, at(now))
	h.m.Tick(h.ctx, at(now))
	if h.m.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseIdle)
	}

	// Last heartbeat was at t=5000.
	h.advance(now, 9900, false)
	if h.m.Phase() != PhaseIdle {
		t.Fatalf("jitter under the threshold must not disconnect, phase = %s", h.m.Phase())
	}

	h.m.Tick(h.ctx, at(10_100))
	if h.m.Phase() != PhaseDisconnected {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseDisconnected)
	}
	if h.m.LinkAvailable() {
		t.Fatalf("link flag must be cleared on loss")
	}

	// No reconnect until the link is signalled again.
	h.m.Tick(h.ctx, at(10_200))
	if h.m.Phase() != PhaseDisconnected {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseDisconnected)
	}
}

func TestFetchStallsWithoutParameters(t *testing.T) {
	h := newHarness()
	now := h.connect(t)

	// Heartbeats keep flowing but no PARAM_VALUE ever arrives.
	h.advance(now, now+7000, true)
	if h.m.Phase() != PhaseFetchingParameters {
		t.Fatalf("phase = %s, want %s at the stale threshold", h.m.Phase(), PhaseFetchingParameters)
	}

	h.advance(now+7000, now+7100, true)
	if h.m.Phase() != PhaseDisconnected {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseDisconnected)
	}
	if p := h.ps.Progress(); p.Total != 0 {
		t.Fatalf("parameter session should be reset, got %+v", p)
	}
	if h.m.Loading() || h.m.Saving() {
		t.Fatalf("flags must be cleared on disconnect")
	}
}

func TestFetchPartialStalls(t *testing.T) {
	h := newHarness()
	now := h.connect(t)

	h.m.OnParameterReceived("A", 0, 10, 1, at(now+500))
	h.m.OnParameterReceived("B", 1, 10, 2, at(now+600))
	h.advance(now, now+7600, true)
	if h.m.Phase() != PhaseFetchingParameters {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseFetchingParameters)
	}
	h.advance(now+7600, now+7700, true)
	if h.m.Phase() != PhaseDisconnected {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseDisconnected)
	}
}

func TestFetchHeartbeatLossDisconnects(t *testing.T) {
	h := newHarness()
	now := h.connect(t)

	// Parameters keep streaming but the heartbeat stops after t=5000.
	for ms := now + 100; ms <= now+5000; ms += 100 {
		h.m.OnParameterReceived("X", int(ms/100), 1000, 0, at(ms))
		h.m.Tick(h.ctx, at(ms))
	}
	if h.m.Phase() != PhaseDisconnected {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseDisconnected)
	}
}

func TestReconnectAfterLoss(t *testing.T) {
	h := newHarness()
	now := h.connect(t)
	h.advance(now, now+7100, true)
	if h.m.Phase() != PhaseDisconnected {
		t.Fatalf("expected a stall disconnect")
	}

	h.m.OnGroundLinkAvailable(true)
	h.advance(now+7100, now+7200, true)
	if h.m.Phase() != PhaseConnected {
		t.Fatalf("phase = %s, want %s", h.m.Phase(), PhaseConnected)
	}
	h.advance(now+7200, now+12_200, true)
	if h.m.Phase() != PhaseFetchingParameters || h.req.calls != 2 {
		t.Fatalf("phase = %s requests = %d, want a second fetch", h.m.Phase(), h.req.calls)
	}
}

func TestRequestErrorStillFetches(t *testing.T) {
	h := newHarness()
	h.req.err = errors.New("link down")
	h.connect(t)
	if h.req.calls != 1 {
		t.Fatalf("requests = %d, want 1", h.req.calls)
	}
}

func TestLivenessReportedEveryTick(t *testing.T) {
	h := newHarness()
	h.tr.Record(liveness.GPS, at(0))
	h.m.Tick(h.ctx, at(1500))

	if len(h.rec.liveness) != len(liveness.Kinds) {
		t.Fatalf("liveness kinds reported = %d, want %d", len(h.rec.liveness), len(liveness.Kinds))
	}
	if h.rec.liveness[liveness.GPS] != 1500*time.Millisecond {
		t.Fatalf("gps age = %v", h.rec.liveness[liveness.GPS])
	}
	if h.rec.liveness[liveness.Heartbeat] != liveness.Never {
		t.Fatalf("heartbeat age = %v, want Never", h.rec.liveness[liveness.Heartbeat])
	}
}

func TestSavingFlag(t *testing.T) {
	h := newHarness()
	h.m.SetSaving(true)
	h.m.SetSaving(true)
	h.m.SetSaving(false)
	if fmt.Sprint(h.rec.saving) != "[true false]" {
		t.Fatalf("saving notifications = %v", h.rec.saving)
	}
}
