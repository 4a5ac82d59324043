package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	httpserver "github.com/autopeer-io/groundlink/internal/groundlink/server/http"
	"github.com/autopeer-io/groundlink/internal/link/connection"
	"github.com/autopeer-io/groundlink/internal/link/liveness"
	"github.com/autopeer-io/groundlink/internal/link/session"
)

func TestFetchStatus(t *testing.T) {
	want := httpserver.StatusResponse{
		LinkID: "fc-1",
		Ready:  true,
		Snapshot: session.Snapshot{
			Phase:    connection.PhaseIdle,
			Liveness: map[liveness.Kind]time.Duration{liveness.Heartbeat: 300 * time.Millisecond, liveness.GPS: liveness.Never},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	st, err := fetchStatus(context.Background(), srv.Client(), srv.URL+"/v1/status")
	if err != nil {
		t.Fatalf("fetchStatus: %v", err)
	}
	if st.LinkID != "fc-1" || !st.Ready || st.Phase != connection.PhaseIdle {
		t.Fatalf("status = %+v", st)
	}

	if _, err := fetchStatus(context.Background(), srv.Client(), srv.URL+"/nope"); err == nil {
		t.Fatalf("404 must be an error")
	}

	out := statusTable(st, "SERVING").String()
	for _, want := range []string{"fc-1", "idle", "SERVING", "AGE heartbeat", "300ms", "AGE gps", "never"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestStatusCommandFlags(t *testing.T) {
	cmd := newStatusCommand()
	for _, name := range []string{"http-addr", "grpc-addr", "timeout"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("flag --%s missing", name)
		}
	}
}
