package session

import (
	"time"

	"github.com/autopeer-io/groundlink/internal/link/command"
	"github.com/autopeer-io/groundlink/internal/link/connection"
	"github.com/autopeer-io/groundlink/internal/link/liveness"
	"github.com/autopeer-io/groundlink/internal/link/params"
)

// Snapshot is an immutable copy of the session state for readers outside
// the loop goroutine.
type Snapshot struct {
	Phase         connection.Phase `json:"phase"`
	LinkAvailable bool             `json:"linkAvailable"`
	Loading       bool             `json:"loading"`
	Saving        bool             `json:"saving"`

	CommandState command.State `json:"commandState"`
	CommandID    uint16        `json:"commandId,omitempty"`
	CommandRetry int           `json:"commandRetry,omitempty"`

	// Liveness ages; liveness.Never for kinds not seen yet.
	Liveness map[liveness.Kind]time.Duration `json:"liveness"`

	Parameters params.Progress `json:"parameters"`
	Telemetry  Telemetry       `json:"telemetry"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Ready reports whether the session finished its parameter sync.
func (s Snapshot) Ready() bool {
	return s.Phase == connection.PhaseIdle
}

func (s *Session) publish(now time.Time) {
	snap := &Snapshot{
		Phase:         s.conn.Phase(),
		LinkAvailable: s.conn.LinkAvailable(),
		Loading:       s.conn.Loading(),
		Saving:        s.conn.Saving(),
		CommandState:  s.commands.State(),
		Liveness:      s.tracker.Sample(now),
		Parameters:    s.params.Progress(),
		Telemetry:     s.telemetry,
		UpdatedAt:     now,
	}
	if cmd, ok := s.commands.Current(); ok {
		snap.CommandID = cmd.ID
		snap.CommandRetry = cmd.RetryCount
	}
	s.snapshot.Store(snap)
}
