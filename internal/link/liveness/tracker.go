// Package liveness tracks how long ago each kind of telemetry was last seen.
package liveness

import (
	"time"
)

// Kind identifies a tracked telemetry event.
type Kind string

const (
	Heartbeat Kind = "heartbeat"
	Attitude  Kind = "attitude"
	Battery   Kind = "battery"
	GPS       Kind = "gps"
	VFR       Kind = "vfr"
)

// Kinds lists every tracked kind in reporting order.
var Kinds = []Kind{Heartbeat, Attitude, Battery, GPS, VFR}

// Never is the age reported for a kind that has not been observed yet.
const Never time.Duration = -1

// DefaultHeartbeatTimeout is the heartbeat age at which the link counts as lost.
const DefaultHeartbeatTimeout = 5 * time.Second

// Sample is a snapshot of every tracked age at one instant.
type Sample map[Kind]time.Duration

// Tracker is not safe for concurrent use; it belongs to the session loop.
type Tracker struct {
	lastSeen         map[Kind]time.Time
	heartbeatTimeout time.Duration
}

func NewTracker(heartbeatTimeout time.Duration) *Tracker {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Tracker{
		lastSeen:         make(map[Kind]time.Time, len(Kinds)),
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Record stores now as the last observation of kind.
func (t *Tracker) Record(kind Kind, now time.Time) {
	t.lastSeen[kind] = now
}

// Age returns Never if kind was never recorded, else now minus the last observation.
// A clock that steps backwards yields zero rather than a negative age.
func (t *Tracker) Age(kind Kind, now time.Time) time.Duration {
	seen, ok := t.lastSeen[kind]
	if !ok {
		return Never
	}
	if d := now.Sub(seen); d > 0 {
		return d
	}
	return 0
}

// Sample recomputes the age of every tracked kind.
func (t *Tracker) Sample(now time.Time) Sample {
	s := make(Sample, len(Kinds))
	for _, k := range Kinds {
		s[k] = t.Age(k, now)
	}
	return s
}

// ConnectionLost is true unless a heartbeat has been seen and is younger than the timeout.
func (t *Tracker) ConnectionLost(now time.Time) bool {
	age := t.Age(Heartbeat, now)
	if age != Never && age < t.heartbeatTimeout {
		return false
	}
	return true
}

// Reset forgets every observation.
func (t *Tracker) Reset() {
	clear(t.lastSeen)
}
