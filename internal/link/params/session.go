// Package params tracks the progress of a bulk PARAM_REQUEST_LIST fetch.
package params

import (
	"maps"
	"time"
)

// DefaultStaleTimeout is how long a fetch may go without a PARAM_VALUE.
const DefaultStaleTimeout = 7 * time.Second

// Progress is a read-only view of a fetch.
type Progress struct {
	Total          int       `json:"total"`
	Index          int       `json:"index"`
	LastReceivedAt time.Time `json:"lastReceivedAt"`
	Received       int       `json:"received"`
}

// Session accumulates PARAM_VALUE responses. It belongs to the session loop.
type Session struct {
	total          int
	index          int
	lastReceivedAt time.Time
	values         map[string]float32
	staleTimeout   time.Duration
}

func NewSession(staleTimeout time.Duration) *Session {
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	return &Session{
		values:       make(map[string]float32),
		staleTimeout: staleTimeout,
	}
}

// Reset clears all progress. lastReceivedAt is set to now so a fresh fetch
// gets a full stale window before the first response arrives.
func (s *Session) Reset(now time.Time) {
	clear(s.values)
	s.total = 0
	s.index = 0
	s.lastReceivedAt = now
}

// Receive records one PARAM_VALUE.
func (s *Session) Receive(name string, index, total int, value float32, now time.Time) {
	s.total = total
	s.index = index
	s.lastReceivedAt = now
	if name != "" {
		s.values[name] = value
	}
}

// Complete reports whether the last parameter of a known-size list has arrived.
func (s *Session) Complete() bool {
	return s.total > 0 && s.index == s.total-1
}

// Stale reports whether no response arrived within the stale timeout.
func (s *Session) Stale(now time.Time) bool {
	return now.Sub(s.lastReceivedAt) > s.staleTimeout
}

func (s *Session) Progress() Progress {
	return Progress{
		Total:          s.total,
		Index:          s.index,
		LastReceivedAt: s.lastReceivedAt,
		Received:       len(s.values),
	}
}

// Values returns a copy of the accumulated name to value mapping.
func (s *Session) Values() map[string]float32 {
	return maps.Clone(s.values)
}
