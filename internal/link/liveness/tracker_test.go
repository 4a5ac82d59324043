package liveness

import (
	"testing"
	"time"
)

var epoch = time.Unix(1_700_000_000, 0)

func at(ms int64) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

func TestAgeSentinelBeforeFirstEvent(t *testing.T) {
	tr := NewTracker(0)
	for _, k := range Kinds {
		if got := tr.Age(k, at(1000)); got != Never {
			t.Fatalf("Age(%s) before any event = %v, want Never", k, got)
		}
	}
}

func TestAgeMonotonicBetweenEvents(t *testing.T) {
	tr := NewTracker(0)
	tr.Record(Heartbeat, at(100))

	prev := time.Duration(0)
	for ms := int64(100); ms <= 3000; ms += 100 {
		age := tr.Age(Heartbeat, at(ms))
		if age < prev {
			t.Fatalf("age decreased from %v to %v at t=%d", prev, age, ms)
		}
		if want := time.Duration(ms-100) * time.Millisecond; age != want {
			t.Fatalf("Age at t=%d = %v, want %v", ms, age, want)
		}
		prev = age
	}

	tr.Record(Heartbeat, at(3000))
	if got := tr.Age(Heartbeat, at(3050)); got != 50*time.Millisecond {
		t.Fatalf("age after new event = %v, want 50ms", got)
	}
}

func TestAgeClampsBackwardsClock(t *testing.T) {
	tr := NewTracker(0)
	tr.Record(GPS, at(500))
	if got := tr.Age(GPS, at(400)); got != 0 {
		t.Fatalf("Age with clock behind last event = %v, want 0", got)
	}
}

func TestConnectionLost(t *testing.T) {
	tr := NewTracker(5 * time.Second)

	if !tr.ConnectionLost(at(0)) {
		t.Fatalf("connection should be lost before any heartbeat")
	}

	tr.Record(Heartbeat, at(0))
	tests := []struct {
		ms   int64
		want bool
	}{
		{0, false},
		{4000, false},
		{4999, false},
		{5000, true},
		{6000, true},
	}
	for _, tt := range tests {
		if got := tr.ConnectionLost(at(tt.ms)); got != tt.want {
			t.Fatalf("ConnectionLost at t=%d = %v, want %v", tt.ms, got, tt.want)
		}
	}
}

func TestSampleCoversEveryKind(t *testing.T) {
	tr := NewTracker(0)
	tr.Record(Battery, at(0))

	s := tr.Sample(at(250))
	if len(s) != len(Kinds) {
		t.Fatalf("sample has %d kinds, want %d", len(s), len(Kinds))
	}
	if s[Battery] != 250*time.Millisecond {
		t.Fatalf("battery age = %v, want 250ms", s[Battery])
	}
	if s[Attitude] != Never {
		t.Fatalf("attitude age = %v, want Never", s[Attitude])
	}

	tr.Reset()
	if tr.Age(Battery, at(300)) != Never {
		t.Fatalf("Reset should forget observations")
	}
}
