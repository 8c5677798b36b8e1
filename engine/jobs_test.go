package engine

import (
	"context"
	"errors"
	"testing"
)

func TestJobTracker_Sequence(t *testing.T) {
	tr := NewJobTracker()
	var fired []string
	for _, name := range []string{"", "A", "A", "B", "", "B"} {
		if _, changed := tr.Observe(name); changed {
			fired = append(fired, name)
		}
	}
	if len(fired) != 3 {
		t.Fatalf("fired %v, want 3 triggers", fired)
	}
	if tr.Current() != "B" {
		t.Errorf("current = %q, want B", tr.Current())
	}
}

func TestJobTracker_Previous(t *testing.T) {
	tr := NewJobTracker()
	if prev, changed := tr.Observe("A"); !changed || prev != "" {
		t.Errorf("first job: prev=%q changed=%v", prev, changed)
	}
	tr.Observe("")
	if prev, changed := tr.Observe("B"); !changed || prev != "A" {
		t.Errorf("second job: prev=%q changed=%v", prev, changed)
	}
}

func TestJobTracker_IdleNeverFires(t *testing.T) {
	tr := NewJobTracker()
	for i := 0; i < 3; i++ {
		if _, changed := tr.Observe(""); changed {
			t.Fatal("empty name fired a job change")
		}
	}
	if tr.Current() != "" {
		t.Errorf("current = %q", tr.Current())
	}
}

type mockStream struct {
	active bool
	err    error
	stops  int
}

func (m *mockStream) StreamActive(context.Context) (bool, error) { return m.active, m.err }

func (m *mockStream) StopStream(context.Context) error {
	m.stops++
	return nil
}

func TestStreamController_Observe(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		active  bool
		stopped bool
	}{
		{"below 100 active", 99, true, false},
		{"100 inactive", 100, false, false},
		{"100 active", 100, true, true},
		{"0 active", 0, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &mockStream{active: tt.active}
			c := NewStreamController(sink)
			stopped, err := c.Observe(context.Background(), tt.percent)
			if err != nil {
				t.Fatalf("Observe: %v", err)
			}
			if stopped != tt.stopped {
				t.Errorf("stopped = %v, want %v", stopped, tt.stopped)
			}
			want := 0
			if tt.stopped {
				want = 1
			}
			if sink.stops != want {
				t.Errorf("stop commands = %d, want %d", sink.stops, want)
			}
		})
	}
}

func TestStreamController_StatusError(t *testing.T) {
	sink := &mockStream{active: true, err: errors.New("timeout")}
	c := NewStreamController(sink)
	stopped, err := c.Observe(context.Background(), 100)
	if err == nil || stopped {
		t.Fatalf("stopped=%v err=%v, want error", stopped, err)
	}
	if sink.stops != 0 {
		t.Error("stop issued without a known stream status")
	}
}

func TestStreamController_RepeatedCompletion(t *testing.T) {
	sink := &mockStream{active: true}
	c := NewStreamController(sink)
	c.Observe(context.Background(), 100)
	c.Observe(context.Background(), 100)
	if sink.stops != 2 {
		t.Errorf("stop commands = %d, want 2", sink.stops)
	}
}
