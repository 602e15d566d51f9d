package status

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		path []State
	}{
		{[]State{Connecting, Connected}},
		{[]State{Connecting, Connected, Reconnecting, Connecting, Connected}},
		{[]State{Connecting, Reconnecting, Offline, Connecting}},
		{[]State{Connecting, Offline}},
		{[]State{Connecting, Connected, Closed}},
		{[]State{Closed}},
	}
	for _, tt := range tests {
		name := ""
		for _, s := range tt.path {
			name += "->" + string(s)
		}
		t.Run(name, func(t *testing.T) {
			m := NewMachine(nil)
			for _, s := range tt.path {
				if err := m.Transition(s); err != nil {
					t.Fatalf("Transition(%s) error = %v", s, err)
				}
			}
			if want := tt.path[len(tt.path)-1]; m.Current() != want {
				t.Errorf("state = %s, want %s", m.Current(), want)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	tests := []struct {
		name string
		walk []State
		to   State
	}{
		{"idle to connected", nil, Connected},
		{"connected to offline", []State{Connecting, Connected}, Offline},
		{"closed is terminal", []State{Closed}, Connecting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			for _, s := range tt.walk {
				if err := m.Transition(s); err != nil {
					t.Fatal(err)
				}
			}
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", m.Current(), tt.to)
			}
		})
	}
}

func TestSameStateIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.ConnectionPrefix, 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Idle); err != nil {
		t.Fatalf("Transition(IDLE -> IDLE) error = %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.ConnectionPrefix, 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.ConnectionChanged {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.ConnectionChanged)
		}
		sc, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if sc.From != Idle || sc.To != Connecting {
			t.Errorf("change = %s -> %s, want IDLE -> CONNECTING", sc.From, sc.To)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}
