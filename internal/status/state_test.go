package status

import (
	"testing"

	"github.com/matheus3301/wppsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Unloaded {
		t.Errorf("initial state = %s, want UNLOADED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Unloaded, Ensuring},
		{Unloaded, Dropping},
		{Ensuring, Ready},
		{Ensuring, Failed},
		{Ready, Dropping},
		{Ready, Ensuring},
		{Dropping, Unloaded},
		{Dropping, Failed},
		{Failed, Ensuring},
		{Failed, Dropping},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Unloaded, Ready},
		{Ensuring, Dropping},
		{Dropping, Ensuring},
		{Dropping, Ready},
		{Ready, Unloaded},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want unchanged %s", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("localdata.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Ensuring); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != KindStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Unloaded || change.To != Ensuring {
		t.Errorf("change = %v -> %v, want UNLOADED -> ENSURING", change.From, change.To)
	}
}

// TestHandlerCanReadStateDuringTransition verifies synchronous bus handlers
// observe the new state instead of deadlocking on the machine's lock.
func TestHandlerCanReadStateDuringTransition(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	var seen State
	off := b.On(KindStatusChanged, func(bus.Event) { seen = m.Current() })
	defer off()

	if err := m.Transition(Ensuring); err != nil {
		t.Fatal(err)
	}
	if seen != Ensuring {
		t.Errorf("handler saw %s, want ENSURING", seen)
	}
}

// TestRefreshLifecycle walks READY -> DROPPING -> UNLOADED -> ENSURING -> READY.
func TestRefreshLifecycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	for _, s := range []State{Dropping, Unloaded, Ensuring, Ready} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// TestRecoverFromFailedEnsure verifies a failed ensure can be retried.
func TestRecoverFromFailedEnsure(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Failed)
	if err := m.Transition(Ensuring); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Ready); err != nil {
		t.Fatal(err)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Unloaded: {},
		Ensuring: {Ensuring},
		Ready:    {Ensuring, Ready},
		Dropping: {Dropping},
		Failed:   {Ensuring, Failed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
