package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppsync/internal/bus"
)

// State is the lifecycle state of the local data set.
type State string

const (
	Unloaded State = "UNLOADED"
	Ensuring State = "ENSURING"
	Ready    State = "READY"
	Dropping State = "DROPPING"
	Failed   State = "FAILED"
)

// KindStatusChanged is published on every successful transition.
const KindStatusChanged = "localdata.status_changed"

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Unloaded: {Ensuring, Dropping},
	Ensuring: {Ready, Failed},
	Ready:    {Ensuring, Dropping},
	Dropping: {Unloaded, Failed},
	Failed:   {Ensuring, Dropping},
}

// Machine tracks and enforces local data lifecycle transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     bus.Publisher
}

// NewMachine creates a new state machine starting in Unloaded state.
// b may be nil.
func NewMachine(b bus.Publisher) *Machine {
	return &Machine{
		current: Unloaded,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	// Published outside the lock: synchronous bus handlers may call Current.
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(KindStatusChanged, StatusChange{From: from, To: to}))
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
