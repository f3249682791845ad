package bus

import "time"

// Event represents a domain event published on the bus.
// Kind is dot-namespaced ("localdata.cleared", "wa.message") so subscribers can
// filter by prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
