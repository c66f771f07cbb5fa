package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind is a dot-separated name ("sync.item_synced", "action.recorded");
// subscribers filter by namespace prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
