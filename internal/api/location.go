package api

import (
	"time"

	"github.com/rmarin/campo/internal/bus"
	"github.com/rmarin/campo/internal/store"
)

// LocationService handles agent position samples.
type LocationService struct {
	st          *store.Store
	bus         *bus.Bus
	maxAttempts int
}

// NewLocationService creates a new location service backed by the store.
func NewLocationService(st *store.Store, b *bus.Bus, maxAttempts int) *LocationService {
	return &LocationService{st: st, bus: b, maxAttempts: maxAttempts}
}

// Ping records one position sample and queues it for sync. Pings ride along
// with whatever drain cycle comes next; they never trigger one themselves.
func (s *LocationService) Ping(in store.PingInput) (*store.LocationPing, error) {
	p, err := s.st.RecordPing(in)
	if err != nil {
		return nil, err
	}
	if _, err := s.st.Enqueue(in.OrgID, store.KindLocation, p.ID, store.PriorityLocation, s.maxAttempts); err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Kind:      "location.pinged",
			Timestamp: time.Now(),
			Payload:   map[string]string{"ping_id": p.ID, "agent_id": p.AgentID},
		})
	}
	return p, nil
}

// LastKnown returns the agent's most recent position, or store.ErrNotFound
// when no ping was ever recorded.
func (s *LocationService) LastKnown(orgID, agentID string) (*store.LastLocation, error) {
	return s.st.LastKnownLocation(orgID, agentID)
}
