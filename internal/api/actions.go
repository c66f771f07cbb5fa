// Package api is the application layer the UI talks to: validated commands
// over the store, with every mutation enqueued for sync and announced on the
// bus.
package api

import (
	"fmt"
	"time"

	"github.com/rmarin/campo/internal/bus"
	"github.com/rmarin/campo/internal/store"
)

// ActionService handles field action commands.
type ActionService struct {
	st          *store.Store
	bus         *bus.Bus
	maxAttempts int
}

// NewActionService creates a new action service backed by the store.
func NewActionService(st *store.Store, b *bus.Bus, maxAttempts int) *ActionService {
	return &ActionService{st: st, bus: b, maxAttempts: maxAttempts}
}

// Record creates a new action and queues it for sync. The action type must
// exist in the org's catalog.
func (s *ActionService) Record(in store.ActionInput) (*store.FieldAction, error) {
	if in.CustomerID == "" {
		return nil, fmt.Errorf("record action: customer id required")
	}
	if err := s.validateType(in.OrgID, in.Type); err != nil {
		return nil, err
	}

	a, err := s.st.CreateAction(in)
	if err != nil {
		return nil, err
	}
	if _, err := s.st.Enqueue(in.OrgID, store.KindAction, a.ID, store.PriorityAction, s.maxAttempts); err != nil {
		return nil, err
	}

	s.publish("action.recorded", map[string]string{"action_id": a.ID, "customer_id": a.CustomerID})
	s.requestSync()
	return a, nil
}

// Amend patches an existing action. A synced action flips back to pending
// and is re-enqueued so the edit reaches the gateway.
func (s *ActionService) Amend(orgID, id string, patch store.ActionPatch) (*store.FieldAction, error) {
	a, err := s.st.UpdateAction(orgID, id, patch)
	if err != nil {
		return nil, err
	}
	if a.SyncStatus == store.StatusPending {
		if _, err := s.st.Enqueue(orgID, store.KindAction, a.ID, store.PriorityAction, s.maxAttempts); err != nil {
			return nil, err
		}
	}

	s.publish("action.amended", map[string]string{"action_id": a.ID})
	s.requestSync()
	return a, nil
}

// Retry revives an errored entity for another round of delivery attempts.
func (s *ActionService) Retry(orgID string, kind store.QueueKind, entityID string) error {
	priority := store.PriorityAction
	switch kind {
	case store.KindMedia:
		priority = store.PriorityMedia
	case store.KindLocation:
		priority = store.PriorityLocation
	}
	if err := s.st.Requeue(orgID, kind, entityID, priority, s.maxAttempts); err != nil {
		return err
	}
	s.publish("action.retried", map[string]string{"entity_id": entityID, "kind": string(kind)})
	s.requestSync()
	return nil
}

// Acknowledge accepts the auto-merged state of a conflicted action and
// requeues it. The action must be in conflict state.
func (s *ActionService) Acknowledge(orgID, id string) error {
	a, err := s.st.GetAction(orgID, id)
	if err != nil {
		return err
	}
	if a.SyncStatus != store.StatusConflict {
		return store.ErrInvalidTransition
	}
	if err := s.st.Requeue(orgID, store.KindAction, id, store.PriorityAction, s.maxAttempts); err != nil {
		return err
	}
	s.publish("action.conflict_acknowledged", map[string]string{"action_id": id})
	s.requestSync()
	return nil
}

// Get returns a single action.
func (s *ActionService) Get(orgID, id string) (*store.FieldAction, error) {
	return s.st.GetAction(orgID, id)
}

// List returns actions matching the filter.
func (s *ActionService) List(orgID string, f store.ActionFilter) ([]*store.FieldAction, error) {
	return s.st.ListActions(orgID, f)
}

// Types returns the org's action type catalog.
func (s *ActionService) Types(orgID string) ([]store.ActionType, error) {
	return s.st.ListActionTypes(orgID)
}

func (s *ActionService) validateType(orgID, actionType string) error {
	types, err := s.st.ListActionTypes(orgID)
	if err != nil {
		return err
	}
	for _, t := range types {
		if t.Name == actionType {
			return nil
		}
	}
	return fmt.Errorf("record action: unknown action type %q", actionType)
}

func (s *ActionService) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (s *ActionService) requestSync() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: "sync.request", Timestamp: time.Now(), Payload: "manual"})
}
