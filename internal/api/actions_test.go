package api

import (
	"path/filepath"
	"testing"

	"github.com/rmarin/campo/internal/bus"
	"github.com/rmarin/campo/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	st := store.New(db)
	if err := st.EnsureCatalog("org"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRecordCreatesAndEnqueues(t *testing.T) {
	st := testStore(t)
	svc := NewActionService(st, bus.New(), 5)

	a, err := svc.Record(store.ActionInput{
		OrgID: "org", AgentID: "ag", CustomerID: "c1",
		Type: "visita", Channel: "presencial", Title: "Visita semanal",
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Version != 1 || a.SyncStatus != store.StatusPending {
		t.Errorf("new action = v%d %q, want v1 pending", a.Version, a.SyncStatus)
	}

	item, err := st.GetQueueItem(a.ID, store.KindAction)
	if err != nil {
		t.Fatal(err)
	}
	if item.Priority != store.PriorityAction {
		t.Errorf("priority = %d, want %d", item.Priority, store.PriorityAction)
	}
}

func TestRecordRejectsUnknownType(t *testing.T) {
	st := testStore(t)
	svc := NewActionService(st, nil, 5)

	_, err := svc.Record(store.ActionInput{OrgID: "org", AgentID: "ag", CustomerID: "c1", Type: "paseo"})
	if err == nil {
		t.Fatal("want error for type outside catalog")
	}
}

func TestRecordRequiresCustomer(t *testing.T) {
	st := testStore(t)
	svc := NewActionService(st, nil, 5)

	_, err := svc.Record(store.ActionInput{OrgID: "org", AgentID: "ag", Type: "visita"})
	if err == nil {
		t.Fatal("want error for missing customer id")
	}
}

func TestAmendSyncedActionReenqueues(t *testing.T) {
	st := testStore(t)
	svc := NewActionService(st, bus.New(), 5)

	a, err := svc.Record(store.ActionInput{OrgID: "org", AgentID: "ag", CustomerID: "c1", Type: "visita"})
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a completed drain.
	item, err := st.GetQueueItem(a.ID, store.KindAction)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.MarkSyncing(*item); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkActionSynced(*item, a.Version); err != nil {
		t.Fatal(err)
	}

	result := "pedido tomado"
	completed := store.LifecycleCompleted
	amended, err := svc.Amend("org", a.ID, store.ActionPatch{Result: &result, Lifecycle: &completed})
	if err != nil {
		t.Fatal(err)
	}
	if amended.SyncStatus != store.StatusPending {
		t.Errorf("status = %q, want pending after edit of synced action", amended.SyncStatus)
	}
	if amended.Version != a.Version+1 {
		t.Errorf("version = %d, want %d", amended.Version, a.Version+1)
	}
	if _, err := st.GetQueueItem(a.ID, store.KindAction); err != nil {
		t.Errorf("queue item missing after amend: %v", err)
	}
}

func TestAcknowledgeRequiresConflictState(t *testing.T) {
	st := testStore(t)
	svc := NewActionService(st, bus.New(), 5)

	a, err := svc.Record(store.ActionInput{OrgID: "org", AgentID: "ag", CustomerID: "c1", Type: "visita"})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Acknowledge("org", a.ID); err != store.ErrInvalidTransition {
		t.Fatalf("acknowledge pending action: err = %v, want ErrInvalidTransition", err)
	}

	// Park the action in conflict state, then acknowledge.
	item, err := st.GetQueueItem(a.ID, store.KindAction)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.MarkSyncing(*item); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkConflict(*item); err != nil {
		t.Fatal(err)
	}

	if err := svc.Acknowledge("org", a.ID); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetAction("org", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncStatus != store.StatusPending {
		t.Errorf("status = %q, want pending after acknowledge", got.SyncStatus)
	}
	if _, err := st.GetQueueItem(a.ID, store.KindAction); err != nil {
		t.Errorf("queue item missing after acknowledge: %v", err)
	}
}

func TestRetryRevivesErroredEntity(t *testing.T) {
	st := testStore(t)
	svc := NewActionService(st, bus.New(), 5)

	a, err := svc.Record(store.ActionInput{OrgID: "org", AgentID: "ag", CustomerID: "c1", Type: "cobranza"})
	if err != nil {
		t.Fatal(err)
	}
	item, err := st.GetQueueItem(a.ID, store.KindAction)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.MarkSyncing(*item); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkDead(*item, "upstream rejected"); err != nil {
		t.Fatal(err)
	}

	if err := svc.Retry("org", store.KindAction, a.ID); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetAction("org", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncStatus != store.StatusPending {
		t.Errorf("status = %q, want pending after retry", got.SyncStatus)
	}
	if got.SyncError != "" {
		t.Errorf("sync_error = %q, want cleared", got.SyncError)
	}
}
