package store

// SyncStatus is the local replication state of an entity.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSyncing  SyncStatus = "syncing"
	StatusSynced   SyncStatus = "synced"
	StatusError    SyncStatus = "error"
	StatusConflict SyncStatus = "conflict"
)

// Lifecycle states of a field action. Divergence on this field is never
// auto-resolved; it flags the action as conflicted instead.
const (
	LifecycleScheduled = "scheduled"
	LifecycleCompleted = "completed"
	LifecycleCancelled = "cancelled"
)

// QueueKind identifies the entity class a queue item references.
type QueueKind string

const (
	KindAction   QueueKind = "action"
	KindLocation QueueKind = "location"
	KindMedia    QueueKind = "media"
)

// Priority classes. Business records first, then small time-sensitive
// location pings, large media last so slow links never starve class 1.
const (
	PriorityAction   = 1
	PriorityLocation = 2
	PriorityMedia    = 3
)

// FieldAction is a customer visit/contact record created in the field.
// ID is client-generated and doubles as the idempotency key: the first
// successful upsert establishes it as the canonical server id.
type FieldAction struct {
	ID          string
	OrgID       string
	AgentID     string
	CustomerID  string
	Type        string
	Channel     string
	Title       string
	Description string
	Result      string
	Lifecycle   string
	MediaIDs    []string
	ScheduledAt int64
	PerformedAt int64

	Version    int64
	SyncStatus SyncStatus
	SyncError  string
	CreatedAt  int64
	UpdatedAt  int64
	SyncedAt   int64
}

// MediaAsset is a compressed photo or audio clip attached to a field action.
type MediaAsset struct {
	ID               string
	OrgID            string
	ActionID         string
	Kind             string // photo, audio
	Blob             []byte
	Thumb            []byte
	OriginalSize     int64
	CompressedSize   int64
	DurationMS       int64
	Lat              float64
	Lng              float64
	TranscriptStatus string // none, requested, done, failed
	RemoteURL        string

	Version    int64
	SyncStatus SyncStatus
	SyncError  string
	CreatedAt  int64
	UpdatedAt  int64
	SyncedAt   int64
}

// LocationPing is one append-only agent position sample.
type LocationPing struct {
	Seq      int64
	ID       string
	OrgID    string
	AgentID  string
	Lat      float64
	Lng      float64
	Accuracy float64
	PingedAt int64

	SyncStatus SyncStatus
	SyncError  string
	CreatedAt  int64
	SyncedAt   int64
}

// LastLocation is the single overwritten "last known position" per agent.
type LastLocation struct {
	OrgID    string
	AgentID  string
	Lat      float64
	Lng      float64
	Accuracy float64
	PingedAt int64
}

// QueueItem is one pending unit of sync work referencing a local entity.
type QueueItem struct {
	ID          string
	OrgID       string
	Kind        QueueKind
	EntityID    string
	Priority    int
	Attempts    int
	MaxAttempts int
	LastError   string
	NextRetryAt int64 // unix ms; 0 = eligible immediately
	EnqueuedAt  int64
}

// ActionType is a per-org catalog entry for action classification.
type ActionType struct {
	OrgID string
	Name  string
	Label string
}
