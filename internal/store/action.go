package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// ActionInput carries the UI-supplied fields for a new field action.
type ActionInput struct {
	OrgID       string
	AgentID     string
	CustomerID  string
	Type        string
	Channel     string
	Title       string
	Description string
	ScheduledAt int64
}

// ActionPatch holds the mutable fields of an action; nil means "unchanged".
type ActionPatch struct {
	Title       *string
	Description *string
	Result      *string
	Lifecycle   *string
	PerformedAt *int64
}

// ActionFilter narrows ListActions. Zero values match everything.
type ActionFilter struct {
	CustomerID string
	SyncStatus SyncStatus
	Since      int64 // updated_at >= Since, unix ms
}

// CreateAction persists a new action with version 1 and pending status and
// returns it. The generated id is the idempotency key for all later syncs.
func (s *Store) CreateAction(in ActionInput) (*FieldAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMilli()
	a := &FieldAction{
		ID:          s.newID(),
		OrgID:       in.OrgID,
		AgentID:     in.AgentID,
		CustomerID:  in.CustomerID,
		Type:        in.Type,
		Channel:     in.Channel,
		Title:       in.Title,
		Description: in.Description,
		Lifecycle:   LifecycleScheduled,
		MediaIDs:    []string{},
		ScheduledAt: in.ScheduledAt,
		Version:     1,
		SyncStatus:  StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.Exec(`
		INSERT INTO field_actions (id, org_id, agent_id, customer_id, action_type, channel, title, description, lifecycle, media_ids, scheduled_at, version, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', ?, 1, 'pending', ?, ?)`,
		a.ID, a.OrgID, a.AgentID, a.CustomerID, a.Type, a.Channel, a.Title, a.Description, a.Lifecycle, a.ScheduledAt, now, now)
	if err != nil {
		return nil, fmt.Errorf("create action: %w", err)
	}
	return a, nil
}

// UpdateAction applies a patch, increments the version and sets updated_at.
// A previously synced (or errored/conflicted) action flips back to pending:
// a prior sync does not protect against a later local edit.
func (s *Store) UpdateAction(orgID, id string, patch ActionPatch) (*FieldAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE field_actions SET
			title = COALESCE(?, title),
			description = COALESCE(?, description),
			result = COALESCE(?, result),
			lifecycle = COALESCE(?, lifecycle),
			performed_at = COALESCE(?, performed_at),
			version = version + 1,
			updated_at = ?,
			sync_status = CASE WHEN sync_status IN ('synced', 'error', 'conflict') THEN 'pending' ELSE sync_status END
		WHERE id = ? AND org_id = ?`,
		nullStr(patch.Title), nullStr(patch.Description), nullStr(patch.Result), nullStr(patch.Lifecycle),
		nullInt(patch.PerformedAt), s.nowMilli(), id, orgID)
	if err != nil {
		return nil, fmt.Errorf("update action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.getAction(orgID, id)
}

// GetAction returns the action or ErrNotFound.
func (s *Store) GetAction(orgID, id string) (*FieldAction, error) {
	return s.getAction(orgID, id)
}

func (s *Store) getAction(orgID, id string) (*FieldAction, error) {
	row := s.db.QueryRow(`
		SELECT id, org_id, agent_id, customer_id, action_type, channel, title, description, result, lifecycle, media_ids, scheduled_at, performed_at, version, sync_status, sync_error, created_at, updated_at, synced_at
		FROM field_actions WHERE id = ? AND org_id = ?`, id, orgID)
	return scanAction(row)
}

// ListActions returns the org's actions, newest update first.
func (s *Store) ListActions(orgID string, f ActionFilter) ([]*FieldAction, error) {
	q := `
		SELECT id, org_id, agent_id, customer_id, action_type, channel, title, description, result, lifecycle, media_ids, scheduled_at, performed_at, version, sync_status, sync_error, created_at, updated_at, synced_at
		FROM field_actions WHERE org_id = ?`
	args := []any{orgID}
	if f.CustomerID != "" {
		q += ` AND customer_id = ?`
		args = append(args, f.CustomerID)
	}
	if f.SyncStatus != "" {
		q += ` AND sync_status = ?`
		args = append(args, string(f.SyncStatus))
	}
	if f.Since > 0 {
		q += ` AND updated_at >= ?`
		args = append(args, f.Since)
	}
	q += ` ORDER BY updated_at DESC`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var actions []*FieldAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// AttachMediaID appends a media asset id to the action's evidence list.
// The list is additive; ids are never removed by sync.
func (s *Store) AttachMediaID(orgID, actionID, mediaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.getAction(orgID, actionID)
	if err != nil {
		return err
	}
	for _, id := range a.MediaIDs {
		if id == mediaID {
			return nil
		}
	}
	ids, err := json.Marshal(append(a.MediaIDs, mediaID))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		UPDATE field_actions SET
			media_ids = ?,
			version = version + 1,
			updated_at = ?,
			sync_status = CASE WHEN sync_status IN ('synced', 'error', 'conflict') THEN 'pending' ELSE sync_status END
		WHERE id = ? AND org_id = ?`,
		string(ids), s.nowMilli(), actionID, orgID)
	return err
}

// SaveMerged overwrites an action with the resolver's merged copy, bumps the
// version and sets it pending so the merged state is resubmitted. baseVersion
// is the version the merge was computed against: if a local edit bumped it
// while the upsert was in flight, the merge is stale and must not clobber
// the newer copy. The entity goes back to pending and the queue item is
// rearmed so the next cycle re-merges against the current local state.
func (s *Store) SaveMerged(a *FieldAction, baseVersion int64, item QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := json.Marshal(a.MediaIDs)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		UPDATE field_actions SET
			customer_id = ?, action_type = ?, channel = ?, title = ?, description = ?, result = ?, lifecycle = ?,
			media_ids = ?, scheduled_at = ?, performed_at = ?,
			version = version + 1, updated_at = ?, sync_status = 'pending'
		WHERE id = ? AND org_id = ? AND version = ?`,
		a.CustomerID, a.Type, a.Channel, a.Title, a.Description, a.Result, a.Lifecycle,
		string(ids), a.ScheduledAt, a.PerformedAt, s.nowMilli(), a.ID, a.OrgID, baseVersion)
	if err != nil {
		return fmt.Errorf("save merged action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return tx.Commit()
	}

	// Version advanced mid-flight: the merge is against a stale base. Keep
	// the newer local copy, release the claim and rearm the item.
	if _, err := tx.Exec(`
		UPDATE field_actions SET sync_status = 'pending'
		WHERE id = ? AND org_id = ? AND sync_status = 'syncing'`, a.ID, a.OrgID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE sync_queue SET attempts = 0, last_error = '', next_retry_at = 0 WHERE id = ?`, item.ID); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*FieldAction, error) {
	var a FieldAction
	var mediaIDs string
	err := row.Scan(&a.ID, &a.OrgID, &a.AgentID, &a.CustomerID, &a.Type, &a.Channel, &a.Title, &a.Description, &a.Result, &a.Lifecycle,
		&mediaIDs, &a.ScheduledAt, &a.PerformedAt, &a.Version, &a.SyncStatus, &a.SyncError, &a.CreatedAt, &a.UpdatedAt, &a.SyncedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mediaIDs), &a.MediaIDs); err != nil {
		return nil, fmt.Errorf("decode media_ids for %s: %w", a.ID, err)
	}
	return &a, nil
}

func nullStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
