package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Enqueue inserts a queue item for an entity. At most one active item exists
// per (entity_id, kind): re-enqueuing an already queued entity is a no-op,
// reported by the false return. Because each entity has at most one item,
// per-entity ordering is trivially FIFO.
func (s *Store) Enqueue(orgID string, kind QueueKind, entityID string, priority, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO sync_queue (id, org_id, kind, entity_id, priority, attempts, max_attempts, next_retry_at, enqueued_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, 0, ?)
		ON CONFLICT(entity_id, kind) DO NOTHING`,
		s.newID(), orgID, string(kind), entityID, priority, maxAttempts, s.nowMilli())
	if err != nil {
		return false, fmt.Errorf("enqueue %s %s: %w", kind, entityID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// DequeueBatch returns up to limit eligible items ordered by priority then
// enqueue time. Excluded: items whose next_retry_at is in the future, and
// media items whose parent action is not yet synced (the gateway needs the
// parent's canonical id before it will accept the child).
func (s *Store) DequeueBatch(limit int) ([]QueueItem, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.Query(`
		SELECT q.id, q.org_id, q.kind, q.entity_id, q.priority, q.attempts, q.max_attempts, q.last_error, q.next_retry_at, q.enqueued_at
		FROM sync_queue q
		WHERE (q.next_retry_at = 0 OR q.next_retry_at <= ?)
		  AND (q.kind != 'media' OR EXISTS (
				SELECT 1 FROM media_assets m
				JOIN field_actions a ON a.id = m.action_id
				WHERE m.id = q.entity_id AND a.sync_status = 'synced'))
		ORDER BY q.priority ASC, q.enqueued_at ASC, q.id ASC
		LIMIT ?`, s.nowMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []QueueItem
	for rows.Next() {
		var it QueueItem
		if err := rows.Scan(&it.ID, &it.OrgID, &it.Kind, &it.EntityID, &it.Priority, &it.Attempts, &it.MaxAttempts, &it.LastError, &it.NextRetryAt, &it.EnqueuedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// QueueLen returns the number of queued items for an org.
func (s *Store) QueueLen(orgID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE org_id = ?`, orgID).Scan(&n)
	return n, err
}

// GetQueueItem returns the active item for (entityID, kind), or ErrNotFound.
func (s *Store) GetQueueItem(entityID string, kind QueueKind) (*QueueItem, error) {
	row := s.db.QueryRow(`
		SELECT id, org_id, kind, entity_id, priority, attempts, max_attempts, last_error, next_retry_at, enqueued_at
		FROM sync_queue WHERE entity_id = ? AND kind = ?`, entityID, string(kind))
	var it QueueItem
	err := row.Scan(&it.ID, &it.OrgID, &it.Kind, &it.EntityID, &it.Priority, &it.Attempts, &it.MaxAttempts, &it.LastError, &it.NextRetryAt, &it.EnqueuedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// MarkSyncing claims a dequeued item by flipping its entity pending→syncing.
// Returns false when the entity is no longer pending (raced with an edit or
// another state change); the caller must skip the item for this cycle.
func (s *Store) MarkSyncing(item QueueItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		fmt.Sprintf(`UPDATE %s SET sync_status = 'syncing' WHERE id = ? AND sync_status = 'pending'`, tableFor(item.Kind)),
		item.EntityID)
	if err != nil {
		return false, fmt.Errorf("mark syncing %s: %w", item.EntityID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkActionSynced completes an action item. entityVersion is the version
// captured when the item was dispatched: if a local edit bumped it while the
// upsert was in flight, the entity stays pending and the item is reset to
// run again so the newer edit reaches the gateway (FIFO per entity).
func (s *Store) MarkActionSynced(item QueueItem, entityVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.nowMilli()
	res, err := tx.Exec(`
		UPDATE field_actions SET sync_status = 'synced', synced_at = ?
		WHERE id = ? AND sync_status = 'syncing' AND version = ?`,
		now, item.EntityID, entityVersion)
	if err != nil {
		return fmt.Errorf("mark action synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, item.ID); err != nil {
			return err
		}
		return tx.Commit()
	}

	// Version advanced mid-flight: the confirmed submission is stale. Put the
	// entity back to pending and rearm the item for the newer local state.
	if _, err := tx.Exec(`
		UPDATE field_actions SET sync_status = 'pending'
		WHERE id = ? AND sync_status = 'syncing'`, item.EntityID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE sync_queue SET attempts = 0, last_error = '', next_retry_at = 0 WHERE id = ?`, item.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkMediaSynced completes a media item, recording the durable remote URL.
func (s *Store) MarkMediaSynced(item QueueItem, remoteURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.nowMilli()
	if _, err := tx.Exec(`
		UPDATE media_assets SET sync_status = 'synced', synced_at = ?, remote_url = ?, updated_at = ?
		WHERE id = ? AND sync_status = 'syncing'`,
		now, remoteURL, now, item.EntityID); err != nil {
		return fmt.Errorf("mark media synced: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, item.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkPingSynced completes a location item.
func (s *Store) MarkPingSynced(item QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE location_pings SET sync_status = 'synced', synced_at = ?
		WHERE id = ? AND sync_status = 'syncing'`,
		s.nowMilli(), item.EntityID); err != nil {
		return fmt.Errorf("mark ping synced: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, item.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkFailed records a failed delivery attempt: attempts increments, the
// error is kept for the audit trail, and the item is deferred until
// nextRetryAt. The entity reverts syncing→pending while it waits.
func (s *Store) MarkFailed(item QueueItem, reason string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE sync_queue SET attempts = attempts + 1, last_error = ?, next_retry_at = ? WHERE id = ?`,
		reason, nextRetryAt.UnixMilli(), item.ID); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if _, err := tx.Exec(
		fmt.Sprintf(`UPDATE %s SET sync_status = 'pending' WHERE id = ? AND sync_status = 'syncing'`, tableFor(item.Kind)),
		item.EntityID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkDead removes the item and flags the entity error. Auto-retry stops;
// only an explicit user retry or edit re-enqueues the entity.
func (s *Store) MarkDead(item QueueItem, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, item.ID); err != nil {
		return fmt.Errorf("mark dead: %w", err)
	}
	if _, err := tx.Exec(
		fmt.Sprintf(`UPDATE %s SET sync_status = 'error', sync_error = ? WHERE id = ?`, tableFor(item.Kind)),
		reason, item.EntityID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkConflict removes the item and flags the action conflicted. The user
// must acknowledge the merged state before it syncs again.
func (s *Store) MarkConflict(item QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, item.ID); err != nil {
		return fmt.Errorf("mark conflict: %w", err)
	}
	if _, err := tx.Exec(
		fmt.Sprintf(`UPDATE %s SET sync_status = 'conflict' WHERE id = ?`, tableFor(item.Kind)),
		item.EntityID); err != nil {
		return err
	}
	return tx.Commit()
}

// RevertInFlight undoes a claim after an interruption (connectivity loss,
// cycle cancellation). The entity returns syncing→pending and attempts stay
// untouched: an interruption is not a failed delivery attempt.
func (s *Store) RevertInFlight(item QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		fmt.Sprintf(`UPDATE %s SET sync_status = 'pending' WHERE id = ? AND sync_status = 'syncing'`, tableFor(item.Kind)),
		item.EntityID)
	if err != nil {
		return fmt.Errorf("revert in-flight %s: %w", item.EntityID, err)
	}
	return nil
}

// Requeue is the explicit user action that revives an error/conflict entity:
// status back to pending, attempts reset, fresh queue item.
func (s *Store) Requeue(orgID string, kind QueueKind, entityID string, priority, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		fmt.Sprintf(`UPDATE %s SET sync_status = 'pending', sync_error = '' WHERE id = ? AND sync_status IN ('error', 'conflict')`, tableFor(kind)),
		entityID)
	if err != nil {
		return fmt.Errorf("requeue %s: %w", entityID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidTransition
	}
	if _, err := tx.Exec(`
		INSERT INTO sync_queue (id, org_id, kind, entity_id, priority, attempts, max_attempts, next_retry_at, enqueued_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, 0, ?)
		ON CONFLICT(entity_id, kind) DO UPDATE SET attempts = 0, last_error = '', next_retry_at = 0`,
		s.newID(), orgID, string(kind), entityID, priority, maxAttempts, s.nowMilli()); err != nil {
		return err
	}
	return tx.Commit()
}
