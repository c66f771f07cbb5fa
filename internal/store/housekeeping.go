package store

import (
	"fmt"
	"time"
)

// PruneSynced removes fully synced media blobs and location history older
// than the cutoff. Rows still referenced by a queue item are never touched,
// and field actions are kept: they are the business record. Returns the
// number of rows removed.
func (s *Store) PruneSynced(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan).UnixMilli()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var removed int64

	res, err := tx.Exec(`
		DELETE FROM media_assets
		WHERE sync_status = 'synced' AND synced_at > 0 AND synced_at < ?
		  AND NOT EXISTS (SELECT 1 FROM sync_queue q WHERE q.entity_id = media_assets.id)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune media: %w", err)
	}
	n, _ := res.RowsAffected()
	removed += n

	res, err = tx.Exec(`
		DELETE FROM location_pings
		WHERE sync_status = 'synced' AND synced_at > 0 AND synced_at < ?
		  AND NOT EXISTS (SELECT 1 FROM sync_queue q WHERE q.entity_id = location_pings.id)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune pings: %w", err)
	}
	n, _ = res.RowsAffected()
	removed += n

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}
