package store

import (
	"database/sql"
	"fmt"
)

// PingInput is one agent position sample.
type PingInput struct {
	OrgID    string
	AgentID  string
	Lat      float64
	Lng      float64
	Accuracy float64
	PingedAt int64
}

// RecordPing writes one transaction containing the append-only history row
// and the overwritten "last known location" row.
func (s *Store) RecordPing(in PingInput) (*LocationPing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMilli()
	p := &LocationPing{
		ID:         s.newID(),
		OrgID:      in.OrgID,
		AgentID:    in.AgentID,
		Lat:        in.Lat,
		Lng:        in.Lng,
		Accuracy:   in.Accuracy,
		PingedAt:   in.PingedAt,
		SyncStatus: StatusPending,
		CreatedAt:  now,
	}
	if p.PingedAt == 0 {
		p.PingedAt = now
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO location_pings (id, org_id, agent_id, lat, lng, accuracy, pinged_at, sync_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		p.ID, p.OrgID, p.AgentID, p.Lat, p.Lng, p.Accuracy, p.PingedAt, now); err != nil {
		return nil, fmt.Errorf("insert ping: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO location_last (org_id, agent_id, lat, lng, accuracy, pinged_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, agent_id) DO UPDATE SET
			lat = excluded.lat,
			lng = excluded.lng,
			accuracy = excluded.accuracy,
			pinged_at = excluded.pinged_at,
			updated_at = excluded.updated_at`,
		p.OrgID, p.AgentID, p.Lat, p.Lng, p.Accuracy, p.PingedAt, now); err != nil {
		return nil, fmt.Errorf("upsert last location: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ping: %w", err)
	}
	return p, nil
}

// GetPing returns a history ping by id.
func (s *Store) GetPing(orgID, id string) (*LocationPing, error) {
	row := s.db.QueryRow(`
		SELECT seq, id, org_id, agent_id, lat, lng, accuracy, pinged_at, sync_status, sync_error, created_at, synced_at
		FROM location_pings WHERE id = ? AND org_id = ?`, id, orgID)

	var p LocationPing
	err := row.Scan(&p.Seq, &p.ID, &p.OrgID, &p.AgentID, &p.Lat, &p.Lng, &p.Accuracy, &p.PingedAt, &p.SyncStatus, &p.SyncError, &p.CreatedAt, &p.SyncedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// LastKnownLocation returns the overwritten last-known row for an agent.
func (s *Store) LastKnownLocation(orgID, agentID string) (*LastLocation, error) {
	row := s.db.QueryRow(`
		SELECT org_id, agent_id, lat, lng, accuracy, pinged_at
		FROM location_last WHERE org_id = ? AND agent_id = ?`, orgID, agentID)

	var l LastLocation
	err := row.Scan(&l.OrgID, &l.AgentID, &l.Lat, &l.Lng, &l.Accuracy, &l.PingedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
