package store

import (
	"database/sql"
	"fmt"
)

// MediaInput carries a fully compressed asset ready to persist. The caller
// (the capture pipeline) must never hand over a partially produced asset.
type MediaInput struct {
	OrgID          string
	ActionID       string
	Kind           string
	Blob           []byte
	Thumb          []byte
	OriginalSize   int64
	CompressedSize int64
	DurationMS     int64
	Lat            float64
	Lng            float64
}

// CreateMedia persists a compressed media asset with pending status.
func (s *Store) CreateMedia(in MediaInput) (*MediaAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMilli()
	m := &MediaAsset{
		ID:               s.newID(),
		OrgID:            in.OrgID,
		ActionID:         in.ActionID,
		Kind:             in.Kind,
		Blob:             in.Blob,
		Thumb:            in.Thumb,
		OriginalSize:     in.OriginalSize,
		CompressedSize:   in.CompressedSize,
		DurationMS:       in.DurationMS,
		Lat:              in.Lat,
		Lng:              in.Lng,
		TranscriptStatus: "none",
		Version:          1,
		SyncStatus:       StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err := s.db.Exec(`
		INSERT INTO media_assets (id, org_id, action_id, kind, blob, thumb, original_size, compressed_size, duration_ms, lat, lng, transcript_status, version, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'none', 1, 'pending', ?, ?)`,
		m.ID, m.OrgID, m.ActionID, m.Kind, m.Blob, m.Thumb, m.OriginalSize, m.CompressedSize, m.DurationMS, m.Lat, m.Lng, now, now)
	if err != nil {
		return nil, fmt.Errorf("create media: %w", err)
	}
	return m, nil
}

// GetMedia returns the asset or ErrNotFound.
func (s *Store) GetMedia(orgID, id string) (*MediaAsset, error) {
	row := s.db.QueryRow(`
		SELECT id, org_id, action_id, kind, blob, thumb, original_size, compressed_size, duration_ms, lat, lng, transcript_status, remote_url, version, sync_status, sync_error, created_at, updated_at, synced_at
		FROM media_assets WHERE id = ? AND org_id = ?`, id, orgID)

	var m MediaAsset
	err := row.Scan(&m.ID, &m.OrgID, &m.ActionID, &m.Kind, &m.Blob, &m.Thumb, &m.OriginalSize, &m.CompressedSize, &m.DurationMS,
		&m.Lat, &m.Lng, &m.TranscriptStatus, &m.RemoteURL, &m.Version, &m.SyncStatus, &m.SyncError, &m.CreatedAt, &m.UpdatedAt, &m.SyncedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMediaForAction returns the assets attached to an action, oldest first.
func (s *Store) ListMediaForAction(orgID, actionID string) ([]*MediaAsset, error) {
	rows, err := s.db.Query(`
		SELECT id, org_id, action_id, kind, blob, thumb, original_size, compressed_size, duration_ms, lat, lng, transcript_status, remote_url, version, sync_status, sync_error, created_at, updated_at, synced_at
		FROM media_assets WHERE org_id = ? AND action_id = ? ORDER BY created_at ASC`, orgID, actionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var assets []*MediaAsset
	for rows.Next() {
		var m MediaAsset
		if err := rows.Scan(&m.ID, &m.OrgID, &m.ActionID, &m.Kind, &m.Blob, &m.Thumb, &m.OriginalSize, &m.CompressedSize, &m.DurationMS,
			&m.Lat, &m.Lng, &m.TranscriptStatus, &m.RemoteURL, &m.Version, &m.SyncStatus, &m.SyncError, &m.CreatedAt, &m.UpdatedAt, &m.SyncedAt); err != nil {
			return nil, err
		}
		assets = append(assets, &m)
	}
	return assets, rows.Err()
}

// SetTranscriptStatus updates the audio transcription state. Transcription
// is outside the sync guarantee, so this never touches sync_status.
func (s *Store) SetTranscriptStatus(orgID, id, transcriptStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE media_assets SET transcript_status = ?, updated_at = ? WHERE id = ? AND org_id = ?`,
		transcriptStatus, s.nowMilli(), id, orgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
