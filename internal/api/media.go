package api

import (
	"fmt"
	"time"

	"github.com/rmarin/campo/internal/bus"
	"github.com/rmarin/campo/internal/media"
	"github.com/rmarin/campo/internal/store"
)

// MediaService handles photo and audio evidence capture.
type MediaService struct {
	st          *store.Store
	bus         *bus.Bus
	params      media.Params
	maxAttempts int
}

// NewMediaService creates a new media service backed by the store.
func NewMediaService(st *store.Store, b *bus.Bus, params media.Params, maxAttempts int) *MediaService {
	return &MediaService{st: st, bus: b, params: params, maxAttempts: maxAttempts}
}

// AttachPhoto compresses a captured photo, persists it as evidence of the
// action and queues the upload. The raw capture is discarded; only the
// compressed copy and thumbnail are kept.
func (s *MediaService) AttachPhoto(orgID, actionID string, raw []byte, lat, lng float64) (*store.MediaAsset, error) {
	if _, err := s.st.GetAction(orgID, actionID); err != nil {
		return nil, fmt.Errorf("attach photo: %w", err)
	}

	photo, err := media.CompressPhoto(raw, s.params)
	if err != nil {
		return nil, fmt.Errorf("attach photo: %w", err)
	}

	m, err := s.st.CreateMedia(store.MediaInput{
		OrgID:          orgID,
		ActionID:       actionID,
		Kind:           "photo",
		Blob:           photo.Main,
		Thumb:          photo.Thumbnail,
		OriginalSize:   int64(photo.OriginalSize),
		CompressedSize: int64(photo.CompressedSize),
		Lat:            lat,
		Lng:            lng,
	})
	if err != nil {
		return nil, err
	}
	if err := s.st.AttachMediaID(orgID, actionID, m.ID); err != nil {
		return nil, err
	}
	if _, err := s.st.Enqueue(orgID, store.KindMedia, m.ID, store.PriorityMedia, s.maxAttempts); err != nil {
		return nil, err
	}

	s.publish("media.attached", map[string]string{"media_id": m.ID, "action_id": actionID, "kind": "photo"})
	s.requestSync()
	return m, nil
}

// AttachAudio persists a voice note as evidence and queues the upload.
// Transcription is requested fire-and-forget: a failure there never blocks
// or fails the capture.
func (s *MediaService) AttachAudio(orgID, actionID string, raw []byte, lat, lng float64) (*store.MediaAsset, error) {
	if _, err := s.st.GetAction(orgID, actionID); err != nil {
		return nil, fmt.Errorf("attach audio: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("attach audio: empty recording")
	}

	info, err := media.ProbeAudio(raw)
	if err != nil {
		return nil, fmt.Errorf("attach audio: %w", err)
	}

	m, err := s.st.CreateMedia(store.MediaInput{
		OrgID:          orgID,
		ActionID:       actionID,
		Kind:           "audio",
		Blob:           raw,
		OriginalSize:   int64(len(raw)),
		CompressedSize: int64(len(raw)),
		DurationMS:     info.DurationMS,
		Lat:            lat,
		Lng:            lng,
	})
	if err != nil {
		return nil, err
	}
	if err := s.st.AttachMediaID(orgID, actionID, m.ID); err != nil {
		return nil, err
	}
	if _, err := s.st.Enqueue(orgID, store.KindMedia, m.ID, store.PriorityMedia, s.maxAttempts); err != nil {
		return nil, err
	}

	if err := s.st.SetTranscriptStatus(orgID, m.ID, "requested"); err == nil {
		s.publish("media.transcription_requested", map[string]string{"media_id": m.ID})
	}

	s.publish("media.attached", map[string]string{"media_id": m.ID, "action_id": actionID, "kind": "audio"})
	s.requestSync()
	return m, nil
}

// Get returns a single asset.
func (s *MediaService) Get(orgID, id string) (*store.MediaAsset, error) {
	return s.st.GetMedia(orgID, id)
}

// ListForAction returns all evidence attached to an action.
func (s *MediaService) ListForAction(orgID, actionID string) ([]*store.MediaAsset, error) {
	return s.st.ListMediaForAction(orgID, actionID)
}

func (s *MediaService) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (s *MediaService) requestSync() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: "sync.request", Timestamp: time.Now(), Payload: "manual"})
}
