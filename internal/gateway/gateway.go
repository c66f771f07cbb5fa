// Package gateway defines the remote sync gateway the drain cycle talks to.
// The gateway accepts idempotent upserts keyed by (organizationId, local
// entity id): the first successful upsert establishes the local id as the
// canonical server id, and resubmissions return the existing record.
package gateway

import (
	"context"
	"fmt"

	"github.com/rmarin/campo/internal/store"
)

// Gateway is the tenant-scoped remote endpoint.
type Gateway interface {
	UpsertAction(ctx context.Context, a *store.FieldAction) (*UpsertResult, error)
	UploadMedia(ctx context.Context, m *store.MediaAsset) (*UploadResult, error)
	PingLocation(ctx context.Context, p *store.LocationPing) (*PingResult, error)
}

// UpsertResult is the gateway's answer to an action upsert. When the server
// copy is newer than the client's base version, Conflict is true and Server
// carries the server copy for the resolver.
type UpsertResult struct {
	ServerID   string
	AcceptedAt int64
	Conflict   bool
	Server     *store.FieldAction
}

// UploadResult is the durable location of an uploaded media asset.
type UploadResult struct {
	URL      string
	Filename string
}

// PingResult acknowledges a location ping.
type PingResult struct {
	AcceptedAt int64
}

// Error is a structured gateway failure.
//
// Transport=true means the request never produced a response (dial failure,
// timeout, connection reset): the delivery outcome is unknown and the
// attempt must not be counted. Retryable covers produced responses that are
// worth retrying (5xx, 429). Everything else is a client error requiring
// user correction.
type Error struct {
	Retryable bool
	Transport bool
	Reason    string
	Status    int
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway: %s (status %d)", e.Reason, e.Status)
	}
	return "gateway: " + e.Reason
}

// TenantRejected reports whether the gateway refused the request for
// crossing a tenant boundary. Always non-retryable and security-relevant.
func (e *Error) TenantRejected() bool {
	return e.Status == 403
}
