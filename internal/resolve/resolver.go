// Package resolve implements the policy applied when the gateway reports a
// server copy newer than the client's base version (a concurrent edit by
// another actor, typically a supervisor).
package resolve

import "github.com/rmarin/campo/internal/store"

// Outcome classifies a merge result.
type Outcome int

const (
	// OutcomeMerged means every divergent field auto-resolved; the merged
	// copy should be saved and resubmitted.
	OutcomeMerged Outcome = iota
	// OutcomeConflict means the action's lifecycle state diverged. That is
	// never auto-resolved: the entity is flagged for explicit user
	// acknowledgement.
	OutcomeConflict
)

// Resolution is the outcome of merging a local action with a newer server
// copy. Fields lists every auto-resolved field for the audit log.
type Resolution struct {
	Outcome Outcome
	Merged  *store.FieldAction
	Fields  []string
}

// Merge reconciles a local action with the server copy. Scalar fields use
// last-write-wins by server-observed update time; the evidence id list is
// merged by union so concurrent uploads are never silently dropped.
func Merge(local, server *store.FieldAction) Resolution {
	if local.Lifecycle != server.Lifecycle {
		return Resolution{Outcome: OutcomeConflict}
	}

	merged := *local
	var fields []string

	serverWins := server.UpdatedAt > local.UpdatedAt
	if serverWins {
		scalars := []struct {
			name  string
			dst   *string
			local string
			srv   string
		}{
			{"customer", &merged.CustomerID, local.CustomerID, server.CustomerID},
			{"type", &merged.Type, local.Type, server.Type},
			{"channel", &merged.Channel, local.Channel, server.Channel},
			{"title", &merged.Title, local.Title, server.Title},
			{"description", &merged.Description, local.Description, server.Description},
			{"result", &merged.Result, local.Result, server.Result},
		}
		for _, f := range scalars {
			if f.local != f.srv {
				*f.dst = f.srv
				fields = append(fields, f.name)
			}
		}
		if local.ScheduledAt != server.ScheduledAt {
			merged.ScheduledAt = server.ScheduledAt
			fields = append(fields, "scheduled_at")
		}
		if local.PerformedAt != server.PerformedAt {
			merged.PerformedAt = server.PerformedAt
			fields = append(fields, "performed_at")
		}
	}

	unioned, added := unionIDs(local.MediaIDs, server.MediaIDs)
	merged.MediaIDs = unioned
	if added {
		fields = append(fields, "media_ids")
	}

	return Resolution{Outcome: OutcomeMerged, Merged: &merged, Fields: fields}
}

// unionIDs merges two evidence lists preserving local order, then appends
// server-only ids. Reports whether anything beyond the local list survived.
func unionIDs(local, server []string) ([]string, bool) {
	seen := make(map[string]bool, len(local))
	out := make([]string, 0, len(local)+len(server))
	for _, id := range local {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	added := false
	for _, id := range server {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
			added = true
		}
	}
	return out, added
}
