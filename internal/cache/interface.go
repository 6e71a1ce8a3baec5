package cache

import (
	"context"
	"time"
)

// Snapshot is the last known presence of a user.
type Snapshot struct {
	Status   string
	LastSeen time.Time
}

// PresenceCache keeps the last known presence snapshot per user. The live
// registry stays authoritative for the current status.
type PresenceCache interface {
	// Record stores status and the time it was observed.
	Record(ctx context.Context, userID, status string, at time.Time) error

	// Snapshots returns the stored snapshots for the given users.
	// Users without a snapshot are absent from the map.
	Snapshots(ctx context.Context, userIDs []string) (map[string]Snapshot, error)

	// Close releases the underlying connection.
	Close() error
}
