package device

import (
	"context"
	"time"
)

// History source values.
const (
	// HistorySourceDevice marks a change the light reported over its
	// control connection.
	HistorySourceDevice = "device"

	// HistorySourceDiscovery marks state carried by a discovery datagram.
	HistorySourceDiscovery = "discovery"
)

// HistoryEntry is one recorded light state change.
//
// Each entry stores a full snapshot of the light state at the time the
// change was observed. This provides a local trail even when the
// time-series database is disabled or unavailable.
type HistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// LightID is the light's identity.
	LightID Identity `json:"light_id"`

	// State is the snapshot.
	State LightState `json:"state"`

	// Source identifies how the change was observed (device, discovery).
	Source string `json:"source"`

	// CreatedAt is when the change was recorded (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// History stores and retrieves light state changes.
//
// Implementations must be thread-safe and use UTC timestamps.
type History interface {
	// Record stores a state snapshot for a light.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - id: Light identity
	//   - state: State snapshot to persist
	//   - source: Origin of the change (device, discovery)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	Record(ctx context.Context, id Identity, state LightState, source string) error

	// Recent returns the newest entries for a light, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - id: Light identity
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []HistoryEntry: Ordered newest-first entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	Recent(ctx context.Context, id Identity, limit int) ([]HistoryEntry, error)
}
