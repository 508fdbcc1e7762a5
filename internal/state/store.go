// Package state stores immutable point-in-time session snapshots.
//
// A snapshot captures the object registry and metadata of a session, plus an
// optional opaque engine state blob when the session was connected at save
// time. Stores are pluggable; every backend provides read-after-write
// consistency within a single process.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/enginegate/gateway/internal/domain/registry"
	"github.com/enginegate/gateway/internal/shared/id"
)

// ErrNotFound is returned when no snapshot exists for the requested id.
var ErrNotFound = errors.New("state: snapshot not found")

// Snapshot is an immutable capture of a session's restorable state.
//
// EngineState is nil when the session was not connected at save time;
// restore logic must branch on its presence explicitly.
type Snapshot struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	Registry    []registry.Entry       `json:"registry"`
	EngineState []byte                 `json:"engine_state,omitempty"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// HasEngineState reports whether the snapshot carries an engine blob.
func (s *Snapshot) HasEngineState() bool {
	return s.EngineState != nil
}

// Clone returns a copy that shares no mutable state with the receiver.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		ID:        s.ID,
		Name:      s.Name,
		CreatedAt: s.CreatedAt,
	}
	if s.Registry != nil {
		out.Registry = make([]registry.Entry, len(s.Registry))
		for i, entry := range s.Registry {
			props := make(map[string]interface{}, len(entry.Properties))
			for k, v := range entry.Properties {
				props[k] = v
			}
			entry.Properties = props
			out.Registry[i] = entry
		}
	}
	if s.EngineState != nil {
		out.EngineState = make([]byte, len(s.EngineState))
		copy(out.EngineState, s.EngineState)
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Store persists snapshots. Implementations must treat stored snapshots as
// immutable and never return aliased mutable state to callers.
type Store interface {
	// Save stores the snapshot, assigning an id and creation time if absent,
	// and returns the id.
	Save(ctx context.Context, snap *Snapshot) (string, error)

	// Load returns the snapshot for id or ErrNotFound.
	Load(ctx context.Context, snapshotID string) (*Snapshot, error)

	// List returns all stored snapshots, newest first not guaranteed.
	List(ctx context.Context) ([]*Snapshot, error)

	// Delete removes a snapshot. Unknown ids return ErrNotFound.
	Delete(ctx context.Context, snapshotID string) error
}

// stamp fills in identity fields on first save.
func stamp(snap *Snapshot) {
	if snap.ID == "" {
		snap.ID = id.NewSnapshotID().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
}
