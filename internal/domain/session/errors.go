package session

import (
	"errors"

	"github.com/enginegate/gateway/internal/state"
)

var (
	// ErrNotConnected is returned by operations that require a live engine
	// connection.
	ErrNotConnected = errors.New("session: not connected to engine")

	// ErrObjectNotFound is returned when a handle is not in the session's
	// object registry.
	ErrObjectNotFound = errors.New("session: object not found")

	// ErrSessionNotFound is returned by the manager for unknown session ids.
	ErrSessionNotFound = errors.New("session: session not found")

	// ErrCapacityExceeded is returned when the manager is at its configured
	// session limit.
	ErrCapacityExceeded = errors.New("session: capacity exceeded")

	// ErrStateNotFound is the store's not-found sentinel, re-exported so
	// callers of RestoreState need only this package.
	ErrStateNotFound = state.ErrNotFound
)
