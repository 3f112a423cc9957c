package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Network state written after the gateway brings a network up.
	SaveNetworkState(state *NetworkState) error
	GetNetworkState() (*NetworkState, error)

	// Last published network diagnostics document.
	SaveDiagnostics(snap *DiagnosticsSnapshot) error
	GetDiagnostics() (*DiagnosticsSnapshot, error)

	Close() error
}
