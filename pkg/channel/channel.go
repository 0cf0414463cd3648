// Package channel wraps the push transport that delivers entity state
// batches. The Adapter owns one logical connection, memoizes in-flight
// connect attempts, reconnects on a fixed interval after transport failure,
// and delivers batches to a single handler strictly in arrival order.
package channel

import (
	"context"

	"github.com/germanamz/hearth/pkg/entity"
)

// Batch is one push delivery of entity states. Each element carries the
// full state object for its entity; a batch may cover anything from a
// single changed entity to the complete remote state set.
type Batch []entity.Entity

// Channel is one live connection to the push transport. Implementations
// close both channels when the connection dies; Disconnects carries the
// terminal error first when one is available.
type Channel interface {
	// Batches streams incoming state batches until the connection closes.
	Batches() <-chan Batch
	// Disconnects reports connection loss. A closed channel without a
	// value also means the connection is gone.
	Disconnects() <-chan error
	// Close tears the connection down. Idempotent.
	Close() error
}

// Dialer establishes one connection to the transport. Credentials travel
// inside the dialer's closure; the adapter never sees them.
type Dialer func(ctx context.Context) (Channel, error)

// Handler receives batches in arrival order. The adapter does not deliver
// the next batch until the handler returns.
type Handler func(Batch)

// State is the adapter's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
