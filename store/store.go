// Package store provides checkpoint persistence for dialogue state.
//
// A checkpoint is the full dialogue state of one user, saved at every turn
// boundary and loaded at the start of the next turn. Backends range from an
// in-memory map for tests to SQLite and MySQL for real deployments; all
// satisfy the same contract.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no checkpoint exists for the key.
var ErrNotFound = errors.New("not found")

// Store persists one state value per user key.
//
// Save must be atomic per key: a concurrent Load observes either the
// previous or the new checkpoint, never a mix. The runtime serializes turns
// per user, so implementations need no cross-turn ordering beyond that.
//
// Type parameter S is the state type to persist; it must round-trip
// losslessly through JSON.
type Store[S any] interface {
	// Load retrieves the checkpoint for the key.
	// Returns ErrNotFound when the key has never been saved or was deleted.
	Load(ctx context.Context, key string) (S, error)

	// Save persists the checkpoint for the key, replacing any previous one.
	Save(ctx context.Context, key string, state S) error

	// Delete removes the checkpoint for the key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error
}
