// Package store holds the persistence adapters behind the atome ledger.
// The same contract backs the embedded sqlite store, the networked
// postgres store, and the in-memory double used in tests.
package store

import (
	"context"

	"atome-store/internal/domain"
)

// Query filters a List call. Zero values mean "no filter".
type Query struct {
	Type           string
	OwnerID        string
	ParentID       string
	IncludeDeleted bool
	// IncludeShared widens the result beyond owned rows: the orchestrator
	// merges the secondary backend and folds in atomes shared with the
	// caller. Backends themselves ignore it.
	IncludeShared bool
	Limit         int
	Offset        int
}

// Adapter is the per-backend persistence contract for atomes.
type Adapter interface {
	// Name identifies the backend in logs and result envelopes.
	Name() string

	// Create inserts the atome and its particles. An existing id yields an
	// already_exists error.
	Create(ctx context.Context, atome *domain.Atome) error

	// Get loads one atome with its live particle projection. Tombstoned
	// atomes are not found unless includeDeleted is set.
	Get(ctx context.Context, id string, includeDeleted bool) (*domain.Atome, error)

	// List returns atomes matching the query, particles included.
	List(ctx context.Context, q Query) ([]domain.Atome, error)

	// Update shallow-merges patch into the particle set and appends one
	// ParticleVersion row per changed key.
	Update(ctx context.Context, id string, patch map[string]any, author string) (*domain.Atome, error)

	// SoftDelete tombstones the atome. Rows are retained for history.
	SoftDelete(ctx context.Context, id string) error

	// ReassignOwner moves every atome owned by oldOwner to newOwner and
	// returns the number of atomes moved.
	ReassignOwner(ctx context.Context, oldOwner, newOwner string) (int64, error)

	// Available probes the backend with a short timeout. It degrades to
	// false rather than blocking the caller.
	Available(ctx context.Context) bool

	// HasCredential reports whether the backend holds a verified credential
	// for the given identity.
	HasCredential(userID string) bool
}

// PermissionStore is the permission query surface of a backend.
type PermissionStore interface {
	// Grant upserts on the unique (atome_id, particle_key, principal_id)
	// scope. The stored row keeps the most recent grant.
	Grant(ctx context.Context, perm *domain.Permission) error

	// Revoke hard-deletes the permission row.
	Revoke(ctx context.Context, permissionID string) error

	Find(ctx context.Context, permissionID string) (*domain.Permission, error)

	// ForAtome returns unexpired grants on the atome.
	ForAtome(ctx context.Context, atomeID string) ([]domain.Permission, error)

	// ForPrincipal returns unexpired grants held by the principal.
	ForPrincipal(ctx context.Context, principalID string) ([]domain.Permission, error)

	CanRead(ctx context.Context, atomeID, principalID string) (bool, error)
	CanWrite(ctx context.Context, atomeID, principalID string) (bool, error)
	CanDelete(ctx context.Context, atomeID, principalID string) (bool, error)
	CanShare(ctx context.Context, atomeID, principalID string) (bool, error)
	CanCreate(ctx context.Context, atomeID, principalID string) (bool, error)
}

// Ledger combines atome persistence with the permission surface. The gorm
// and memory stores satisfy it.
type Ledger interface {
	Adapter
	PermissionStore
}
