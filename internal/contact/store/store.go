// Package store defines the persistence contract consumed by the
// consolidation engine. Implementations live in the memory and postgres
// sub-packages; both exclude soft-deleted rows from every read.
package store

import (
	"context"

	"coalesce/internal/contact/models"
)

// Store is the narrow CRUD contract the engine is built on. The engine makes
// no assumption about the storage technology beyond this interface.
//
// Error conventions: implementations wrap pkg/platform/sentinel errors.
// ErrConflict means a uniqueness constraint rejected a Create (a concurrent
// writer committed first), ErrNotFound a missing id, ErrUnavailable a
// connectivity failure.
type Store interface {
	// FindByValue returns non-deleted contacts whose email equals the
	// submitted email OR whose phone equals the submitted phone, ordered by
	// creation time ascending. Nil fields do not match anything; at least one
	// must be non-nil (enforced upstream). An empty result is valid and means
	// "unknown identity".
	FindByValue(ctx context.Context, email, phone *string) ([]*models.Contact, error)

	// FindExact returns the single non-deleted contact whose email and phone
	// both equal the submitted values, with nil matching only stored NULL.
	// A stored record carrying a superset of the submitted fields is not an
	// exact match. Returns (nil, nil) when no such record exists.
	FindExact(ctx context.Context, email, phone *string) (*models.Contact, error)

	// FindGroupMembers returns every non-deleted contact whose id or
	// LinkedID is in rootIDs, ordered by creation time ascending.
	FindGroupMembers(ctx context.Context, rootIDs []int64) ([]*models.Contact, error)

	// Create inserts a contact and returns it with store-assigned id and
	// timestamps. linkedID must be nil iff precedence is primary.
	Create(ctx context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error)

	// DemoteToSecondary flips the contact's precedence to secondary and
	// points its link at newLinkedID in one write.
	DemoteToSecondary(ctx context.Context, id, newLinkedID int64) (*models.Contact, error)

	// RepointSecondaries rewrites every contact linked to oldPrimaryID so it
	// links to newPrimaryID instead.
	RepointSecondaries(ctx context.Context, oldPrimaryID, newPrimaryID int64) error

	// RunInTx executes fn with transactional semantics: either every store
	// write made inside fn commits, or none do. Implementations without real
	// transactions may run fn directly; callers must then rely on write
	// ordering for reader-visible consistency.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Ping reports store health.
	Ping(ctx context.Context) error
}
