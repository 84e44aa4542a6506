// Package memory provides an in-memory contact store for unit tests and
// DATABASE_URL-less local runs. It mirrors the postgres store's behavior,
// including the uniqueness constraint on the live (email, phone) pair.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coalesce/internal/contact/models"
	"coalesce/pkg/platform/sentinel"
)

// Clock abstracts time.Now for deterministic creation timestamps in tests.
type Clock func() time.Time

// InMemory is a mutex-guarded map store.
type InMemory struct {
	mu       sync.RWMutex
	contacts map[int64]*models.Contact
	nextID   int64
	clock    Clock
}

// Option configures an InMemory store.
type Option func(*InMemory)

// WithClock sets the clock function for testability.
func WithClock(clock Clock) Option {
	return func(s *InMemory) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewInMemory constructs an empty store.
func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{
		contacts: make(map[int64]*models.Contact),
		nextID:   1,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *InMemory) FindByValue(_ context.Context, email, phone *string) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if (email != nil && c.Email != nil && *c.Email == *email) ||
			(phone != nil && c.PhoneNumber != nil && *c.PhoneNumber == *phone) {
			matched = append(matched, clone(c))
		}
	}
	models.SortByCreation(matched)
	return matched, nil
}

func (s *InMemory) FindExact(_ context.Context, email, phone *string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c := s.findExactLocked(email, phone); c != nil {
		return clone(c), nil
	}
	return nil, nil
}

// findExactLocked matches both fields with NULL equal to NULL only, the
// in-memory analogue of IS NOT DISTINCT FROM.
func (s *InMemory) findExactLocked(email, phone *string) *models.Contact {
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if equalOptional(c.Email, email) && equalOptional(c.PhoneNumber, phone) {
			return c
		}
	}
	return nil
}

func (s *InMemory) FindGroupMembers(_ context.Context, rootIDs []int64) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roots := make(map[int64]struct{}, len(rootIDs))
	for _, id := range rootIDs {
		roots[id] = struct{}{}
	}

	var members []*models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if _, ok := roots[c.ID]; ok {
			members = append(members, clone(c))
			continue
		}
		if c.LinkedID != nil {
			if _, ok := roots[*c.LinkedID]; ok {
				members = append(members, clone(c))
			}
		}
	}
	models.SortByCreation(members)
	return members, nil
}

func (s *InMemory) Create(_ context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findExactLocked(email, phone); existing != nil {
		return nil, fmt.Errorf("contact with identical values exists: %w", sentinel.ErrConflict)
	}

	now := s.clock()
	c := &models.Contact{
		ID:             s.nextID,
		Email:          copyOptional(email),
		PhoneNumber:    copyOptional(phone),
		LinkedID:       copyID(linkedID),
		LinkPrecedence: precedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.nextID++
	s.contacts[c.ID] = c
	return clone(c), nil
}

func (s *InMemory) DemoteToSecondary(_ context.Context, id, newLinkedID int64) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok || c.DeletedAt != nil {
		return nil, fmt.Errorf("contact %d: %w", id, sentinel.ErrNotFound)
	}
	c.LinkPrecedence = models.PrecedenceSecondary
	c.LinkedID = &newLinkedID
	c.UpdatedAt = s.clock()
	return clone(c), nil
}

func (s *InMemory) RepointSecondaries(_ context.Context, oldPrimaryID, newPrimaryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for _, c := range s.contacts {
		if c.DeletedAt != nil || c.LinkedID == nil || *c.LinkedID != oldPrimaryID {
			continue
		}
		linked := newPrimaryID
		c.LinkedID = &linked
		c.UpdatedAt = now
	}
	return nil
}

// RunInTx has no rollback; callers rely on the engine's repoint-before-demote
// write ordering so concurrent readers never observe a secondary chain.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *InMemory) Ping(context.Context) error { return nil }

// Len reports the number of live rows. Test helper.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.contacts {
		if c.DeletedAt == nil {
			n++
		}
	}
	return n
}

// Get returns a copy of the contact by id. Test helper.
func (s *InMemory) Get(id int64) (*models.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, false
	}
	return clone(c), true
}

// SoftDelete marks a contact deleted. Test helper; the engine never deletes.
func (s *InMemory) SoftDelete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contacts[id]; ok {
		now := s.clock()
		c.DeletedAt = &now
	}
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyOptional(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func copyID(v *int64) *int64 {
	if v == nil {
		return nil
	}
	id := *v
	return &id
}

func clone(c *models.Contact) *models.Contact {
	out := *c
	out.Email = copyOptional(c.Email)
	out.PhoneNumber = copyOptional(c.PhoneNumber)
	out.LinkedID = copyID(c.LinkedID)
	if c.DeletedAt != nil {
		t := *c.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}
