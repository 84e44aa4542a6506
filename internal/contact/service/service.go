// Package service implements the contact consolidation engine: given an
// (email, phone) observation it resolves which identity group the observation
// belongs to, merges groups a new observation proves to be the same person,
// records genuinely new information as a secondary contact, and builds the
// canonical consolidated view.
//
// The engine is stateless between calls; all state lives in the Store. One
// Identify call is a sequential pipeline of store reads and writes executed
// under the Locker's serialization point.
package service

import (
	"context"
	"errors"
	"log/slog"

	"coalesce/internal/contact/metrics"
	"coalesce/internal/contact/models"
	"coalesce/internal/contact/store"
	pkgerrors "coalesce/pkg/domain-errors"
	"coalesce/pkg/platform/sentinel"
	"coalesce/pkg/requestcontext"
)

// Service runs the identify pipeline.
type Service struct {
	store   store.Store
	locker  Locker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs the engine. Store and locker are required; metrics may be
// nil (tests).
func New(st store.Store, locker Locker, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	if st == nil {
		return nil, errors.New("contact store is required")
	}
	if locker == nil {
		return nil, errors.New("identity locker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, locker: locker, logger: logger, metrics: m}, nil
}

// Identify consolidates one observation and returns the canonical view of the
// identity it resolved to. The pipeline runs under a lock keyed by the
// submitted values; a store uniqueness conflict (a concurrent writer without
// a shared lock committed first) triggers exactly one full re-run, after
// which the concurrent writer's rows are visible to the match step.
func (s *Service) Identify(ctx context.Context, sub models.Submission) (*models.ConsolidatedContact, error) {
	if sub.Empty() {
		return nil, pkgerrors.New(pkgerrors.CodeBadRequest, "at least one of email or phoneNumber is required")
	}

	var view *models.ConsolidatedContact
	err := s.locker.WithLock(ctx, lockKeys(sub), func(ctx context.Context) error {
		v, err := s.identifyOnce(ctx, sub)
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncConflictRetry()
			s.logger.WarnContext(ctx, "store conflict during identify, re-running pipeline",
				"request_id", requestcontext.RequestID(ctx),
			)
			v, err = s.identifyOnce(ctx, sub)
		}
		view = v
		return err
	})
	if err != nil {
		return nil, s.translate(ctx, err)
	}
	return view, nil
}

// identifyOnce is one pass of the state machine:
// NoMatch → create primary; ExactMatch → view; SingleGroup → augment? → view;
// MultiGroup → merge → augment? → view.
func (s *Service) identifyOnce(ctx context.Context, sub models.Submission) (*models.ConsolidatedContact, error) {
	matches, err := s.store.FindByValue(ctx, sub.Email, sub.PhoneNumber)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		created, err := s.store.Create(ctx, sub.Email, sub.PhoneNumber, nil, models.PrecedencePrimary)
		if err != nil {
			return nil, err
		}
		s.metrics.IncContactCreated(string(models.PrecedencePrimary))
		s.logger.InfoContext(ctx, "new identity created",
			"contact_id", created.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return buildView(created, []*models.Contact{created})
	}

	// Fast path: an identical record needs no merge analysis and no writes.
	exact, err := s.store.FindExact(ctx, sub.Email, sub.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if exact != nil {
		members, err := s.store.FindGroupMembers(ctx, []int64{exact.RootID()})
		if err != nil {
			return nil, err
		}
		return viewOfGroup(members)
	}

	primary, members, err := s.resolveSingleGroup(ctx, matches)
	if err != nil {
		return nil, err
	}

	members, err = s.augmentIfNew(ctx, primary, members, sub)
	if err != nil {
		return nil, err
	}

	return buildView(primary, members)
}

// resolveSingleGroup maps the matched contacts to their distinct identity
// roots, merging when more than one group is implicated, and returns the
// (possibly just-promoted) primary with the group's full member set.
func (s *Service) resolveSingleGroup(ctx context.Context, matches []*models.Contact) (*models.Contact, []*models.Contact, error) {
	rootIDs := distinctRoots(matches)
	members, err := s.store.FindGroupMembers(ctx, rootIDs)
	if err != nil {
		return nil, nil, err
	}

	primaries := primariesOf(members)
	if len(primaries) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "identity group has no primary contact")
	}
	if len(primaries) == 1 {
		return primaries[0], members, nil
	}

	surviving, err := s.merge(ctx, primaries)
	if err != nil {
		return nil, nil, err
	}

	// Re-read: every former member now links to the surviving primary.
	members, err = s.store.FindGroupMembers(ctx, []int64{surviving.ID})
	if err != nil {
		return nil, nil, err
	}
	return surviving, members, nil
}

// augmentIfNew creates at most one secondary carrying the full submitted pair
// when the submission's email or phone is absent from the group's value union.
// Repeated identical submissions therefore never grow the group.
func (s *Service) augmentIfNew(ctx context.Context, primary *models.Contact, members []*models.Contact, sub models.Submission) ([]*models.Contact, error) {
	if !hasNewInformation(members, sub) {
		return members, nil
	}

	created, err := s.store.Create(ctx, sub.Email, sub.PhoneNumber, &primary.ID, models.PrecedenceSecondary)
	if err != nil {
		return nil, err
	}
	s.metrics.IncContactCreated(string(models.PrecedenceSecondary))
	s.logger.InfoContext(ctx, "secondary contact created",
		"contact_id", created.ID,
		"primary_id", primary.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return append(members, created), nil
}

// hasNewInformation reports whether the submission carries an email or phone
// not yet present in the member union.
func hasNewInformation(members []*models.Contact, sub models.Submission) bool {
	emails := make(map[string]struct{}, len(members))
	phones := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m.Email != nil {
			emails[*m.Email] = struct{}{}
		}
		if m.PhoneNumber != nil {
			phones[*m.PhoneNumber] = struct{}{}
		}
	}
	if sub.Email != nil {
		if _, ok := emails[*sub.Email]; !ok {
			return true
		}
	}
	if sub.PhoneNumber != nil {
		if _, ok := phones[*sub.PhoneNumber]; !ok {
			return true
		}
	}
	return false
}

// distinctRoots returns the identity roots of the matched contacts in
// first-seen order.
func distinctRoots(matches []*models.Contact) []int64 {
	seen := make(map[int64]struct{}, len(matches))
	roots := make([]int64, 0, len(matches))
	for _, m := range matches {
		root := m.RootID()
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}
	return roots
}

// primariesOf filters the primary contacts out of a member set.
func primariesOf(members []*models.Contact) []*models.Contact {
	var primaries []*models.Contact
	for _, m := range members {
		if m.IsPrimary() {
			primaries = append(primaries, m)
		}
	}
	return primaries
}

// lockKeys derives the serialization keys for a submission. Keys are
// namespaced per field so an email and a phone with the same text do not
// contend.
func lockKeys(sub models.Submission) []string {
	var keys []string
	if sub.Email != nil {
		keys = append(keys, "email:"+*sub.Email)
	}
	if sub.PhoneNumber != nil {
		keys = append(keys, "phone:"+*sub.PhoneNumber)
	}
	return keys
}

// translate maps infrastructure errors to domain errors at the service
// boundary. Domain errors pass through untouched.
func (s *Service) translate(ctx context.Context, err error) error {
	var de *pkgerrors.DomainError
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrUnavailable):
		return pkgerrors.Wrap(err, pkgerrors.CodeUnavailable, "contact store unavailable")
	case errors.Is(err, sentinel.ErrConflict):
		// Both the original run and the bounded retry lost the race.
		return pkgerrors.Wrap(err, pkgerrors.CodeConflict, "identify conflicted twice with concurrent writers")
	default:
		s.logger.ErrorContext(ctx, "identify failed",
			"error", err.Error(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "identify failed")
	}
}
