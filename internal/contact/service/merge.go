package service

import (
	"context"

	"coalesce/internal/contact/models"
	pkgerrors "coalesce/pkg/domain-errors"
	"coalesce/pkg/requestcontext"
)

// merge collapses two or more identity groups into one. The primary with the
// earliest createdAt (ties broken by ascending id) survives; every other
// primary is demoted to secondary and re-pointed, along with its former
// secondaries, directly at the survivor so link depth stays one.
//
// The rewrites run inside one store transaction. Within it they are also
// ordered repoint-first, demote-last per root, so a store without snapshot
// isolation (the in-memory twin) never exposes a secondary that links to a
// contact which is itself secondary.
func (s *Service) merge(ctx context.Context, primaries []*models.Contact) (*models.Contact, error) {
	models.SortByCreation(primaries)
	surviving := primaries[0]
	demoted := primaries[1:]

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		for _, root := range demoted {
			if err := s.store.RepointSecondaries(ctx, root.ID, surviving.ID); err != nil {
				return err
			}
			if _, err := s.store.DemoteToSecondary(ctx, root.ID, surviving.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// A half-applied merge must never surface as a consolidated view.
		s.logger.ErrorContext(ctx, "identity merge failed",
			"surviving_id", surviving.ID,
			"demoted_count", len(demoted),
			"error", err.Error(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeMergeInconsistency, "identity merge aborted")
	}

	s.metrics.IncIdentityMerge()
	s.logger.InfoContext(ctx, "identity groups merged",
		"surviving_id", surviving.ID,
		"demoted_count", len(demoted),
		"request_id", requestcontext.RequestID(ctx),
	)
	return surviving, nil
}
