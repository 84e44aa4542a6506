package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"coalesce/internal/contact/models"
	"coalesce/internal/contact/store"
	"coalesce/internal/contact/store/memory"
	pkgerrors "coalesce/pkg/domain-errors"
	"coalesce/pkg/platform/sentinel"
)

type IdentifySuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.InMemory
	service *Service
	now     time.Time
}

func TestIdentifySuite(t *testing.T) {
	suite.Run(t, new(IdentifySuite))
}

func (s *IdentifySuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store = memory.NewInMemory(memory.WithClock(func() time.Time {
		s.now = s.now.Add(time.Second)
		return s.now
	}))
	s.service = s.newService(s.store)
}

func (s *IdentifySuite) newService(st store.Store) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := New(st, NewShardedLocker(), logger, nil)
	s.Require().NoError(err)
	return svc
}

func ptr(v string) *string { return &v }

func sub(email, phone string) models.Submission {
	var out models.Submission
	if email != "" {
		out.Email = &email
	}
	if phone != "" {
		out.PhoneNumber = &phone
	}
	return out
}

func (s *IdentifySuite) identify(email, phone string) *models.ConsolidatedContact {
	view, err := s.service.Identify(s.ctx, sub(email, phone))
	s.Require().NoError(err)
	s.Require().NotNil(view)
	return view
}

// assertDepthInvariant verifies no secondary links to another secondary.
func (s *IdentifySuite) assertDepthInvariant() {
	for id := int64(1); ; id++ {
		c, ok := s.store.Get(id)
		if !ok {
			return
		}
		if c.LinkedID == nil {
			s.Equal(models.PrecedencePrimary, c.LinkPrecedence)
			continue
		}
		target, ok := s.store.Get(*c.LinkedID)
		s.Require().True(ok, "contact %d links to missing contact %d", c.ID, *c.LinkedID)
		s.Equal(models.PrecedencePrimary, target.LinkPrecedence,
			"contact %d links to non-primary %d", c.ID, target.ID)
	}
}

func (s *IdentifySuite) TestNewIdentity() {
	view := s.identify("a@x.com", "")

	s.Equal([]string{"a@x.com"}, view.Emails)
	s.Empty(view.PhoneNumbers)
	s.Empty(view.SecondaryContactIDs)
	s.Equal(1, s.store.Len())

	created, ok := s.store.Get(view.PrimaryContactID)
	s.Require().True(ok)
	s.True(created.IsPrimary())
	s.Nil(created.LinkedID)
}

func (s *IdentifySuite) TestExactMatchIdempotence() {
	first := s.identify("a@x.com", "111")
	second := s.identify("a@x.com", "111")

	s.Equal(first.PrimaryContactID, second.PrimaryContactID)
	s.Equal(1, s.store.Len(), "repeat submission must not create rows")
}

func (s *IdentifySuite) TestNewInformationSameIdentity() {
	first := s.identify("a@x.com", "111")
	view := s.identify("a@x.com", "222")

	s.Equal(first.PrimaryContactID, view.PrimaryContactID)
	s.Equal([]string{"a@x.com"}, view.Emails)
	s.Equal([]string{"111", "222"}, view.PhoneNumbers)
	s.Require().Len(view.SecondaryContactIDs, 1)
	s.Equal(2, s.store.Len())

	// The secondary carries the full submitted pair, not only the new field.
	secondary, ok := s.store.Get(view.SecondaryContactIDs[0])
	s.Require().True(ok)
	s.Equal("a@x.com", secondary.EmailValue())
	s.Equal("222", secondary.PhoneValue())
	s.Equal(first.PrimaryContactID, *secondary.LinkedID)
}

func (s *IdentifySuite) TestNoNewInformation() {
	primary := s.identify("a@x.com", "111")
	_, err := s.store.Create(s.ctx, nil, ptr("111"), &primary.PrimaryContactID, models.PrecedenceSecondary)
	s.Require().NoError(err)

	view := s.identify("a@x.com", "")

	s.Equal(primary.PrimaryContactID, view.PrimaryContactID)
	s.Equal(2, s.store.Len(), "known values must not create rows")
}

func (s *IdentifySuite) TestGroupMerge() {
	p1 := s.identify("a@x.com", "111")
	p2 := s.identify("b@x.com", "222")
	p2sec := s.identify("b2@x.com", "222") // secondary under P2
	s.Require().Len(p2sec.SecondaryContactIDs, 1)

	view := s.identify("a@x.com", "222")

	s.Run("oldest primary survives", func() {
		s.Equal(p1.PrimaryContactID, view.PrimaryContactID)
	})

	s.Run("younger primary demoted and linked to survivor", func() {
		demoted, ok := s.store.Get(p2.PrimaryContactID)
		s.Require().True(ok)
		s.Equal(models.PrecedenceSecondary, demoted.LinkPrecedence)
		s.Equal(p1.PrimaryContactID, *demoted.LinkedID)
	})

	s.Run("pre-existing secondaries re-pointed at survivor", func() {
		repointed, ok := s.store.Get(p2sec.SecondaryContactIDs[0])
		s.Require().True(ok)
		s.Equal(p1.PrimaryContactID, *repointed.LinkedID)
	})

	s.Run("no new secondary for already-known values", func() {
		s.Equal(3, s.store.Len())
	})

	s.Run("view unions values, primary's first", func() {
		s.Equal([]string{"a@x.com", "b@x.com", "b2@x.com"}, view.Emails)
		s.Equal([]string{"111", "222"}, view.PhoneNumbers)
		s.Len(view.SecondaryContactIDs, 2)
	})

	s.Run("lookups by either value resolve to the survivor", func() {
		s.Equal(p1.PrimaryContactID, s.identify("b2@x.com", "").PrimaryContactID)
		s.Equal(p1.PrimaryContactID, s.identify("", "222").PrimaryContactID)
	})

	s.assertDepthInvariant()
}

func (s *IdentifySuite) TestMergeAcrossChainedValues() {
	p1 := s.identify("a@x.com", "111")
	p2 := s.identify("b@x.com", "222")
	s.identify("a@x.com", "333") // secondary under P1

	// Matches P2 by email and P1's secondary by phone: two distinct roots.
	view := s.identify("b@x.com", "333")

	s.Equal(p1.PrimaryContactID, view.PrimaryContactID)
	demoted, ok := s.store.Get(p2.PrimaryContactID)
	s.Require().True(ok)
	s.Equal(models.PrecedenceSecondary, demoted.LinkPrecedence)
	s.Equal(p1.PrimaryContactID, *demoted.LinkedID)
	s.assertDepthInvariant()
}

func (s *IdentifySuite) TestMergeTieBreakByID() {
	// A constant clock gives both primaries identical createdAt.
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := memory.NewInMemory(memory.WithClock(func() time.Time { return fixed }))
	svc := s.newService(st)

	a, err := svc.Identify(s.ctx, sub("a@x.com", "111"))
	s.Require().NoError(err)
	b, err := svc.Identify(s.ctx, sub("b@x.com", "222"))
	s.Require().NoError(err)
	s.Require().Less(a.PrimaryContactID, b.PrimaryContactID)

	view, err := svc.Identify(s.ctx, sub("a@x.com", "222"))
	s.Require().NoError(err)
	s.Equal(a.PrimaryContactID, view.PrimaryContactID, "equal createdAt breaks ties by ascending id")
}

func (s *IdentifySuite) TestSecondaryMatchResolvesRoot() {
	p1 := s.identify("a@x.com", "111")
	s.identify("a@x.com", "222")

	view := s.identify("", "222")
	s.Equal(p1.PrimaryContactID, view.PrimaryContactID)
}

func (s *IdentifySuite) TestDeterministicView() {
	s.identify("a@x.com", "111")
	s.identify("a@x.com", "222")
	s.identify("b@x.com", "111")

	first, err := json.Marshal(s.identify("a@x.com", ""))
	s.Require().NoError(err)
	second, err := json.Marshal(s.identify("a@x.com", ""))
	s.Require().NoError(err)
	s.Equal(string(first), string(second))
}

func (s *IdentifySuite) TestEmptySubmissionRejected() {
	_, err := s.service.Identify(s.ctx, models.Submission{})
	s.Require().Error(err)
	s.True(pkgerrors.Is(err, pkgerrors.CodeBadRequest))
}

// flakyStore fails a configured number of Create calls before delegating,
// simulating a concurrent writer winning the unique index race.
type flakyStore struct {
	store.Store
	createFailures int
}

func (f *flakyStore) Create(ctx context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error) {
	if f.createFailures > 0 {
		f.createFailures--
		return nil, sentinel.ErrConflict
	}
	return f.Store.Create(ctx, email, phone, linkedID, precedence)
}

func (s *IdentifySuite) TestConflictRetriesOnce() {
	svc := s.newService(&flakyStore{Store: s.store, createFailures: 1})

	view, err := svc.Identify(s.ctx, sub("a@x.com", "111"))
	s.Require().NoError(err)
	s.Equal([]string{"a@x.com"}, view.Emails)
	s.Equal(1, s.store.Len())
}

func (s *IdentifySuite) TestConflictTwiceFails() {
	svc := s.newService(&flakyStore{Store: s.store, createFailures: 2})

	_, err := svc.Identify(s.ctx, sub("a@x.com", "111"))
	s.Require().Error(err)
	s.True(pkgerrors.Is(err, pkgerrors.CodeConflict))
}

// brokenMergeStore fails demotions to exercise the merge failure path.
type brokenMergeStore struct {
	store.Store
}

func (b *brokenMergeStore) DemoteToSecondary(context.Context, int64, int64) (*models.Contact, error) {
	return nil, sentinel.ErrUnavailable
}

func (s *IdentifySuite) TestMergeFailureIsFatal() {
	s.identify("a@x.com", "111")
	s.identify("b@x.com", "222")

	svc := s.newService(&brokenMergeStore{Store: s.store})
	_, err := svc.Identify(s.ctx, sub("a@x.com", "222"))
	s.Require().Error(err)
	s.True(pkgerrors.Is(err, pkgerrors.CodeMergeInconsistency),
		"a partially-applied merge must never surface as a view")
}

func (s *IdentifySuite) TestStoreUnavailable() {
	svc := s.newService(&brokenReadStore{Store: s.store})
	_, err := svc.Identify(s.ctx, sub("a@x.com", ""))
	s.Require().Error(err)
	s.True(pkgerrors.Is(err, pkgerrors.CodeUnavailable))
}

type brokenReadStore struct {
	store.Store
}

func (b *brokenReadStore) FindByValue(context.Context, *string, *string) ([]*models.Contact, error) {
	return nil, sentinel.ErrUnavailable
}
