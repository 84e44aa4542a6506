package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"coalesce/internal/contact/handler/mocks"
	"coalesce/internal/contact/models"
	pkgerrors "coalesce/pkg/domain-errors"
	"coalesce/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/contact-mocks.go -package=mocks Service

type ContactHandlerSuite struct {
	suite.Suite
}

func TestContactHandlerSuite(t *testing.T) {
	suite.Run(t, new(ContactHandlerSuite))
}

func newTestRouter(t *testing.T) (chi.Router, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := New(mockService, logger, nil)
	r := chi.NewRouter()
	h.Register(r)
	return r, mockService
}

func ptr(v string) *string { return &v }

func (s *ContactHandlerSuite) TestIdentifySuccess() {
	router, mockService := newTestRouter(s.T())

	mockService.EXPECT().
		Identify(gomock.Any(), models.Submission{Email: ptr("a@x.com"), PhoneNumber: ptr("1234567890")}).
		Return(&models.ConsolidatedContact{
			PrimaryContactID:    1,
			Emails:              []string{"a@x.com"},
			PhoneNumbers:        []string{"1234567890"},
			SecondaryContactIDs: []int64{},
		}, nil)

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/identify", map[string]any{
		"email":       "a@x.com",
		"phoneNumber": "1234567890",
	})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[IdentifyResponse](s.T(), rr)
	s.Equal(int64(1), resp.Contact.PrimaryContactID)
	s.Equal([]string{"a@x.com"}, resp.Contact.Emails)
}

func (s *ContactHandlerSuite) TestIdentifyNormalizesInput() {
	router, mockService := newTestRouter(s.T())

	// Email is lowercased and trimmed; numeric phone becomes its digit string.
	mockService.EXPECT().
		Identify(gomock.Any(), models.Submission{Email: ptr("a@x.com"), PhoneNumber: ptr("123456")}).
		Return(&models.ConsolidatedContact{PrimaryContactID: 7}, nil)

	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/identify",
		`{"email":"  A@X.com ","phoneNumber":123456}`)
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
}

func (s *ContactHandlerSuite) TestIdentifyValidation() {
	cases := []struct {
		name string
		body string
	}{
		{"neither field", `{}`},
		{"empty strings", `{"email":"","phoneNumber":""}`},
		{"explicit nulls", `{"email":null,"phoneNumber":null}`},
		{"bad email", `{"email":"not-an-email"}`},
		{"phone with letters", `{"phoneNumber":"12345abcde"}`},
		{"phone too short", `{"phoneNumber":"123"}`},
		{"malformed json", `{"email":`},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			router, _ := newTestRouter(s.T())
			req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/identify", tc.body)
			rr := testutil.DoRequest(router, req)

			testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
			testutil.AssertErrorCode(s.T(), rr, "bad_request")
		})
	}
}

func (s *ContactHandlerSuite) TestIdentifyStoreUnavailable() {
	router, mockService := newTestRouter(s.T())

	mockService.EXPECT().
		Identify(gomock.Any(), gomock.Any()).
		Return(nil, pkgerrors.New(pkgerrors.CodeUnavailable, "contact store unavailable"))

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/identify", map[string]any{"email": "a@x.com"})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
	testutil.AssertErrorCode(s.T(), rr, "unavailable")
}

func (s *ContactHandlerSuite) TestIdentifyMergeFailure() {
	router, mockService := newTestRouter(s.T())

	mockService.EXPECT().
		Identify(gomock.Any(), gomock.Any()).
		Return(nil, pkgerrors.New(pkgerrors.CodeMergeInconsistency, "identity merge aborted"))

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/identify", map[string]any{"email": "a@x.com"})
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
	testutil.AssertErrorCode(s.T(), rr, "merge_inconsistency")
}

func (s *ContactHandlerSuite) TestIdentifyRejectsNonJSONContentType() {
	router, _ := newTestRouter(s.T())

	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/identify", `email=a@x.com`)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(s.T(), rr, http.StatusUnsupportedMediaType)
}

func (s *ContactHandlerSuite) TestIdentifyMethodNotAllowed() {
	router, _ := newTestRouter(s.T())

	req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/identify", nil)
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(s.T(), rr, http.StatusMethodNotAllowed)
}
