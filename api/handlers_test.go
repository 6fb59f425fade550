/*
handlers_test.go - HTTP tests for the case API

Runs the full router against the in-memory ledger store, the real
template registry and an emulated sender.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Planning-Inspectorate/appeals-back-office-sub015/appeal"
	memstore "github.com/Planning-Inspectorate/appeals-back-office-sub015/appeal/store"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/notify"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	handler *Handler
	router  http.Handler
	audit   *notify.MemoryAuditStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := notify.DefaultRegistry()
	require.NoError(t, err)
	sender, err := notify.NewEmulatedSender("", logger)
	require.NoError(t, err)
	audit := notify.NewMemoryAuditStore()
	dispatcher := notify.NewDispatcher(notify.NewCache(notify.DefaultTTL), reg, sender, audit, logger)

	ledger := appeal.NewLedger(memstore.NewTxMemory(), appeal.WithLogger(logger))
	lifecycle := appeal.NewLifecycle(ledger, dispatcher, logger)

	h := NewHandler(ledger, lifecycle, audit, logger)
	return &testServer{handler: h, router: NewRouter(h), audit: audit}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		buf = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createCase(t *testing.T) CaseDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/cases", CreateCaseRequest{
		Reference:      "APP/Q9999/D/21/1234567",
		AppellantEmail: "appellant@example.com",
		LPAEmail:       "lpa@example.com",
		SiteAddress:    "1 Main Street, Bristol",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[CaseDTO](t, rec)
}

func (s *testServer) transition(t *testing.T, id int64, statuses ...appeal.Status) {
	t.Helper()
	for _, st := range statuses {
		rec := s.do(t, http.MethodPost, casePath(id, "status-transition"), TransitionRequest{Status: string(st)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func casePath(id int64, suffix string) string {
	path := "/cases/" + appeal.CaseID(id).String()
	if suffix != "" {
		path += "/" + suffix
	}
	return path
}

// =============================================================================
// CASES
// =============================================================================

func TestCreateCase(t *testing.T) {
	s := newTestServer(t)

	created := s.createCase(t)

	assert.Equal(t, int64(1), created.ID)
	require.NotNil(t, created.Status)
	assert.Equal(t, string(appeal.StatusAssignCaseOfficer), created.Status.Status)
	assert.True(t, created.Status.Valid)

	rec := s.do(t, http.MethodGet, casePath(created.ID, ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[CaseDTO](t, rec)
	assert.Equal(t, created.Reference, got.Reference)
	assert.Equal(t, created.Status.ID, got.Status.ID)
}

func TestCreateCase_Validation(t *testing.T) {
	testCases := []struct {
		name   string
		body   any
		field  string
		detail string
	}{
		{name: "missing_reference", body: CreateCaseRequest{}, field: "reference", detail: "is required"},
		{name: "bad_email", body: CreateCaseRequest{Reference: "APP/1", LPAEmail: "not-an-email"}, field: "lpa_email", detail: "must be an email address"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.do(t, http.MethodPost, "/cases", tc.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, "Validation failed", resp.Error)
			assert.Equal(t, map[string]any{tc.field: tc.detail}, resp.Details)
		})
	}
}

func TestCreateCase_MalformedBody(t *testing.T) {
	rec := newTestServer(t).do(t, http.MethodPost, "/cases", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeBody[ErrorResponse](t, rec).Error)
}

func TestCreateCase_DuplicateReference(t *testing.T) {
	s := newTestServer(t)
	s.createCase(t)

	rec := s.do(t, http.MethodPost, "/cases", CreateCaseRequest{Reference: "APP/Q9999/D/21/1234567"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetCase_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/cases/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/cases/404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Appeal 404 not found", decodeBody[ErrorResponse](t, rec).Error)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestTransitionStatus(t *testing.T) {
	// GIVEN
	s := newTestServer(t)
	c := s.createCase(t)

	// WHEN
	rec := s.do(t, http.MethodPost, casePath(c.ID, "status-transition"), TransitionRequest{Status: "validation"}, ActorHeader, "officer-7")

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[StatusRecordDTO](t, rec)
	assert.Equal(t, "validation", got.Status)
	assert.True(t, got.Valid)

	history := decodeBody[StatusHistoryDTO](t, s.do(t, http.MethodGet, casePath(c.ID, "status-history"), nil))
	require.Len(t, history.History, 2)
	assert.False(t, history.History[0].Valid)
	assert.True(t, history.History[1].Valid)

	trail := decodeBody[[]AuditEntryDTO](t, s.do(t, http.MethodGet, casePath(c.ID, "audit-trail"), nil))
	require.Len(t, trail, 2)
	assert.Equal(t, "system", trail[0].Actor)
	assert.Equal(t, "officer-7", trail[1].Actor)
	assert.Equal(t, "Case progressed to validation", trail[1].Details)
}

func TestTransitionStatus_Errors(t *testing.T) {
	s := newTestServer(t)
	c := s.createCase(t)

	testCases := []struct {
		name     string
		path     string
		body     any
		expected int
	}{
		{name: "unknown_status", path: casePath(c.ID, "status-transition"), body: TransitionRequest{Status: "on_hold"}, expected: http.StatusBadRequest},
		{name: "missing_status", path: casePath(c.ID, "status-transition"), body: TransitionRequest{}, expected: http.StatusBadRequest},
		{name: "unknown_case", path: casePath(99, "status-transition"), body: TransitionRequest{Status: "validation"}, expected: http.StatusNotFound},
		{name: "bad_id", path: "/cases/-1/status-transition", body: TransitionRequest{Status: "validation"}, expected: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tc.path, tc.body)

			assert.Equal(t, tc.expected, rec.Code, rec.Body.String())
		})
	}

	history := decodeBody[StatusHistoryDTO](t, s.do(t, http.MethodGet, casePath(c.ID, "status-history"), nil))
	assert.Len(t, history.History, 1, "failed requests leave the ledger untouched")
}

// =============================================================================
// ROLLBACK
// =============================================================================

func TestRollbackStatus(t *testing.T) {
	// GIVEN: assign_case_officer -> validation -> ready_to_start -> lpa_questionnaire
	s := newTestServer(t)
	c := s.createCase(t)
	s.transition(t, c.ID, appeal.StatusValidation, appeal.StatusReadyToStart, appeal.StatusLPAQuestionnaire)

	// WHEN
	rec := s.do(t, http.MethodPost, casePath(c.ID, "status-rollback"), RollbackRequest{Status: "validation"}, ActorHeader, "officer-7")

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "validation", decodeBody[StatusRecordDTO](t, rec).Status)

	history := decodeBody[StatusHistoryDTO](t, s.do(t, http.MethodGet, casePath(c.ID, "status-history"), nil))
	require.Len(t, history.History, 2)
	assert.Equal(t, "validation", history.History[1].Status)
	assert.True(t, history.History[1].Valid)

	got := decodeBody[CaseDTO](t, s.do(t, http.MethodGet, casePath(c.ID, ""), nil))
	assert.Equal(t, "validation", got.Status.Status)
}

func TestRollbackStatus_Errors(t *testing.T) {
	s := newTestServer(t)
	c := s.createCase(t)
	s.transition(t, c.ID, appeal.StatusValidation)

	rec := s.do(t, http.MethodPost, casePath(c.ID, "status-rollback"), RollbackRequest{Status: "complete"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Appeal status complete not found for appeal 1", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, casePath(c.ID, "status-rollback"), RollbackRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, casePath(7, "status-rollback"), RollbackRequest{Status: "validation"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CREATED DATE
// =============================================================================

func TestGetStatusCreatedDate(t *testing.T) {
	s := newTestServer(t)
	c := s.createCase(t)
	s.transition(t, c.ID, appeal.StatusValidation)

	rec := s.do(t, http.MethodGet, casePath(c.ID, "status/complete/created-date"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, casePath(c.ID, "status/validation/created-date"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[StatusCreatedDateDTO](t, rec)
	require.NotNil(t, got.CreatedDate)

	history := decodeBody[StatusHistoryDTO](t, s.do(t, http.MethodGet, casePath(c.ID, "status-history"), nil))
	assert.True(t, history.History[1].CreatedAt.Equal(*got.CreatedDate))

	rec = s.do(t, http.MethodGet, casePath(404, "status/validation/created-date"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, casePath(c.ID, "status/nonsense/created-date"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitionStatus_Notify(t *testing.T) {
	// GIVEN
	s := newTestServer(t)
	c := s.createCase(t)
	s.transition(t, c.ID, appeal.StatusValidation)

	// WHEN
	rec := s.do(t, http.MethodPost, casePath(c.ID, "status-transition"), TransitionRequest{Status: "ready_to_start", Notify: true})

	// THEN: both parties hear about the new stage, the silent transition sent nothing
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	notes := decodeBody[[]NotificationDTO](t, s.do(t, http.MethodGet, casePath(c.ID, "notifications"), nil))
	require.Len(t, notes, 2)
	for _, n := range notes {
		assert.Equal(t, appeal.TemplateStatusChanged, n.Template)
		assert.Contains(t, n.Message, "is now at stage: ready_to_start")
	}
}

// =============================================================================
// LIFECYCLE EVENTS
// =============================================================================

func TestPublishDecision(t *testing.T) {
	s := newTestServer(t)
	c := s.createCase(t)

	// Not yet at issue_determination.
	rec := s.do(t, http.MethodPost, casePath(c.ID, "decision"), DecisionRequest{Outcome: "allowed"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	s.transition(t, c.ID, appeal.StatusIssueDetermination)
	rec = s.do(t, http.MethodPost, casePath(c.ID, "decision"), DecisionRequest{Outcome: "allowed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "complete", decodeBody[StatusRecordDTO](t, rec).Status)

	notes := decodeBody[[]NotificationDTO](t, s.do(t, http.MethodGet, casePath(c.ID, "notifications"), nil))
	require.Len(t, notes, 2)
	recipients := []string{notes[0].Recipient, notes[1].Recipient}
	assert.ElementsMatch(t, []string{"appellant@example.com", "lpa@example.com"}, recipients)
	for _, n := range notes {
		assert.Equal(t, appeal.TemplateDecisionPublished, n.Template)
		assert.Contains(t, n.Message, "Decision: allowed")
	}
}

func TestPublishDecision_MissingOutcome(t *testing.T) {
	s := newTestServer(t)
	c := s.createCase(t)

	rec := s.do(t, http.MethodPost, casePath(c.ID, "decision"), DecisionRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithdraw(t *testing.T) {
	s := newTestServer(t)
	c := s.createCase(t)

	rec := s.do(t, http.MethodPost, casePath(c.ID, "withdrawal"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "withdrawn", decodeBody[StatusRecordDTO](t, rec).Status)
	assert.Len(t, s.audit.All(), 2)

	// Already terminal.
	rec = s.do(t, http.MethodPost, casePath(c.ID, "withdrawal"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, s.audit.All(), 2)
}

// =============================================================================
// OPS
// =============================================================================

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.handler.Health = func(context.Context) error { return errors.New("database is locked") }
	rec = s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "database is locked", decodeBody[ErrorResponse](t, rec).Details)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	c := s.createCase(t)
	s.transition(t, c.ID, appeal.StatusValidation)

	rec := s.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "appeal_status_changes_total")
}
