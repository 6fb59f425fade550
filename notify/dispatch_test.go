package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Planning-Inspectorate/appeals-back-office-sub015/notify"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/notify/mocks"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSender captures sends and can be told to fail.
type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) Send(_ context.Context, recipient, subject, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, recipient+"|"+subject)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	clock      *testClock
	cache      *notify.Cache
	sender     *recordingSender
	audit      *notify.MemoryAuditStore
	dispatcher *notify.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := notify.DefaultRegistry()
	require.NoError(t, err)

	f := &fixture{
		clock:  &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		sender: &recordingSender{},
		audit:  notify.NewMemoryAuditStore(),
	}
	f.cache = notify.NewCache(notify.DefaultTTL, notify.WithCacheClock(f.clock.Now))
	f.dispatcher = notify.NewDispatcher(f.cache, reg, f.sender, f.audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func withdrawn(reference string) notify.Personalisation {
	return notify.Personalisation{
		"appeal_reference": reference,
		"site_address":     "1 Main Street",
		"recipient_role":   "appellant",
	}
}

// =============================================================================
// DEDUPLICATION
// =============================================================================

func TestDispatch_RepeatWithinTTLIsSuppressed(t *testing.T) {
	// GIVEN
	ctx := context.Background()
	f := newFixture(t)
	p := withdrawn("APP/1")

	// WHEN: the same (template, recipient) is dispatched three times inside the window
	for i := 0; i < 3; i++ {
		require.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", p))
		f.clock.Advance(500 * time.Millisecond)
	}

	// THEN: exactly one send, one audit record, one cache entry
	assert.Equal(t, 1, f.sender.count())
	assert.Len(t, f.audit.All(), 1)
	assert.Equal(t, 1, f.cache.Len())
}

func TestDispatch_TTLExpiryAllowsSecondSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := withdrawn("APP/1")

	require.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", p))
	f.clock.Advance(notify.DefaultTTL)
	require.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", p))

	assert.Equal(t, 2, f.sender.count())
	records, err := f.audit.ListNotifications(ctx, "APP/1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestDispatch_DifferentRecipientOrTemplateNeverSuppressed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := withdrawn("APP/1")
	p["status"] = "withdrawn"

	require.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", p))
	require.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "y@example.com", p))
	require.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-status-changed", "x@example.com", p))

	assert.Equal(t, 3, f.sender.count())
	assert.Len(t, f.audit.All(), 3)
}

func TestDispatch_PersonalisationIsNotPartOfKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", withdrawn("APP/1")))
	require.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", withdrawn("APP/2")))

	assert.Equal(t, 1, f.sender.count())
}

func TestDispatchRequest_DiscriminatorNarrowsKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, ref := range []string{"APP/1", "APP/2"} {
		err := f.dispatcher.DispatchRequest(ctx, notify.Request{
			Template:        "appeal-withdrawn",
			Recipient:       "x@example.com",
			Discriminator:   ref,
			Personalisation: withdrawn(ref),
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 2, f.sender.count())
}

func TestDispatch_ConcurrentDuplicatesSendOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", withdrawn("APP/1")))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.sender.count())
	assert.Len(t, f.audit.All(), 1)
}

// =============================================================================
// FAILURES
// =============================================================================

func TestDispatch_Validation(t *testing.T) {
	testCases := []struct {
		name      string
		template  string
		recipient string
		p         notify.Personalisation
		expected  error
	}{
		{name: "missing_template", recipient: "x@example.com", p: withdrawn("APP/1"), expected: notify.ErrMissingTemplate},
		{name: "missing_recipient", template: "appeal-withdrawn", recipient: "  ", p: withdrawn("APP/1"), expected: notify.ErrMissingRecipient},
		{name: "nil_personalisation", template: "appeal-withdrawn", recipient: "x@example.com", expected: notify.ErrMissingCaseReference},
		{name: "empty_reference", template: "appeal-withdrawn", recipient: "x@example.com", p: withdrawn(""), expected: notify.ErrMissingCaseReference},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)

			err := f.dispatcher.Dispatch(context.Background(), tc.template, tc.recipient, tc.p)

			assert.ErrorIs(t, err, tc.expected)
			assert.ErrorIs(t, err, notify.ErrInvalidRequest)
			assert.Equal(t, 0, f.cache.Len(), "rejected requests take no reservation")
			assert.Equal(t, 0, f.sender.count())
		})
	}
}

func TestDispatch_RenderFailureKeepsReservation(t *testing.T) {
	// GIVEN: personalisation missing a template variable
	ctx := context.Background()
	f := newFixture(t)
	p := notify.Personalisation{"appeal_reference": "APP/1", "site_address": "1 Main Street"}

	// WHEN
	err := f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", p)

	// THEN: a located render error, nothing sent or recorded
	var rerr *notify.TemplateRenderError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, notify.ErrRender)
	assert.Equal(t, "appeal-withdrawn", rerr.Template)
	assert.Equal(t, "recipient_role", rerr.Field)
	assert.Positive(t, rerr.Line)
	assert.Equal(t, 0, f.sender.count())
	assert.Empty(t, f.audit.All())

	// AND: an immediate retry is suppressed, even with fixed personalisation
	require.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", withdrawn("APP/1")))
	assert.Equal(t, 0, f.sender.count())

	// AND: after the TTL the retry goes through
	f.clock.Advance(notify.DefaultTTL)
	require.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", withdrawn("APP/1")))
	assert.Equal(t, 1, f.sender.count())
}

func TestDispatch_UnknownTemplate(t *testing.T) {
	f := newFixture(t)

	err := f.dispatcher.Dispatch(context.Background(), "no-such-template", "x@example.com", withdrawn("APP/1"))

	assert.ErrorIs(t, err, notify.ErrTemplateNotFound)
	assert.ErrorIs(t, err, notify.ErrRender)
}

func TestDispatch_DeliveryFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sender.err = errors.New("provider unavailable")

	err := f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", withdrawn("APP/1"))

	var derr *notify.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, notify.ErrDelivery)
	assert.Equal(t, "x@example.com", derr.Recipient)
	assert.Empty(t, f.audit.All())

	// The reservation stands: a quick retry is suppressed without error.
	f.sender.err = nil
	require.NoError(t, f.dispatcher.Dispatch(ctx, "appeal-withdrawn", "x@example.com", withdrawn("APP/1")))
	assert.Equal(t, 0, f.sender.count())
}

// =============================================================================
// PIPELINE ORDER (mocked collaborators)
// =============================================================================

func TestDispatch_PipelineOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	renderer := mocks.NewMockRenderer(ctrl)
	sender := mocks.NewMockSender(ctrl)
	audit := mocks.NewMockAuditStore(ctrl)

	ctx := context.Background()
	d := notify.NewDispatcher(notify.NewCache(time.Minute), renderer, sender, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := withdrawn("APP/9")
	msg := notify.Message{Subject: "Appeal APP/9 has been withdrawn", Body: "body"}

	gomock.InOrder(
		renderer.EXPECT().Render("appeal-withdrawn", p).Return(msg, nil),
		sender.EXPECT().Send(gomock.Any(), "x@example.com", msg.Subject, msg.Body).Return(nil),
		audit.EXPECT().SaveNotification(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, rec notify.NotificationAuditRecord) error {
				assert.Equal(t, "APP/9", rec.CaseReference)
				assert.Equal(t, "appeal-withdrawn", rec.Template)
				assert.Equal(t, msg.Subject, rec.Subject)
				assert.Equal(t, "x@example.com", rec.Recipient)
				assert.Equal(t, msg.Body, rec.Message)
				assert.False(t, rec.SentAt.IsZero())
				return nil
			}),
	)

	require.NoError(t, d.Dispatch(ctx, "appeal-withdrawn", "x@example.com", p))

	// Suppressed: no collaborator is touched again.
	require.NoError(t, d.Dispatch(ctx, "appeal-withdrawn", "x@example.com", p))
}

func TestDispatch_AuditFailureIsReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	renderer := mocks.NewMockRenderer(ctrl)
	sender := mocks.NewMockSender(ctrl)
	audit := mocks.NewMockAuditStore(ctrl)

	d := notify.NewDispatcher(notify.NewCache(time.Minute), renderer, sender, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))

	renderer.EXPECT().Render(gomock.Any(), gomock.Any()).Return(notify.Message{Subject: "s", Body: "b"}, nil)
	sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	audit.EXPECT().SaveNotification(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	err := d.Dispatch(context.Background(), "appeal-withdrawn", "x@example.com", withdrawn("APP/1"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "record notification")
}

func TestDispatch_PlainRendererErrorIsWrapped(t *testing.T) {
	ctrl := gomock.NewController(t)
	renderer := mocks.NewMockRenderer(ctrl)

	d := notify.NewDispatcher(notify.NewCache(time.Minute), renderer, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	renderer.EXPECT().Render(gomock.Any(), gomock.Any()).Return(notify.Message{}, errors.New("engine exploded"))

	err := d.Dispatch(context.Background(), "appeal-withdrawn", "x@example.com", withdrawn("APP/1"))

	var rerr *notify.TemplateRenderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "appeal-withdrawn", rerr.Template)
}
