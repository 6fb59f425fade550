package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request is one notification to one recipient.
type Request struct {
	Template        string
	Recipient       string
	Discriminator   string // optional, narrows the dedup key
	Personalisation Personalisation
}

// Dispatcher renders, sends and records notifications, suppressing repeats
// through the Cache. It is safe for concurrent use.
type Dispatcher struct {
	cache    *Cache
	renderer Renderer
	sender   Sender
	audit    AuditStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewDispatcher(cache *Cache, renderer Renderer, sender Sender, audit AuditStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cache:    cache,
		renderer: renderer,
		sender:   sender,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch sends template to recipient. A repeat within the cache TTL
// returns nil without rendering or sending.
func (d *Dispatcher) Dispatch(ctx context.Context, template, recipient string, p Personalisation) error {
	return d.DispatchRequest(ctx, Request{Template: template, Recipient: recipient, Personalisation: p})
}

func (d *Dispatcher) DispatchRequest(ctx context.Context, req Request) error {
	reference, err := validate(req)
	if err != nil {
		notifications.WithLabelValues(req.Template, outcomeInvalid).Inc()
		return err
	}

	key := Key{Template: req.Template, Recipient: req.Recipient, Discriminator: req.Discriminator}
	if d.cache.Reserve(key) {
		notifications.WithLabelValues(req.Template, outcomeSuppressed).Inc()
		d.logger.DebugContext(ctx, "duplicate notification suppressed",
			"template", req.Template, "recipient", req.Recipient, "case_reference", reference)
		return nil
	}

	msg, err := d.renderer.Render(req.Template, req.Personalisation)
	if err != nil {
		var rerr *TemplateRenderError
		if !errors.As(err, &rerr) {
			rerr = &TemplateRenderError{Template: req.Template, Err: err}
		}
		notifications.WithLabelValues(req.Template, outcomeRenderFailed).Inc()
		d.logger.ErrorContext(ctx, "notification render failed",
			"template", rerr.Template, "line", rerr.Line, "column", rerr.Column, "field", rerr.Field,
			"case_reference", reference, "error", rerr.Err)
		return rerr
	}

	if err := d.sender.Send(ctx, req.Recipient, msg.Subject, msg.Body); err != nil {
		notifications.WithLabelValues(req.Template, outcomeDeliveryFailed).Inc()
		d.logger.ErrorContext(ctx, "notification delivery failed",
			"template", req.Template, "recipient", req.Recipient, "case_reference", reference, "error", err)
		return &DeliveryError{Template: req.Template, Recipient: req.Recipient, Err: err}
	}

	record := NotificationAuditRecord{
		ID:            uuid.NewString(),
		CaseReference: reference,
		Template:      req.Template,
		Subject:       msg.Subject,
		Recipient:     req.Recipient,
		Message:       msg.Body,
		SentAt:        d.now().UTC(),
	}
	if err := d.audit.SaveNotification(ctx, record); err != nil {
		notifications.WithLabelValues(req.Template, outcomeAuditFailed).Inc()
		d.logger.ErrorContext(ctx, "notification sent but not recorded",
			"template", req.Template, "recipient", req.Recipient, "case_reference", reference, "error", err)
		return fmt.Errorf("record notification: %w", err)
	}

	notifications.WithLabelValues(req.Template, outcomeSent).Inc()
	d.logger.InfoContext(ctx, "notification sent",
		"template", req.Template, "recipient", req.Recipient, "case_reference", reference)
	return nil
}

// validate checks the request and returns the case reference.
func validate(req Request) (string, error) {
	if strings.TrimSpace(req.Template) == "" {
		return "", ErrMissingTemplate
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return "", ErrMissingRecipient
	}
	raw, ok := req.Personalisation[CaseReferenceField]
	if !ok || raw == nil {
		return "", ErrMissingCaseReference
	}
	reference := strings.TrimSpace(fmt.Sprint(raw))
	if reference == "" {
		return "", ErrMissingCaseReference
	}
	return reference, nil
}
