/*
lifecycle.go - Case lifecycle events

PURPOSE:
  Business events that move a case through the ledger and then notify
  the parties. Guards are defined here, not in the ledger.

EVENTS:
  PublishDecision: requires current status issue_determination,
                   transitions to complete, notifies appellant + LPA
  Withdraw:        rejected for terminal statuses, transitions to
                   withdrawn, notifies appellant + LPA
  Progress:        plain transition, optionally notifies appellant + LPA
                   of the new stage

  Guards run as ledger preconditions inside the transition's
  transaction, so two concurrent events cannot both pass them.

  Notifications are sent after the ledger commits, one Dispatch per
  recipient, in parallel. A notification failure is logged; the
  committed status change stands.
*/
package appeal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

const (
	TemplateDecisionPublished = "decision-published"
	TemplateAppealWithdrawn   = "appeal-withdrawn"
	TemplateStatusChanged     = "appeal-status-changed"
)

type Lifecycle struct {
	ledger   *Ledger
	notifier Notifier
	logger   *slog.Logger
}

func NewLifecycle(ledger *Ledger, notifier Notifier, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{ledger: ledger, notifier: notifier, logger: logger}
}

// PublishDecision records the decision outcome and completes the case.
func (lc *Lifecycle) PublishDecision(ctx context.Context, id CaseID, actor, outcome string) (StatusRecord, error) {
	if outcome == "" {
		return StatusRecord{}, &ValidationError{Field: "outcome", Message: "outcome is required"}
	}

	rec, err := lc.ledger.Transition(ctx, id, actor, StatusComplete,
		WithPrecondition(func(current *StatusRecord) error {
			if current == nil || current.Status != StatusIssueDetermination {
				return &ValidationError{Message: fmt.Sprintf("appeal %d is not in %s status", id, StatusIssueDetermination)}
			}
			return nil
		}),
	)
	if err != nil {
		return StatusRecord{}, err
	}

	lc.notifyParties(ctx, id, TemplateDecisionPublished, map[string]any{"decision_outcome": outcome})
	return rec, nil
}

// Withdraw ends a case at the appellant's request.
func (lc *Lifecycle) Withdraw(ctx context.Context, id CaseID, actor string) (StatusRecord, error) {
	rec, err := lc.ledger.Transition(ctx, id, actor, StatusWithdrawn,
		WithPrecondition(func(current *StatusRecord) error {
			if current != nil && current.Status.Terminal() {
				return &ValidationError{Message: fmt.Sprintf("appeal %d is already %s", id, current.Status)}
			}
			return nil
		}),
	)
	if err != nil {
		return StatusRecord{}, err
	}

	lc.notifyParties(ctx, id, TemplateAppealWithdrawn, nil)
	return rec, nil
}

// Progress moves the case to target and, when notify is set, tells
// appellant and LPA about the new stage.
func (lc *Lifecycle) Progress(ctx context.Context, id CaseID, actor string, target Status, notify bool) (StatusRecord, error) {
	rec, err := lc.ledger.Transition(ctx, id, actor, target)
	if err != nil {
		return StatusRecord{}, err
	}

	if notify {
		lc.notifyParties(ctx, id, TemplateStatusChanged, map[string]any{"status": string(target)})
	}
	return rec, nil
}

func (lc *Lifecycle) notifyParties(ctx context.Context, id CaseID, template string, extra map[string]any) {
	if lc.notifier == nil {
		return
	}

	c, err := lc.ledger.GetCase(ctx, id)
	if err != nil {
		lc.logger.Error("notification skipped: case lookup failed", "case_id", id, "template", template, "error", err)
		return
	}

	parties := []struct {
		role      string
		recipient string
	}{
		{"appellant", c.AppellantEmail},
		{"lpa", c.LPAEmail},
	}

	var g errgroup.Group
	errs := make([]error, len(parties))
	for i, p := range parties {
		i, p := i, p
		if p.recipient == "" {
			continue
		}
		personalisation := map[string]any{
			"appeal_reference": c.Reference,
			"site_address":     c.SiteAddress,
			"recipient_role":   p.role,
		}
		for k, v := range extra {
			personalisation[k] = v
		}
		g.Go(func() error {
			errs[i] = lc.notifier.Dispatch(ctx, template, p.recipient, personalisation)
			return nil
		})
	}
	g.Wait()

	if err := errors.Join(errs...); err != nil {
		lc.logger.Error("case notification failed", "case_id", id, "template", template, "error", err)
	}
}
