/*
Package notify sends case notification emails with best-effort
deduplication.

PURPOSE:
  Every outbound notification goes through the Dispatcher:
    1. Reserve (template, recipient[, discriminator]) in the Cache;
       already reserved -> return quietly, nothing rendered or sent
    2. Render subject and body from the template and personalisation
    3. Send through the configured Sender (emulated or provider)
    4. Persist a NotificationAuditRecord

  A render or send failure is returned to the caller but the reservation
  from step 1 stands until the TTL elapses, so rapid retries of a failing
  notification are suppressed too.

NOT A DELIVERY GUARANTEE:
  The cache is process-local and short-lived. It stops double submits
  within one process; it is not exactly-once delivery.

SEE ALSO:
  - cache.go: Reservation map and TTL
  - dispatch.go: The pipeline
  - templates.go: YAML template catalogue and renderer
*/
package notify

import (
	"context"
	"time"
)

// CaseReferenceField is the personalisation key every notification must carry.
const CaseReferenceField = "appeal_reference"

// Personalisation holds the template variables of one notification.
type Personalisation = map[string]any

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

// NotificationAuditRecord is written once per rendered and sent notification.
// Suppressed dispatches never produce one.
type NotificationAuditRecord struct {
	ID            string
	CaseReference string
	Template      string
	Subject       string
	Recipient     string
	Message       string
	SentAt        time.Time
}

// =============================================================================
// COLLABORATORS
// =============================================================================

type Renderer interface {
	Render(template string, p Personalisation) (Message, error)
}

type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

type AuditStore interface {
	SaveNotification(ctx context.Context, rec NotificationAuditRecord) error
	ListNotifications(ctx context.Context, caseReference string) ([]NotificationAuditRecord, error)
}
