package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSent           = "sent"
	outcomeSuppressed     = "suppressed"
	outcomeInvalid        = "invalid"
	outcomeRenderFailed   = "render_failed"
	outcomeDeliveryFailed = "delivery_failed"
	outcomeAuditFailed    = "audit_failed"
)

var notifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "case_notifications_total",
	Help: "Case notification dispatch attempts by template and outcome.",
}, []string{"template", "outcome"})
