package appeal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var statusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "appeal_status_changes_total",
	Help: "Committed case status changes by kind (transition, rollback).",
}, []string{"kind"})
