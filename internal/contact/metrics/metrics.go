// Package metrics exposes Prometheus instrumentation for the consolidation
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's counters. A nil *Metrics is a no-op so unit
// tests can run the service without a registry.
type Metrics struct {
	ContactsCreated *prometheus.CounterVec
	IdentityMerges  prometheus.Counter
	ConflictRetries prometheus.Counter
}

// New registers the engine metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		ContactsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coalesce_contacts_created_total",
			Help: "Contacts created, partitioned by link precedence.",
		}, []string{"precedence"}),
		IdentityMerges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coalesce_identity_merges_total",
			Help: "Identity groups merged because a submission linked them.",
		}),
		ConflictRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coalesce_identify_conflict_retries_total",
			Help: "Identify pipelines re-run after a store uniqueness conflict.",
		}),
	}
}

// IncContactCreated records a contact creation with its precedence.
func (m *Metrics) IncContactCreated(precedence string) {
	if m == nil {
		return
	}
	m.ContactsCreated.WithLabelValues(precedence).Inc()
}

// IncIdentityMerge records one multi-group merge.
func (m *Metrics) IncIdentityMerge() {
	if m == nil {
		return
	}
	m.IdentityMerges.Inc()
}

// IncConflictRetry records one bounded pipeline retry.
func (m *Metrics) IncConflictRetry() {
	if m == nil {
		return
	}
	m.ConflictRetries.Inc()
}
