package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	LocationsCreated     prometheus.Counter
	LocationsDeactivated prometheus.Counter
	LocationsReactivated prometheus.Counter
	CapacityChanges      prometheus.Counter

	ApprovalsRequested prometheus.Counter
	ApprovalsApproved  prometheus.Counter
	ApprovalsRejected  prometheus.Counter
	CertificatesIssued prometheus.Counter

	CascadeSize prometheus.Histogram

	EventPublishFailures prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		LocationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "locations_created_total",
			Help: "Total number of locations created",
		}),
		LocationsDeactivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "locations_deactivated_total",
			Help: "Total number of locations deactivated (including cascaded descendants)",
		}),
		LocationsReactivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "locations_reactivated_total",
			Help: "Total number of locations reactivated (including cascaded descendants)",
		}),
		CapacityChanges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "locations_capacity_changes_total",
			Help: "Total number of applied capacity changes",
		}),
		ApprovalsRequested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certification_approvals_requested_total",
			Help: "Total number of certification approval requests created",
		}),
		ApprovalsApproved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certification_approvals_approved_total",
			Help: "Total number of certification approval requests approved",
		}),
		ApprovalsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certification_approvals_rejected_total",
			Help: "Total number of certification approval requests rejected",
		}),
		CertificatesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cell_certificates_issued_total",
			Help: "Total number of cell certificates issued",
		}),
		CascadeSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "locations_cascade_size",
			Help:    "Number of locations touched by a single cascading operation",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		EventPublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "location_event_publish_failures_total",
			Help: "Total number of domain events that failed to publish",
		}),
	}
}
