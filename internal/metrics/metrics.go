// Package metrics holds the Prometheus collectors of the ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	InstallmentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_installment_transitions_total",
		Help: "Installment status changes, labeled by from/to status and result",
	}, []string{"from", "to", "result"})

	PlansCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_installment_plans_total",
		Help: "Installment plan creation attempts, labeled by outcome (created|existing)",
	}, []string{"outcome"})

	SettlementsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_settlements_total",
		Help: "Settlement recording attempts, labeled by outcome (created|existing|rejected)",
	}, []string{"outcome"})

	PaymentCodesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_payment_codes_total",
		Help: "Payment code requests, labeled by outcome (issued|cached|error)",
	}, []string{"outcome"})

	JobItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_job_items_total",
		Help: "Items handled by repair and batch jobs, labeled by job and result",
	}, []string{"job", "result"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_job_duration_seconds",
		Help:    "Wall time of repair and batch job runs",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"job"})
)
