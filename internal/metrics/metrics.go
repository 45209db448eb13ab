// Package metrics exposes Prometheus instrumentation for Cardhaven.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Allocation outcome label values.
const (
	ResultSuccess  = "success"
	ResultNoStock  = "no_stock"
	ResultCrypto   = "crypto_error"
	ResultDelivery = "delivery_error"
	ResultInvalid  = "invalid_request"
	ResultError    = "error"
)

var (
	// Allocations counts allocation attempts by outcome.
	Allocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardhaven_allocations_total",
		Help: "Code allocation attempts by outcome.",
	}, []string{"result"})

	// AllocationDuration observes end-to-end allocation latency, including
	// the delivery call made while the row lock is held.
	AllocationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cardhaven_allocation_duration_seconds",
		Help:    "End-to-end allocation latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// CodesImported counts codes successfully added to the inventory.
	CodesImported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardhaven_codes_imported_total",
		Help: "Codes successfully imported into the inventory.",
	})

	// ProofGrants counts signed proof-access grants issued.
	ProofGrants = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardhaven_proof_grants_total",
		Help: "Signed payment-proof access grants issued.",
	})
)
