package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certverify_ingestions_total",
		Help: "Certificate ingestions by outcome.",
	}, []string{"outcome"})

	verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certverify_verifications_total",
		Help: "Verification requests by result.",
	}, []string{"result"})

	anchors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certverify_anchors_total",
		Help: "Ledger anchor attempts by backend and outcome.",
	}, []string{"backend", "outcome"})

	adapterDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "certverify_adapter_duration_seconds",
		Help:    "Latency of upstream adapter calls.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"adapter", "operation", "outcome"})

	anchorQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certverify_anchor_queue_dropped_total",
		Help: "Anchor dispatches dropped because the in-process queue was full.",
	})
)

// IngestionOutcome records the end state of one ingestion attempt, e.g.
// "created", "duplicate", "invalid" or "failed".
func IngestionOutcome(outcome string) { ingestions.WithLabelValues(outcome).Inc() }

// VerificationResult records "verified", "unverified" or "invalid".
func VerificationResult(result string) { verifications.WithLabelValues(result).Inc() }

func AnchorOutcome(backend string, err error) {
	anchors.WithLabelValues(backend, outcome(err)).Inc()
}

func AnchorQueueDropped() { anchorQueueDropped.Inc() }

// ObserveAdapter records the duration of an adapter call started at start.
func ObserveAdapter(adapter, operation string, start time.Time, err error) {
	adapterDuration.WithLabelValues(adapter, operation, outcome(err)).Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
