package paygate

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chargeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "authorizer",
			Name:      "charge_attempts_total",
			Help:      "Charge attempts by outcome",
		},
		[]string{"outcome"},
	)

	reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "ledger",
			Name:      "reconciliations_total",
			Help:      "Balance reconciliations by result",
		},
		[]string{"result"},
	)

	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paygate",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of upstream calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"upstream", "result"},
	)

	commandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "dispatcher",
			Name:      "commands_total",
			Help:      "Inbound commands by command name",
		},
		[]string{"command"},
	)
)

func observeUpstream(name string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	upstreamDuration.WithLabelValues(name, result).Observe(time.Since(start).Seconds())
}

// outcomeLabel maps a rejection reason to a low-cardinality label.
func outcomeLabel(reason error) string {
	var (
		unknown ErrUnknownOperation
		missing ErrMissingParameters
		short   ErrInsufficientBalance
	)
	switch {
	case reason == nil:
		return "admitted"
	case errors.Is(reason, ErrNotRegistered):
		return "not_registered"
	case errors.As(reason, &unknown):
		return "unknown_operation"
	case errors.As(reason, &missing):
		return "missing_parameters"
	case errors.Is(reason, ErrPricingUnavailable):
		return "pricing_unavailable"
	case errors.As(reason, &short):
		return "insufficient_balance"
	default:
		return "other"
	}
}
