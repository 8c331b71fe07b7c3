package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/bankassist/internal/domain"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankassist_commands_total",
		Help: "Dispatched assistant commands, labeled by command and outcome",
	}, []string{"command", "outcome"})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankassist_transfers_total",
		Help: "Transfer attempts, labeled by result",
	}, []string{"result"})

	providerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bankassist_provider_duration_seconds",
		Help:    "Latency of text generation calls",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
	})

	providerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bankassist_provider_failures_total",
		Help: "Text generation calls that failed",
	})
)

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

func transferResult(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}
