package usecase

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"marketplace-escrow/gateway/ledger"
	"marketplace-escrow/model"
)

type listingMetrics struct {
	instructions *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	fees         prometheus.Counter
}

func newListingMetrics(registry prometheus.Registerer) *listingMetrics {
	factory := promauto.With(registry)
	return &listingMetrics{
		instructions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_instructions_total",
			Help: "Total number of processed instructions by instruction and result",
		}, []string{"instruction", "result"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketplace_instruction_duration_seconds",
			Help:    "Instruction processing latency",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"instruction"}),
		fees: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_fees_lamports_total",
			Help: "Total transaction fees charged",
		}),
	}
}

// resultLabel はエラーをメトリクスのラベルに丸める
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var perr *model.ProgramError
	switch {
	case errors.As(err, &perr):
		return perr.Name
	case errors.Is(err, ledger.ErrConflict):
		return "conflict"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrAccountInUse):
		return "account_in_use"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return "not_found"
	default:
		return "error"
	}
}
