package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ledgerMetrics struct {
	commits     *prometheus.CounterVec
	conflicts   prometheus.Counter
	transferred prometheus.Counter
	airdropped  prometheus.Counter
}

// promauto.With(nil) は登録しないファクトリを返すので、レジストリが無くてもメトリクスは使える
func newLedgerMetrics(registry prometheus.Registerer) *ledgerMetrics {
	factory := promauto.With(registry)
	return &ledgerMetrics{
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_ledger_commits_total",
			Help: "Total number of ledger transaction commits by result",
		}, []string{"result"}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_ledger_conflicts_total",
			Help: "Total number of ledger transactions aborted by a write conflict",
		}),
		transferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_ledger_transferred_lamports_total",
			Help: "Total lamports moved between accounts by committed transfers",
		}),
		airdropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_ledger_airdropped_lamports_total",
			Help: "Total lamports minted by the faucet",
		}),
	}
}
