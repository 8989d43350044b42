package ledger

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type LedgerOptionFunc func(*Ledger)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) LedgerOptionFunc {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(registry prometheus.Registerer) LedgerOptionFunc {
	return func(l *Ledger) {
		l.promRegistry = registry
	}
}

// WithDataDir specifies the data directory. An empty value keeps everything in memory
func WithDataDir(dataDir string) LedgerOptionFunc {
	return func(l *Ledger) {
		l.dataDir = dataDir
	}
}

// WithGc specifies whether value log garbage collection is enabled
func WithGc(enabled bool) LedgerOptionFunc {
	return func(l *Ledger) {
		l.gcEnabled = enabled
	}
}

// WithFaucetLimit caps a single airdrop. Zero disables the faucet
func WithFaucetLimit(lamports uint64) LedgerOptionFunc {
	return func(l *Ledger) {
		l.faucetLimit = lamports
	}
}
