package usecase

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketplace-escrow/gateway/ledger"
	"marketplace-escrow/model"
)

type OptionFunc func(*listingUsecase)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(uc *listingUsecase) {
		uc.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(registry prometheus.Registerer) OptionFunc {
	return func(uc *listingUsecase) {
		uc.promRegistry = registry
	}
}

// WithProgramID overrides the program that owns item accounts
func WithProgramID(programID model.PublicKey) OptionFunc {
	return func(uc *listingUsecase) {
		uc.programID = programID
	}
}

// WithFees specifies the transaction fee and rent rate
func WithFees(fees ledger.FeeSchedule) OptionFunc {
	return func(uc *listingUsecase) {
		uc.fees = fees
	}
}

// WithClock specifies the time source used for listed_at and event timestamps
func WithClock(clock func() time.Time) OptionFunc {
	return func(uc *listingUsecase) {
		uc.clock = clock
	}
}

// WithReplayWindow specifies how long processed transaction signatures are
// remembered. Zero keeps them forever
func WithReplayWindow(window time.Duration) OptionFunc {
	return func(uc *listingUsecase) {
		uc.replayWindow = window
	}
}
