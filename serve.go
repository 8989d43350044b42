package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"marketplace-escrow/config"
	"marketplace-escrow/gateway/index"
	"marketplace-escrow/gateway/ledger"
	"marketplace-escrow/gateway/quote"
	listingHandler "marketplace-escrow/handler/listing"
	swapHandler "marketplace-escrow/handler/swap"
	listingUsecase "marketplace-escrow/usecase/listing"
	notifyUsecase "marketplace-escrow/usecase/notify"
	swapUsecase "marketplace-escrow/usecase/swap"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the marketplace API server",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			logger := commonRun()
			if err := serveRun(cfg, logger); err != nil {
				logger.Error(err.Error(), "component", programName)
				os.Exit(1)
			}
		},
	}
}

func serveRun(cfg *config.Config, logger *slog.Logger) error {
	// --- 1. 初期設定 ---
	registry := prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	var promRegistry prometheus.Registerer
	if cfg.MetricsEnabled {
		promRegistry = registry
	}
	if cfg.DatabasePath == "" {
		logger.Warn("databasePath is empty, state is kept in memory only", "component", programName)
	}

	// --- 2. レジャーの初期化 ---
	l, err := ledger.New(
		ledger.WithLogger(logger),
		ledger.WithPromRegistry(promRegistry),
		ledger.WithDataDir(cfg.DatabasePath),
		ledger.WithFaucetLimit(cfg.EffectiveFaucetLimit()),
	)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer l.Close()

	idx, err := index.New(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer idx.Close()

	// --- 3. Listing 機能の依存性注入 ---
	listingUC := listingUsecase.NewListingUsecase(l,
		listingUsecase.WithLogger(logger),
		listingUsecase.WithPromRegistry(promRegistry),
		listingUsecase.WithProgramID(cfg.ProgramPublicKey()),
		listingUsecase.WithFees(cfg.Fees),
		// 時計ずれで未来方向にも maxAge 受け付けるので、その倍だけ署名を覚えておく
		listingUsecase.WithReplayWindow(2*cfg.SignatureMaxAgeDuration()),
	)
	listingHdlr := listingHandler.NewListingHandler(listingUC, idx, cfg.SignatureMaxAgeDuration(), logger)
	logger.Info(
		fmt.Sprintf("program %s, fee %d lamports, rent %d lamports/byte", cfg.ProgramID, cfg.Fees.TxFee, cfg.Fees.RentPerByte),
		"component", programName,
	)

	// --- 4. イベントリスナー ---
	notifyUC := notifyUsecase.NewNotifyUsecase(listingUC, idx, cfg.BackendBaseURL, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := notifyUC.StartEventListener(ctx); err != nil {
		return fmt.Errorf("failed to start event listener: %w", err)
	}
	defer notifyUC.Stop()
	// リスナー開始後に同期して取りこぼしを防ぐ
	if err := notifyUC.Resync(ctx); err != nil {
		logger.Warn("index resync failed: "+err.Error(), "component", programName)
	}

	// --- 5. Swap 機能の依存性注入 ---
	var swapHdlr *swapHandler.SwapHandler
	if cfg.QuoteAPIURL != "" {
		qg := quote.NewJupiterGateway(cfg.QuoteAPIURL, cfg.QuoteTimeoutDuration(), logger)
		swapHdlr = swapHandler.NewSwapHandler(swapUsecase.NewSwapUsecase(qg, listingUC), logger)
		logger.Info("swap quotes via "+cfg.QuoteAPIURL, "component", programName)
	} else {
		logger.Warn("quoteApiUrl not set, swap features are disabled", "component", programName)
	}

	// --- 6. ルーティングの設定 ---
	router := mux.NewRouter()
	health := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
	router.HandleFunc("/", health).Methods("GET")
	router.HandleFunc("/health", health).Methods("GET")
	if cfg.MetricsEnabled {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	listingHdlr.RegisterRoutes(router)
	if swapHdlr != nil {
		swapHdlr.RegisterRoutes(router)
	}

	// --- 7. CORSミドルウェアの設定 ---
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// --- 8. サーバー起動 ---
	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		logger.Info("marketplace API listening on "+srv.Addr, "component", programName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		logger.Info("signal received, initiating graceful shutdown", "component", programName)
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("could not start server: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeoutDuration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error: "+err.Error(), "component", programName)
	}
	logger.Info("shutdown complete", "component", programName)
	return nil
}
