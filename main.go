package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bidding "auction-marketplace/internal/biddingService"
	"auction-marketplace/internal/config"
	"auction-marketplace/internal/db/postgres"
	ledger "auction-marketplace/internal/ledgerService"
	"auction-marketplace/internal/lifecycle"
	"auction-marketplace/internal/notify"
	"auction-marketplace/internal/repository"
	"auction-marketplace/internal/server"
	"auction-marketplace/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("failed to load configuration", map[string]any{"error": err.Error()})
	}
	if !utils.SetLevel(cfg.LogLevel) {
		utils.Warn("unknown LOG_LEVEL, using info", map[string]any{"log_level": cfg.LogLevel})
	}
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openStore(ctx, cfg)
	if err != nil {
		utils.Fatal("failed to open storage", map[string]any{"driver": cfg.StorageDriver, "error": err.Error()})
	}
	defer closeRepo()

	bus := notify.NewBus(cfg.NotifyBuffer)
	defer bus.Close()

	ledgerSvc := ledger.NewLedgerService(repo, ledger.WithInitialGrant(cfg.WalletInitialGrant))
	biddingSvc := bidding.NewBiddingService(repo, ledgerSvc, bus, bidding.WithMaxDuration(cfg.AuctionMaxDuration))

	scheduler := lifecycle.NewScheduler(repo, ledgerSvc, bus,
		lifecycle.WithSchedule(cfg.SweepSchedule),
		lifecycle.WithTimeout(cfg.SweepTimeout),
	)
	if err := scheduler.Start(ctx); err != nil {
		utils.Fatal("failed to start expiry scheduler", map[string]any{"error": err.Error()})
	}

	router := server.SetupRouter(server.Services{
		Bidding:      biddingSvc,
		Wallets:      ledgerSvc,
		Events:       bus,
		PingInterval: cfg.StreamPingInterval,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		utils.Info("starting auction server", map[string]any{"addr": srv.Addr, "driver": cfg.StorageDriver})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Error("server stopped unexpectedly", map[string]any{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	utils.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Shutdown does not track hijacked websocket connections; closing the bus ends them
	bus.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("graceful shutdown failed", map[string]any{"error": err.Error()})
	}
	scheduler.Stop()
}

// openStore returns the configured MarketDB and a function releasing its resources
func openStore(ctx context.Context, cfg *config.Config) (repository.MarketDB, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewPostgresRepo(pool), pool.Close, nil
	default:
		utils.Info("using in-memory storage", nil)
		return repository.NewMemoryRepo(), func() {}, nil
	}
}
