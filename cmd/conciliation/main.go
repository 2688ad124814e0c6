// Package main запускает HTTP-сервер сервиса сверки платежей.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/conciliation-system/internal/cache"
	"github.com/mmeshcher/conciliation-system/internal/config"
	"github.com/mmeshcher/conciliation-system/internal/finance"
	"github.com/mmeshcher/conciliation-system/internal/handler"
	"github.com/mmeshcher/conciliation-system/internal/middleware"
	"github.com/mmeshcher/conciliation-system/internal/repository"
	"github.com/mmeshcher/conciliation-system/internal/salesfeed"
	"github.com/mmeshcher/conciliation-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	opts := []service.Option{
		service.WithTolerance(finance.Tolerance{MinorPercent: cfg.MinorDiscrepancyPct}),
	}

	if cfg.AtomicReconciliation {
		opts = append(opts, service.WithTxRunner(txRunner(repo)))
	}

	if cfg.RedisAddress != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddress)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer client.Close()

		opts = append(opts,
			service.WithCache(cache.NewRedisCache(client), cfg.CacheTTL),
			service.WithLocker(cache.NewRedisLocker(client)),
		)
	} else {
		opts = append(opts, service.WithCache(cache.NewMemoryCache(), cfg.CacheTTL))
	}

	var feed *salesfeed.Client
	if cfg.SalesFeedAddress != "" {
		company, err := uuid.Parse(cfg.SalesFeedCompany)
		if err != nil {
			sugar.Fatalw("sales feed company must be a company id", "error", err.Error())
		}
		feed = salesfeed.NewClient(cfg.SalesFeedAddress)
		opts = append(opts, service.WithSalesImport(company, cfg.SalesImportInterval))
	}

	svc := service.NewService(repo, feed, logger, opts...)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, sessions will not survive a restart")
	}
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Фоновый импорт продаж
	g.Go(func() error {
		svc.StartSalesImport(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting conciliation server",
			"addr", cfg.RunAddress,
			"atomic_reconciliation", cfg.AtomicReconciliation,
			"redis", cfg.RedisAddress != "",
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// txRunner выполняет шаги сверки в транзакции PostgreSQL.
func txRunner(repo *repository.PostgresRepository) service.TxRunner {
	return func(ctx context.Context, fn func(service.Store) error) error {
		return repo.WithinTx(ctx, func(tx *repository.PostgresRepository) error {
			return fn(tx)
		})
	}
}
