package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"arbscanner/internal/api"
	"arbscanner/internal/bus"
	"arbscanner/internal/config"
	"arbscanner/internal/exchange"
	"arbscanner/internal/matcher"
	"arbscanner/internal/notifier"
	"arbscanner/internal/scanner"
	"arbscanner/pkg/utils"
)

func main() {
	// Загрузка конфигурации: кривые числовые значения фатальны
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("ArbScanner starting...")
	logger.Info("Configuration loaded",
		zap.String("min_spread", cfg.MinSpreadPercent.String()),
		zap.String("max_spread", cfg.MaxSpreadPercent.String()),
		zap.Int64("cooldown_ms", cfg.CooldownMs),
		zap.String("callback_url", cfg.CallbackURL),
		zap.Strings("enabled_exchanges", cfg.EnabledExchanges),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Общее состояние
	tickerMatcher := matcher.NewTickerMatcher()
	priceBus := bus.New(bus.DefaultCapacity)
	notify := notifier.New(cfg, logger)

	// Сканер подписывается до старта коннекторов, чтобы не терять
	// первые обновления
	scan := scanner.New(cfg, tickerMatcher, notify, priceBus.Subscribe(), logger)

	manager := exchange.NewManager(cfg, tickerMatcher, priceBus, logger)

	errCh := make(chan error, 2)
	go func() {
		errCh <- manager.Run(ctx)
	}()
	go func() {
		errCh <- scan.Run(ctx)
	}()

	// Статусный HTTP сервер
	statusServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewServer(tickerMatcher, scan, logger).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Status server listening", zap.String("addr", cfg.ListenAddr))
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Status server failed", zap.Error(err))
		}
	}()

	// Работаем до сигнала или первого фатального завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("Component stopped", zap.Error(err))
	}

	cancel()
	priceBus.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Status server shutdown failed", zap.Error(err))
	}
}
