package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"perpbot/config"
	"perpbot/internal/account"
	"perpbot/internal/adapters/binance"
	"perpbot/internal/adapters/logger"
	"perpbot/internal/adapters/sqlite"
	"perpbot/internal/engine"
	"perpbot/internal/metrics"
	"perpbot/internal/notify"
	"perpbot/internal/ports"
	"perpbot/internal/report"
	"perpbot/internal/sizing"
	"perpbot/internal/strategy"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter)
	exchange, err := binance.New(binance.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectMinDelay:    cfg.ReconnectMinDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Initialize Signal Source
	signals, err := strategy.NewMACross(strategy.MACrossConfig{
		FastPeriod:    cfg.StrategyFastMAPeriod,
		SlowPeriod:    cfg.StrategySlowMAPeriod,
		RSIPeriod:     cfg.StrategyRSIPeriod,
		RSIOverbought: cfg.StrategyRSIOverbought,
		RSIOversold:   cfg.StrategyRSIOversold,
	}, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize signal source: %v", err)
	}

	// 6. Sizing Converter (metadata is loaded from the exchange at startup)
	sizer, err := sizing.New(appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize sizing converter: %v", err)
	}

	// 7. Notifier
	var notifier ports.Notifier = notify.Noop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notifier, err = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize Telegram notifier: %v", err)
		}
		appLogger.Info(ctx, "Telegram notifier enabled")
	} else {
		appLogger.Info(ctx, "No Telegram credentials configured, alerts go to logs only")
	}

	// 8. Reporting Engine (sqlite history plus optional CSV log)
	var tradeLog *report.TradeLog
	if cfg.TradeLogPath != "" {
		tradeLog, err = report.NewTradeLog(cfg.TradeLogPath)
		if err != nil {
			log.Fatalf("FATAL: Failed to open trade log: %v", err)
		}
	}
	reporter, err := report.NewEngine(appLogger, repo, tradeLog)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize reporting engine: %v", err)
	}
	defer reporter.Close()

	// 9. Account State and Kill Switch
	acct, err := account.New(0, cfg.Mode, cfg.MaxOpenPositions)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize account state: %v", err)
	}
	kill := engine.NewSwitch()

	// 10. Lifecycle Controller
	ctrl, err := engine.New(engine.Config{
		Symbols:            cfg.Symbols,
		Asset:              cfg.Asset,
		Leverage:           cfg.Leverage,
		FixedMargin:        cfg.FixedMargin,
		MaxOpenPositions:   cfg.MaxOpenPositions,
		TakeProfitPct:      cfg.TakeProfitPct,
		StopLossPct:        cfg.StopLossPct,
		CandleInterval:     cfg.CandleInterval,
		TickInterval:       cfg.TickInterval,
		ExitRetryLimit:     cfg.ExitRetryLimit,
		OrderPollAttempts:  cfg.OrderPollAttempts,
		OrderPollDelay:     cfg.OrderPollDelay,
		ReconcileInterval:  cfg.ReconcileInterval,
		ReconcileTolerance: cfg.ReconcileTolerance,
	}, appLogger, exchange, signals, sizer, acct, repo, reporter, notifier, kill)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize lifecycle controller: %v", err)
	}

	// 11. Metrics Endpoint
	if cfg.MetricsAddr != "" {
		srv, metricsErrCh := metrics.Serve(cfg.MetricsAddr)
		appLogger.Info(ctx, "Metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go func() {
			if err, ok := <-metricsErrCh; ok && err != nil {
				appLogger.Error(ctx, err, "Metrics endpoint failed")
			}
		}()
	}

	// 12. Signal Handling: SIGINT/SIGTERM shut down, SIGUSR1 toggles the
	// kill switch (engage when clear, clear when engaged).
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				if kill.Engaged() {
					kill.Clear()
					appLogger.Warn(ctx, "Kill switch cleared via SIGUSR1")
				} else {
					kill.Engage()
					appLogger.Warn(ctx, "Kill switch engaged via SIGUSR1")
				}
			default:
				appLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
				cancel()
				return
			}
		}
	}()

	// 13. Run
	if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error(ctx, err, "Lifecycle controller exited with error")
		log.Fatalf("FATAL: Lifecycle controller exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}
