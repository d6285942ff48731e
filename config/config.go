package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"perpbot/internal/adapters/logger"
	"perpbot/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading Parameters
	Symbols          []string
	Asset            string  // Quote/margin asset, e.g. "USDT"
	Leverage         int     // e.g., 10
	FixedMargin      float64 // Margin per position in quote currency, e.g., 50
	MaxOpenPositions int     // Concurrent position cap, e.g., 2
	TakeProfitPct    float64 // e.g., 0.02 for 2%
	StopLossPct      float64 // e.g., 0.01 for 1%
	Mode             domain.Mode

	// Engine Timing
	CandleInterval    string        // Signal cadence, e.g., "15m"
	TickInterval      time.Duration // TP/SL mark-price check cadence
	ExitRetryLimit    int           // Failed exit cycles before the fatal alert
	OrderPollAttempts int
	OrderPollDelay    time.Duration

	// Reconciliation
	ReconcileInterval  time.Duration
	ReconcileTolerance float64 // Quote-currency drift tolerance

	// Strategy Parameters
	StrategyFastMAPeriod  int     // e.g., 5
	StrategySlowMAPeriod  int     // e.g., 20
	StrategyRSIPeriod     int     // e.g., 14
	StrategyRSIOverbought float64 // e.g., 70.0
	StrategyRSIOversold   float64 // e.g., 30.0

	// Storage
	DBPath       string
	TradeLogPath string // CSV trade log, empty disables it

	// Logging / Observability
	LogLevel    logger.LogLevel
	MetricsAddr string // Prometheus listen address, empty disables it

	// Notifications (Telegram)
	TelegramToken  string
	TelegramChatID string

	// Connection Settings
	ReconnectMinDelay    time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading Parameters
	symbolsStr := getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")
	for _, sym := range strings.Split(symbolsStr, ",") {
		sym = strings.TrimSpace(sym)
		if sym != "" {
			cfg.Symbols = append(cfg.Symbols, sym)
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must contain at least one symbol")
	}

	cfg.Asset = getEnv("MARGIN_ASSET", "USDT")
	if cfg.Asset == "" {
		errs = append(errs, "MARGIN_ASSET must be set")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.FixedMargin, err = getEnvAsFloatRequired("FIXED_MARGIN_USDT", 50.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FIXED_MARGIN_USDT: %v", err))
	} else if cfg.FixedMargin <= 0 {
		errs = append(errs, "FIXED_MARGIN_USDT must be positive")
	}

	cfg.MaxOpenPositions, err = getEnvAsIntRequired("MAX_OPEN_POSITIONS", 2)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_OPEN_POSITIONS: %v", err))
	} else if cfg.MaxOpenPositions <= 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS must be positive")
	}

	cfg.TakeProfitPct, err = getEnvAsFloatRequired("TAKE_PROFIT_PCT", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PCT: %v", err))
	} else if cfg.TakeProfitPct <= 0 {
		errs = append(errs, "TAKE_PROFIT_PCT must be positive")
	}

	cfg.StopLossPct, err = getEnvAsFloatRequired("STOP_LOSS_PCT", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	} else if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1.0 {
		errs = append(errs, "STOP_LOSS_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.Mode = domain.Mode(getEnv("MODE", string(domain.ModeBoth)))
	if !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Sprintf("invalid MODE %q (want long-only, short-only, both, or halted)", cfg.Mode))
	}

	// Engine Timing
	cfg.CandleInterval = getEnv("CANDLE_INTERVAL", "15m")
	if cfg.CandleInterval == "" {
		errs = append(errs, "CANDLE_INTERVAL must be set")
	}

	tickSeconds := getEnvAsInt("TICK_INTERVAL_SECONDS", 5)
	if tickSeconds <= 0 {
		errs = append(errs, "TICK_INTERVAL_SECONDS must be positive")
	}
	cfg.TickInterval = time.Duration(tickSeconds) * time.Second

	cfg.ExitRetryLimit, err = getEnvAsIntRequired("EXIT_RETRY_LIMIT", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EXIT_RETRY_LIMIT: %v", err))
	} else if cfg.ExitRetryLimit <= 0 {
		errs = append(errs, "EXIT_RETRY_LIMIT must be positive")
	}

	cfg.OrderPollAttempts = getEnvAsInt("ORDER_POLL_ATTEMPTS", 5)
	if cfg.OrderPollAttempts <= 0 {
		errs = append(errs, "ORDER_POLL_ATTEMPTS must be positive")
	}
	pollDelayMs := getEnvAsInt("ORDER_POLL_DELAY_MS", 500)
	if pollDelayMs <= 0 {
		errs = append(errs, "ORDER_POLL_DELAY_MS must be positive")
	}
	cfg.OrderPollDelay = time.Duration(pollDelayMs) * time.Millisecond

	// Reconciliation
	reconcileMinutes := getEnvAsInt("RECONCILE_INTERVAL_MINUTES", 15)
	if reconcileMinutes <= 0 {
		errs = append(errs, "RECONCILE_INTERVAL_MINUTES must be positive")
	}
	cfg.ReconcileInterval = time.Duration(reconcileMinutes) * time.Minute
	cfg.ReconcileTolerance = getEnvAsFloat("RECONCILE_TOLERANCE_USDT", 1.0)
	if cfg.ReconcileTolerance < 0 {
		errs = append(errs, "RECONCILE_TOLERANCE_USDT cannot be negative")
	}

	// Strategy Parameters (using defaults if not set)
	cfg.StrategyFastMAPeriod = getEnvAsInt("STRATEGY_FAST_MA_PERIOD", 5)
	cfg.StrategySlowMAPeriod = getEnvAsInt("STRATEGY_SLOW_MA_PERIOD", 20)
	cfg.StrategyRSIPeriod = getEnvAsInt("STRATEGY_RSI_PERIOD", 14)
	cfg.StrategyRSIOverbought = getEnvAsFloat("STRATEGY_RSI_OVERBOUGHT", 70.0)
	cfg.StrategyRSIOversold = getEnvAsFloat("STRATEGY_RSI_OVERSOLD", 30.0)

	if cfg.StrategyFastMAPeriod <= 0 || cfg.StrategySlowMAPeriod <= 0 || cfg.StrategyRSIPeriod <= 0 {
		errs = append(errs, "strategy periods (MA, RSI) must be positive")
	}
	if cfg.StrategyFastMAPeriod >= cfg.StrategySlowMAPeriod {
		errs = append(errs, "STRATEGY_FAST_MA_PERIOD must be less than STRATEGY_SLOW_MA_PERIOD")
	}
	if cfg.StrategyRSIOverbought <= cfg.StrategyRSIOversold || cfg.StrategyRSIOverbought > 100 || cfg.StrategyRSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}

	// Storage
	cfg.DBPath = getEnv("DB_PATH", "./data/perpbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.TradeLogPath = getEnv("TRADE_LOG_PATH", "./data/trades.csv")

	// Logging / Observability
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	// Notifications
	cfg.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")

	// Connection Settings
	reconnectMinSeconds := getEnvAsInt("RECONNECT_MIN_DELAY_SECONDS", 1)
	if reconnectMinSeconds <= 0 {
		errs = append(errs, "RECONNECT_MIN_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectMinDelay = time.Duration(reconnectMinSeconds) * time.Second

	reconnectMaxSeconds := getEnvAsInt("RECONNECT_MAX_DELAY_SECONDS", 60)
	if reconnectMaxSeconds < reconnectMinSeconds {
		errs = append(errs, "RECONNECT_MAX_DELAY_SECONDS must be >= RECONNECT_MIN_DELAY_SECONDS")
	}
	cfg.ReconnectMaxDelay = time.Duration(reconnectMaxSeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
