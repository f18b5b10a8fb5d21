package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"course_rewards/internal/domain/reward"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string
	LogLevel    string
	Environment string
	RewardMode  reward.Mode
	HTTPAddr    string

	// Telegram bot is enabled when TelegramToken is set.
	TelegramToken   string
	AdminTelegramID int64

	// Chain settings, required in on-chain mode only.
	EthRPCURL            string
	TokenContractAddress string
	AwarderPrivateKey    string
	ChainID              int64
	ChainConfirmations   uint64
	ChainPollInterval    time.Duration
	ChainConfirmTimeout  time.Duration

	CronSpecReconcile   string
	ReconcileStaleAfter time.Duration
	ReconcileBatchSize  int

	RedisURL    string // optional; switches pair locking to Redis
	PairLockTTL time.Duration
}

// OnChain reports whether rewards are minted on chain.
func (c *AppConfig) OnChain() bool {
	return c.RewardMode == reward.ModeOnChain
}

func (c *AppConfig) TelegramEnabled() bool {
	return c.TelegramToken != ""
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.RewardMode, err = reward.ParseMode(envOr("REWARD_MODE", string(reward.ModeOffChainOnly)))
	if err != nil {
		return nil, fmt.Errorf("invalid REWARD_MODE: %w", err)
	}

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID"); adminIDStr != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}
	if cfg.TelegramEnabled() && cfg.AdminTelegramID == 0 {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
	}

	if err := loadChain(cfg); err != nil {
		return nil, err
	}

	cfg.CronSpecReconcile = envOr("CRON_SPEC_RECONCILE", "*/5 * * * *") // Default: every 5 minutes
	if cfg.ReconcileStaleAfter, err = durationOr("RECONCILE_STALE_AFTER", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReconcileBatchSize, err = intOr("RECONCILE_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.ReconcileBatchSize <= 0 {
		return nil, fmt.Errorf("RECONCILE_BATCH_SIZE must be positive")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.PairLockTTL, err = durationOr("PAIR_LOCK_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadChain(cfg *AppConfig) error {
	var err error

	cfg.EthRPCURL = os.Getenv("ETH_RPC_URL")
	cfg.TokenContractAddress = os.Getenv("TOKEN_CONTRACT_ADDRESS")
	cfg.AwarderPrivateKey = strings.TrimPrefix(os.Getenv("AWARDER_PRIVATE_KEY"), "0x")

	if chainIDStr := os.Getenv("CHAIN_ID"); chainIDStr != "" {
		cfg.ChainID, err = strconv.ParseInt(chainIDStr, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CHAIN_ID: %w", err)
		}
	}

	confirmations, err := intOr("CHAIN_CONFIRMATIONS", 1)
	if err != nil {
		return err
	}
	if confirmations < 1 {
		return fmt.Errorf("CHAIN_CONFIRMATIONS must be at least 1")
	}
	cfg.ChainConfirmations = uint64(confirmations)

	if cfg.ChainPollInterval, err = durationOr("CHAIN_POLL_INTERVAL", 3*time.Second); err != nil {
		return err
	}
	if cfg.ChainConfirmTimeout, err = durationOr("CHAIN_CONFIRM_TIMEOUT", 10*time.Minute); err != nil {
		return err
	}

	if !cfg.OnChain() {
		return nil
	}
	if cfg.EthRPCURL == "" {
		return fmt.Errorf("ETH_RPC_URL is not set")
	}
	if cfg.TokenContractAddress == "" {
		return fmt.Errorf("TOKEN_CONTRACT_ADDRESS is not set")
	}
	if cfg.AwarderPrivateKey == "" {
		return fmt.Errorf("AWARDER_PRIVATE_KEY is not set")
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("CHAIN_ID is not set")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
