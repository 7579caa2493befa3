package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/tokenminer/internal/model"
)

// セッションストアの種類
const (
	SessionStoreFile     = "file"
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// 署名鍵プロバイダの種類
const (
	KeyProviderFile          = "file"
	KeyProviderSecretManager = "secretmanager"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Logging
	LogLevel string

	// Session store
	SessionStore    string
	SessionFile     string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisSessionKey string

	// Mining
	Mining model.MiningConfig

	// Ledger
	SolanaRPCURL             string
	TokenInfoPath            string
	SettlementMode           string
	SettlementTimeout        time.Duration
	SettlementConfirmTimeout time.Duration
	LedgerBreakerMaxFailures int
	LedgerBreakerTimeout     time.Duration

	// Keys
	KeyProvider      string
	KeypairDir       string
	SignerSecretName string

	// Events
	KafkaBrokers    []string
	KafkaClaimTopic string

	// Rate Limit
	RateLimitGeneral int
	RateLimitClaim   int
}

// LoadDotEnv はカレントディレクトリの .env を環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数の未設定や不正な値はまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.SessionStore = strings.ToLower(getEnvString("SESSION_STORE", SessionStoreFile))
	cfg.SessionFile = getEnvString("SESSION_FILE", "mining-sessions.json")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.RedisSessionKey = getEnvString("REDIS_SESSION_KEY", "tokenminer:mining-sessions")

	defaults := model.DefaultMiningConfig()
	cfg.Mining = model.MiningConfig{
		TokensPerClick:   getEnvInt("MINING_TOKENS_PER_CLICK", defaults.TokensPerClick),
		MaxClicksPerHour: getEnvInt("MINING_MAX_CLICKS_PER_HOUR", defaults.MaxClicksPerHour),
		MaxTokensPerDay:  getEnvInt("MINING_MAX_TOKENS_PER_DAY", defaults.MaxTokensPerDay),
		Cooldown:         getEnvDuration("MINING_COOLDOWN", defaults.Cooldown),
		ClaimThreshold:   getEnvInt("MINING_CLAIM_THRESHOLD", defaults.ClaimThreshold),
		HourlyLimitMode:  model.HourlyLimitMode(strings.ToLower(getEnvString("HOURLY_LIMIT_MODE", string(defaults.HourlyLimitMode)))),
		SessionTTL:       defaults.SessionTTL,
	}

	cfg.SolanaRPCURL = getEnvString("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	cfg.TokenInfoPath = getEnvString("TOKEN_INFO_PATH", "token-info.json")
	cfg.SettlementMode = strings.ToLower(getEnvString("SETTLEMENT_MODE", "mint"))
	cfg.SettlementTimeout = getEnvDuration("SETTLEMENT_TIMEOUT", 30*time.Second)
	cfg.SettlementConfirmTimeout = getEnvDuration("SETTLEMENT_CONFIRM_TIMEOUT", 90*time.Second)
	cfg.LedgerBreakerMaxFailures = getEnvInt("LEDGER_BREAKER_MAX_FAILURES", 5)
	cfg.LedgerBreakerTimeout = getEnvDuration("LEDGER_BREAKER_TIMEOUT", 30*time.Second)

	cfg.KeyProvider = strings.ToLower(getEnvString("KEY_PROVIDER", KeyProviderFile))
	cfg.KeypairDir = getEnvString("KEYPAIR_DIR", "keypairs")
	cfg.SignerSecretName = os.Getenv("SIGNER_SECRET_NAME")

	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS")
	cfg.KafkaClaimTopic = getEnvString("KAFKA_CLAIM_TOPIC", "mining.claims")

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitClaim = getEnvInt("RATE_LIMIT_CLAIM", 10)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は設定値の組み合わせを検証し、全ての問題をまとめて返す。
func (c *Config) validate() error {
	var missing []string
	var errs []error

	switch c.SessionStore {
	case SessionStoreFile:
	case SessionStorePostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case SessionStoreRedis:
		if c.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_STORE must be one of file, postgres, redis: %q", c.SessionStore))
	}

	switch c.KeyProvider {
	case KeyProviderFile:
	case KeyProviderSecretManager:
		if c.SignerSecretName == "" {
			missing = append(missing, "SIGNER_SECRET_NAME")
		}
	default:
		errs = append(errs, fmt.Errorf("KEY_PROVIDER must be one of file, secretmanager: %q", c.KeyProvider))
	}

	if c.SettlementMode != "mint" && c.SettlementMode != "transfer" {
		errs = append(errs, fmt.Errorf("SETTLEMENT_MODE must be mint or transfer: %q", c.SettlementMode))
	}
	if c.SettlementTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SETTLEMENT_TIMEOUT must be positive: %s", c.SettlementTimeout))
	}
	if c.SettlementConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SETTLEMENT_CONFIRM_TIMEOUT must be positive: %s", c.SettlementConfirmTimeout))
	}
	if c.LedgerBreakerMaxFailures <= 0 {
		errs = append(errs, fmt.Errorf("LEDGER_BREAKER_MAX_FAILURES must be positive: %d", c.LedgerBreakerMaxFailures))
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitClaim <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_GENERAL and RATE_LIMIT_CLAIM must be positive"))
	}
	if err := c.Mining.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mining config: %w", err))
	}

	if len(missing) > 0 {
		errs = append([]error{fmt.Errorf("required environment variables are not set: %v", missing)}, errs...)
	}
	return errors.Join(errs...)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
