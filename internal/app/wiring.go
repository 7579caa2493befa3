package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/tokenminer/internal/config"
	"github.com/hitoshi/tokenminer/internal/database"
	"github.com/hitoshi/tokenminer/internal/events"
	"github.com/hitoshi/tokenminer/internal/keys"
	"github.com/hitoshi/tokenminer/internal/ledger"
	"github.com/hitoshi/tokenminer/internal/metrics"
	"github.com/hitoshi/tokenminer/internal/mining"
	"github.com/hitoshi/tokenminer/internal/repository"
	"github.com/hitoshi/tokenminer/internal/token"
)

const storeConnectTimeout = 5 * time.Second

// runtime はserveとCLIで共有する依存関係一式。
type runtime struct {
	engine    *mining.Engine
	health    repository.HealthChecker
	keys      keys.Provider
	tokenInfo *token.Info

	closers []func() error
}

// Close は生成順と逆順にリソースを解放する。
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildRuntime は設定に従ってセッションストア、署名鍵、精算、イベント送信を組み立て、
// セッションを読み込んだエンジンを返す。
func buildRuntime(ctx context.Context, cfg *config.Config, collector metrics.MetricsCollector, logger *slog.Logger) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	// 1. セッションストア
	store, err := openSessionStore(ctx, cfg, rt)
	if err != nil {
		return nil, err
	}

	// 2. 署名鍵
	provider, err := openKeyProvider(ctx, cfg, rt)
	if err != nil {
		return nil, err
	}
	rt.keys = keys.NewCachedProvider(provider)

	// 3. トークン情報と精算
	var settler mining.Settler
	decimals := mining.DefaultDecimals
	info, err := token.LoadInfo(cfg.TokenInfoPath)
	switch {
	case errors.Is(err, token.ErrInfoNotFound):
		logger.Warn("token info not found; claims will fail until the token is created",
			slog.String("path", cfg.TokenInfoPath),
		)
		settler = ledger.UnavailableSettler{Reason: err}
	case err != nil:
		return nil, err
	default:
		rt.tokenInfo = info
		decimals = info.Decimals

		mode, err := ledger.ParseMode(cfg.SettlementMode)
		if err != nil {
			return nil, err
		}
		solana, err := ledger.NewSolanaSettler(
			ledger.NewRPCClient(cfg.SolanaRPCURL),
			rt.keys,
			ledger.SettlerConfig{
				MintAddress:        info.MintAddress,
				Mode:               mode,
				BreakerMaxFailures: uint32(cfg.LedgerBreakerMaxFailures),
				BreakerTimeout:     cfg.LedgerBreakerTimeout,
				ConfirmTimeout:     cfg.SettlementConfirmTimeout,
			},
			collector,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create settler: %w", err)
		}
		settler = solana
	}

	// 4. 請求イベント
	var publisher mining.ClaimPublisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaClaimTopic, logger)
		rt.closers = append(rt.closers, kafka.Close)
		publisher = kafka
	}

	// 5. エンジン
	engine, err := mining.NewEngine(ctx, store, settler, cfg.Mining,
		mining.WithMetrics(collector),
		mining.WithPublisher(publisher),
		mining.WithDecimals(decimals),
		mining.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	rt.engine = engine

	return rt, nil
}

// openSessionStore はSESSION_STOREに応じたセッションストアを開く。
func openSessionStore(ctx context.Context, cfg *config.Config, rt *runtime) (repository.SessionStore, error) {
	switch cfg.SessionStore {
	case config.SessionStorePostgres:
		db, err := database.OpenAndPing(cfg.DatabaseURL, storeConnectTimeout)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		store := repository.NewPostgresSessionStore(db)
		rt.health = store
		return store, nil

	case config.SessionStoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rt.closers = append(rt.closers, rdb.Close)

		pingCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store := repository.NewRedisSessionStore(rdb, cfg.RedisSessionKey)
		rt.health = store
		return store, nil

	default:
		store := repository.NewJSONFileSessionStore(cfg.SessionFile)
		rt.health = store
		return store, nil
	}
}

// openKeyProvider はKEY_PROVIDERに応じた署名鍵プロバイダを開く。
func openKeyProvider(ctx context.Context, cfg *config.Config, rt *runtime) (keys.Provider, error) {
	if cfg.KeyProvider == config.KeyProviderSecretManager {
		p, err := keys.NewSecretManagerProvider(ctx, map[keys.Role]string{
			keys.RoleWallet: cfg.SignerSecretName,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, p.Close)
		return p, nil
	}
	return keys.NewFileProvider(cfg.KeypairDir), nil
}
