package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/tokenminer/internal/keys"
	"github.com/hitoshi/tokenminer/internal/metrics"
	"github.com/hitoshi/tokenminer/internal/middleware"
	"github.com/hitoshi/tokenminer/internal/repository"
	"github.com/hitoshi/tokenminer/internal/token"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// マイニング
	Mining       MiningServiceInterface
	ClaimTimeout time.Duration

	// トークン情報
	TokenInfo *token.Info
	Keys      keys.Provider

	// 運用
	Health         repository.HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → SecurityHeaders → CORS → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	miningHandler := NewMiningHandler(deps.Mining, deps.ClaimTimeout, deps.Logger)
	tokenHandler := NewTokenInfoHandler(deps.TokenInfo, deps.Keys, deps.Logger)
	healthHandler := NewHealthHandler(deps.Health, deps.Logger)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler.Check)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- API ---
	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Get("/token-info", tokenHandler.Get)

		r.Route("/mining", func(r chi.Router) {
			r.Post("/start", miningHandler.Start)
			r.Post("/click", miningHandler.Click)
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.ClaimMiddleware()).Post("/claim", miningHandler.Claim)
			} else {
				r.Post("/claim", miningHandler.Claim)
			}
			r.Get("/stats/{userId}", miningHandler.Stats)
			r.Get("/global", miningHandler.GlobalStats)
		})
	})

	return r
}
