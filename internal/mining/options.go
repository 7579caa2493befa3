package mining

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/tokenminer/internal/metrics"
	"github.com/hitoshi/tokenminer/internal/model"
)

// Settler はオンチェーン精算を行う外部サービスのインターフェース。
// wholeTokensは整数トークン数で、基本単位への変換は実装側が行う。
// 成功時は精算の参照（トランザクション署名など）を返す。
type Settler interface {
	SettleTransfer(ctx context.Context, destination string, wholeTokens uint64, decimals uint8) (string, error)
}

// ClaimPublisher は請求成功イベントの通知先のインターフェース。
type ClaimPublisher interface {
	PublishClaim(ctx context.Context, event model.ClaimEvent) error
}

// Option はEngineの任意設定を行う関数。
type Option func(*Engine)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithPublisher は請求イベントの通知先を設定する。
func WithPublisher(p ClaimPublisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithDecimals はトークンの小数桁数を設定する。
func WithDecimals(decimals uint8) Option {
	return func(e *Engine) {
		e.decimals = decimals
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}
