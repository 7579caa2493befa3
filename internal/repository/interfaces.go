// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/tokenminer/internal/model"
)

// SessionStore はマイニングセッションの永続化インターフェース。
// 起動時にLoadで全件を読み込み、更新操作のたびにSaveで全件を書き直す。
// 部分更新は行わない。
type SessionStore interface {
	// Load は保存済みの全セッションを返す。保存データが存在しない場合は空のマップを返す。
	// データが不正な場合は model.ErrStorageCorrupt をラップしたエラーを返す。
	Load(ctx context.Context) (map[string]*model.MiningSession, error)

	// Save は全セッションをアトミックに置き換える。
	Save(ctx context.Context, sessions map[string]*model.MiningSession) error
}

// HealthChecker はストアの疎通確認インターフェース。
// /health エンドポイントから利用する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}
