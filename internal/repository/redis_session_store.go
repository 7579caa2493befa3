package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/tokenminer/internal/model"
)

// DefaultRedisSessionKey はセッション一覧を保存するRedisキーのデフォルト値。
const DefaultRedisSessionKey = "tokenminer:mining-sessions"

// RedisSessionStore はRedisを使用したセッションストア。
// 全セッションを1つのJSONドキュメントとして単一キーに保存する。SETはアトミックに値を置き換える。
type RedisSessionStore struct {
	rdb *redis.Client
	key string
}

// NewRedisSessionStore はRedisSessionStoreを生成する。keyが空の場合はデフォルトキーを使用する。
func NewRedisSessionStore(rdb *redis.Client, key string) *RedisSessionStore {
	if key == "" {
		key = DefaultRedisSessionKey
	}
	return &RedisSessionStore{rdb: rdb, key: key}
}

// Load は全セッションを取得する。キーが存在しない場合は空のマップを返す。
func (r *RedisSessionStore) Load(ctx context.Context) (map[string]*model.MiningSession, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return make(map[string]*model.MiningSession), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions from redis: %w", err)
	}

	sessions, err := decodeSessions(data)
	if err != nil {
		return nil, fmt.Errorf("redis key %s: %w", r.key, err)
	}
	return sessions, nil
}

// Save は全セッションを単一キーに書き込む。有効期限は設定しない。
func (r *RedisSessionStore) Save(ctx context.Context, sessions map[string]*model.MiningSession) error {
	data, err := encodeSessions(sessions)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set sessions in redis: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (r *RedisSessionStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// compile-time interface check
var (
	_ SessionStore  = (*RedisSessionStore)(nil)
	_ HealthChecker = (*RedisSessionStore)(nil)
)
