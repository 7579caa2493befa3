package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/tokenminer/internal/model"
)

// PostgresSessionStore はPostgreSQLを使用したセッションストア。
// Saveは1トランザクション内で全行を削除し、COPYで全件を投入し直す。
type PostgresSessionStore struct {
	db *sql.DB
}

// NewPostgresSessionStore はPostgresSessionStoreを生成する。
func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

// Load は全セッションを取得する。
func (r *PostgresSessionStore) Load(ctx context.Context) (map[string]*model.MiningSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, start_time, last_click_time, clicks, tokens_earned, is_active,
		        hour_window_start, hour_clicks
		 FROM mining_sessions`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query mining sessions: %w", err)
	}
	defer rows.Close()

	sessions := make(map[string]*model.MiningSession)
	for rows.Next() {
		s := &model.MiningSession{}
		var windowStart sql.NullTime
		if err := rows.Scan(
			&s.UserID, &s.StartTime, &s.LastClickTime, &s.Clicks, &s.TokensEarned, &s.IsActive,
			&windowStart, &s.HourClicks,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mining session: %w", err)
		}
		if windowStart.Valid {
			s.HourWindowStart = windowStart.Time
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrStorageCorrupt, err)
		}
		sessions[s.UserID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mining sessions: %w", err)
	}

	return sessions, nil
}

// Save は全セッションを同一トランザクションで置き換える。
func (r *PostgresSessionStore) Save(ctx context.Context, sessions map[string]*model.MiningSession) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mining_sessions`); err != nil {
		return fmt.Errorf("failed to clear mining sessions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("mining_sessions",
		"user_id", "start_time", "last_click_time", "clicks", "tokens_earned", "is_active",
		"hour_window_start", "hour_clicks", "updated_at",
	))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	now := time.Now()
	for _, s := range sortedSessions(sessions) {
		if _, err := stmt.ExecContext(ctx,
			s.UserID, s.StartTime, s.LastClickTime, s.Clicks, s.TokensEarned, s.IsActive,
			nullableTime(s.HourWindowStart), s.HourClicks, now,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy mining session %s: %w", s.UserID, err)
		}
	}

	// 引数なしのExecでCOPYバッファをフラッシュする
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy statement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mining sessions: %w", err)
	}
	return nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresSessionStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// compile-time interface check
var (
	_ SessionStore  = (*PostgresSessionStore)(nil)
	_ HealthChecker = (*PostgresSessionStore)(nil)
)
