package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/hitoshi/tokenminer/internal/database"
)

// NewPostgresSessionStoreが正しく初期化されることを検証
func TestNewPostgresSessionStore_Initializes(t *testing.T) {
	store := NewPostgresSessionStore(nil)
	if store == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestNullableTime(t *testing.T) {
	if v := nullableTime(sampleSessions()["bob"].HourWindowStart); v != nil {
		t.Errorf("zero time should map to nil, got %v", v)
	}
	if v := nullableTime(sampleSessions()["alice"].HourWindowStart); v == nil {
		t.Error("non-zero time should be kept")
	}
}

// TestPostgresSessionStore_RoundTrip はマイグレーション適用済みのDBでSave/Loadが往復することを検証する。
// TEST_DATABASE_URL が未設定、または接続できない場合はスキップする。
func TestPostgresSessionStore_RoundTrip(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}

	ctx := context.Background()
	store := NewPostgresSessionStore(db)

	want := sampleSessions()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	assertSessionsEqual(t, got, want)

	// 削除されたセッションは全件置き換えで消える
	delete(want, "bob")
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	assertSessionsEqual(t, got, want)
}
