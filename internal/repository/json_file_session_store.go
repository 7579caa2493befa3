package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/hitoshi/tokenminer/internal/model"
)

// JSONFileSessionStore はJSONファイルを使用したセッションストア。
// 書き込みは一時ファイルへの書き出しとrenameによるアトミックな置き換えで行う。
type JSONFileSessionStore struct {
	path string
}

// NewJSONFileSessionStore はJSONFileSessionStoreを生成する。
func NewJSONFileSessionStore(path string) *JSONFileSessionStore {
	return &JSONFileSessionStore{path: path}
}

// Load はファイルから全セッションを読み込む。ファイルが存在しない場合は空のマップを返す。
func (s *JSONFileSessionStore) Load(ctx context.Context) (map[string]*model.MiningSession, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]*model.MiningSession), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	sessions, err := decodeSessions(data)
	if err != nil {
		return nil, fmt.Errorf("session file %s: %w", s.path, err)
	}
	return sessions, nil
}

// Save は全セッションをファイルにアトミックに書き込む。
func (s *JSONFileSessionStore) Save(ctx context.Context, sessions map[string]*model.MiningSession) error {
	data, err := encodeSessions(sessions)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Ping は保存先ディレクトリにアクセスできるかを確認する。
func (s *JSONFileSessionStore) Ping(ctx context.Context) error {
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("session directory is not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("session directory %s is not a directory", filepath.Dir(s.path))
	}
	return nil
}

// compile-time interface check
var (
	_ SessionStore  = (*JSONFileSessionStore)(nil)
	_ HealthChecker = (*JSONFileSessionStore)(nil)
)
