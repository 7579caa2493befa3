package keys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/blocto/solana-go-sdk/types"

	"github.com/hitoshi/tokenminer/internal/model"
)

// DefaultKeypairDir は鍵ファイルを置くディレクトリのデフォルト値。
const DefaultKeypairDir = "keypairs"

// FileProvider は <dir>/<role>.json から鍵を読み込むProvider。
type FileProvider struct {
	dir string
}

// NewFileProvider はFileProviderを生成する。dirが空の場合はデフォルトディレクトリを使用する。
func NewFileProvider(dir string) *FileProvider {
	if dir == "" {
		dir = DefaultKeypairDir
	}
	return &FileProvider{dir: dir}
}

// Path はroleに対応する鍵ファイルのパスを返す。
func (p *FileProvider) Path(role Role) string {
	return filepath.Join(p.dir, string(role)+".json")
}

// ResolveSigningKey は鍵ファイルを読み込んで署名鍵を返す。
func (p *FileProvider) ResolveSigningKey(_ context.Context, role Role) (types.Account, error) {
	path := p.Path(role)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.Account{}, fmt.Errorf("%w: role=%s path=%s", model.ErrKeyNotFound, role, path)
	}
	if err != nil {
		return types.Account{}, fmt.Errorf("failed to read keypair file %s: %w", path, err)
	}

	acc, err := decodeKeypair(data)
	if err != nil {
		return types.Account{}, fmt.Errorf("keypair file %s: %w", path, err)
	}
	return acc, nil
}

// compile-time interface check
var _ Provider = (*FileProvider)(nil)
