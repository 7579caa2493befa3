// Package token はミント済みトークンの情報（token-info.json）を扱う。
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/mr-tron/base58"
)

// DefaultInfoPath はトークン情報ファイルのデフォルトパス。
const DefaultInfoPath = "token-info.json"

// ErrInfoNotFound はトークン情報ファイルが存在しない場合のエラー。
var ErrInfoNotFound = errors.New("token info not found")

// Info はトークン作成時に出力されるトークン情報。
type Info struct {
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	MintAddress     string `json:"mintAddress"`
	Decimals        uint8  `json:"decimals"`
	InitialSupply   uint64 `json:"initialSupply,omitempty"`
	MintAuthority   string `json:"mintAuthority,omitempty"`
	FreezeAuthority string `json:"freezeAuthority,omitempty"`
	MetadataURI     string `json:"metadataUri,omitempty"`
	Description     string `json:"description,omitempty"`
	Image           string `json:"image,omitempty"`
}

// Validate は必須項目とミントアドレスの形式を検証する。
func (i *Info) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("symbol is empty")
	}
	raw, err := base58.Decode(i.MintAddress)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("mintAddress %q is not a valid public key", i.MintAddress)
	}
	if i.Decimals > 19 {
		return fmt.Errorf("decimals %d is out of range", i.Decimals)
	}
	return nil
}

// LoadInfo はトークン情報ファイルを読み込んで検証する。
// ファイルが存在しない場合は ErrInfoNotFound をラップしたエラーを返す。
func LoadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrInfoNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token info %s: %w", path, err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse token info %s: %w", path, err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token info %s: %w", path, err)
	}
	return &info, nil
}
