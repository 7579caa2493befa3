// Package keys はオンチェーン精算に使う署名鍵の解決を提供する。
package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/blocto/solana-go-sdk/types"
)

// Role は署名鍵の用途を表す。
type Role string

// RoleWallet はミント権限とトークン保管を兼ねる運営ウォレット。
const RoleWallet Role = "wallet"

// keypairSize はsolana-keygen形式の鍵ペアのバイト長（秘密鍵シード32 + 公開鍵32）。
const keypairSize = 64

// Provider は用途に応じた署名鍵を返す。
// 鍵が存在しない場合は model.ErrKeyNotFound をラップしたエラーを返す。
type Provider interface {
	ResolveSigningKey(ctx context.Context, role Role) (types.Account, error)
}

// decodeKeypair はsolana-keygen形式のJSON配列（[u8;64]）から署名鍵を復元する。
func decodeKeypair(data []byte) (types.Account, error) {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return types.Account{}, fmt.Errorf("unmarshal keypair json: %w", err)
	}
	if len(ints) != keypairSize {
		return types.Account{}, fmt.Errorf("unexpected keypair length: got %d, want %d", len(ints), keypairSize)
	}

	raw := make([]byte, keypairSize)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return types.Account{}, fmt.Errorf("keypair byte %d out of range: %d", i, v)
		}
		raw[i] = byte(v)
	}

	acc, err := types.AccountFromBytes(raw)
	if err != nil {
		return types.Account{}, fmt.Errorf("restore account from keypair: %w", err)
	}
	return acc, nil
}

// CachedProvider は解決済みの鍵をメモリに保持するProvider。
// 失敗した解決結果はキャッシュしない。
type CachedProvider struct {
	next Provider

	mu       sync.Mutex
	accounts map[Role]types.Account
}

// NewCachedProvider はCachedProviderを生成する。
func NewCachedProvider(next Provider) *CachedProvider {
	return &CachedProvider{
		next:     next,
		accounts: make(map[Role]types.Account),
	}
}

// ResolveSigningKey はキャッシュ済みの鍵を返し、未解決の場合は委譲先から取得する。
func (c *CachedProvider) ResolveSigningKey(ctx context.Context, role Role) (types.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if acc, ok := c.accounts[role]; ok {
		return acc, nil
	}

	acc, err := c.next.ResolveSigningKey(ctx, role)
	if err != nil {
		return types.Account{}, err
	}
	c.accounts[role] = acc
	return acc, nil
}

// compile-time interface check
var _ Provider = (*CachedProvider)(nil)
