// Package ledger はSolana上のSPLトークンによる請求の精算を提供する。
package ledger

import (
	"fmt"
	"math/bits"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/mr-tron/base58"
)

// maxDecimals はuint64で10^decimalsを表現できる最大桁数。
const maxDecimals = 19

// ToBaseUnits は整数トークン数を基本単位（whole * 10^decimals）に変換する。
// 結果がuint64に収まらない場合はエラーを返す。
func ToBaseUnits(whole uint64, decimals uint8) (uint64, error) {
	if decimals > maxDecimals {
		return 0, fmt.Errorf("decimals %d exceeds maximum %d", decimals, maxDecimals)
	}

	scale := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		scale *= 10
	}

	hi, lo := bits.Mul64(whole, scale)
	if hi != 0 {
		return 0, fmt.Errorf("amount %d with %d decimals overflows uint64", whole, decimals)
	}
	return lo, nil
}

// ParseAddress はbase58形式のアカウントアドレスを検証して公開鍵に変換する。
func ParseAddress(address string) (common.PublicKey, error) {
	if address == "" {
		return common.PublicKey{}, fmt.Errorf("address is empty")
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return common.PublicKey{}, fmt.Errorf("address %q is not valid base58: %w", address, err)
	}
	if len(raw) != common.PublicKeyLength {
		return common.PublicKey{}, fmt.Errorf("address %q decodes to %d bytes, want %d", address, len(raw), common.PublicKeyLength)
	}
	return common.PublicKeyFromBytes(raw), nil
}

// maskAddress はログ出力用にアドレスの先頭と末尾のみを残す。
func maskAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:4] + "..." + address[len(address)-4:]
}
