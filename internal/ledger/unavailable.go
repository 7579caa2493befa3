package ledger

import (
	"context"

	"github.com/hitoshi/tokenminer/internal/model"
)

// UnavailableSettler はトークン情報が無いなど精算できない状態で使うSettler。
// 常に *model.LedgerError を返すため、請求はセッションを変更せずに失敗する。
type UnavailableSettler struct {
	Reason error
}

// SettleTransfer は常に失敗する。
func (u UnavailableSettler) SettleTransfer(context.Context, string, uint64, uint8) (string, error) {
	return "", model.NewLedgerError("resolve mint", u.Reason)
}
