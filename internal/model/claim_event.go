package model

import "time"

// ClaimEvent は請求（オンチェーン精算）が成功したことを表すイベント。
// 外部システムへの通知用であり、セッション状態の正とはならない。
type ClaimEvent struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	Destination         string    `json:"destination"`
	Tokens              int       `json:"tokens"`
	Decimals            uint8     `json:"decimals"`
	SettlementReference string    `json:"settlementReference"`
	ClaimedAt           time.Time `json:"claimedAt"`
}
