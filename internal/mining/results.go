package mining

import (
	"time"

	"github.com/hitoshi/tokenminer/internal/model"
)

// StartResult はStartの結果。
type StartResult struct {
	Accepted     bool   `json:"accepted"`
	TokensEarned int    `json:"tokensEarned"`
	Message      string `json:"message,omitempty"`
}

// ClickResult はClickの結果。
// 業務ルールによる拒否はReasonに理由を設定して返す（errorにはしない）。
type ClickResult struct {
	Accepted     bool               `json:"accepted"`
	TokensEarned int                `json:"tokensEarned"`
	CanClaim     bool               `json:"canClaim"`
	Reason       model.RejectReason `json:"error,omitempty"`
	Message      string             `json:"message,omitempty"`

	// 再試行可能になるまでの待ち時間。クールダウンと時間上限の拒否時のみ設定する。
	RetryAfter time.Duration `json:"-"`
}

// ClaimResult はClaimの結果。
type ClaimResult struct {
	Success             bool   `json:"success"`
	SettlementReference string `json:"settlementReference,omitempty"`
	TokensClaimed       int    `json:"tokensClaimed,omitempty"`
	Code                string `json:"code,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

// Stats はユーザー単位のセッション状態のスナップショット。
type Stats struct {
	IsActive      bool       `json:"isActive"`
	TokensEarned  int        `json:"tokensEarned"`
	Clicks        int        `json:"clicks"`
	CanClaim      bool       `json:"canClaim"`
	StartTime     *time.Time `json:"startTime,omitempty"`
	LastClickTime *time.Time `json:"lastClickTime,omitempty"`
}

// GlobalStats は全セッションの集計値。
type GlobalStats struct {
	TotalTokensEarned int          `json:"totalTokensEarned"`
	TotalClicks       int          `json:"totalClicks"`
	ActiveSessions    int          `json:"activeSessions"`
	TotalSessions     int          `json:"totalSessions"`
	Config            ConfigReport `json:"config"`
}

// ConfigReport は公開用のマイニング設定。
type ConfigReport struct {
	TokensPerClick   int    `json:"tokensPerClick"`
	MaxClicksPerHour int    `json:"maxClicksPerHour"`
	MaxTokensPerDay  int    `json:"maxTokensPerDay"`
	CooldownSeconds  int    `json:"cooldownSeconds"`
	ClaimThreshold   int    `json:"claimThreshold"`
	HourlyLimitMode  string `json:"hourlyLimitMode"`
}

func newConfigReport(cfg model.MiningConfig) ConfigReport {
	return ConfigReport{
		TokensPerClick:   cfg.TokensPerClick,
		MaxClicksPerHour: cfg.MaxClicksPerHour,
		MaxTokensPerDay:  cfg.MaxTokensPerDay,
		CooldownSeconds:  int(cfg.Cooldown / time.Second),
		ClaimThreshold:   cfg.ClaimThreshold,
		HourlyLimitMode:  string(cfg.HourlyLimitMode),
	}
}
