// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// HourlyLimitMode は1時間あたりのクリック上限の判定方式を表す。
type HourlyLimitMode string

const (
	// HourlyLimitWindow は最初のクリックを起点とする1時間の固定ウィンドウで上限を判定する。
	HourlyLimitWindow HourlyLimitMode = "window"
	// HourlyLimitLegacy は clicks % maxClicksPerHour による旧方式で判定する。
	// 剰余は常に上限未満になるため、この方式では上限に達することはない。
	HourlyLimitLegacy HourlyLimitMode = "legacy"
)

// DefaultSessionTTL はマイニングセッションの有効期間。
// startTimeからこの期間を過ぎたセッションは新しいセッションに置き換えられる。
const DefaultSessionTTL = 24 * time.Hour

// MiningSession はユーザーごとのマイニング状態を表す。
// UserIDはウォレットアドレスまたは任意のユーザー識別子。
type MiningSession struct {
	UserID        string
	StartTime     time.Time
	LastClickTime time.Time
	Clicks        int
	TokensEarned  int
	IsActive      bool

	// 固定ウィンドウ方式の時間上限判定に使う。claimではリセットしない。
	HourWindowStart time.Time
	HourClicks      int
}

// NewMiningSession は指定時刻を起点とする新しいアクティブセッションを生成する。
func NewMiningSession(userID string, now time.Time) *MiningSession {
	return &MiningSession{
		UserID:        userID,
		StartTime:     now,
		LastClickTime: now,
		IsActive:      true,
	}
}

// Clone はセッションのコピーを返す。
func (s *MiningSession) Clone() *MiningSession {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// IsExpired はセッションがttlを超えて経過しているかを返す。
func (s *MiningSession) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.StartTime) >= ttl
}

// Validate は永続化データとして整合しているかを検証する。
func (s *MiningSession) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("userId is empty")
	}
	if s.StartTime.IsZero() {
		return fmt.Errorf("session %s: startTime is missing", s.UserID)
	}
	if s.LastClickTime.IsZero() {
		return fmt.Errorf("session %s: lastClickTime is missing", s.UserID)
	}
	if s.LastClickTime.Before(s.StartTime) {
		return fmt.Errorf("session %s: lastClickTime is before startTime", s.UserID)
	}
	if s.Clicks < 0 || s.TokensEarned < 0 || s.HourClicks < 0 {
		return fmt.Errorf("session %s: negative counter", s.UserID)
	}
	return nil
}

// MiningConfig はマイニングの報酬と制限の設定を表す。
// エンジン生成時に固定され、実行中に変更されない。
type MiningConfig struct {
	TokensPerClick   int
	MaxClicksPerHour int
	MaxTokensPerDay  int
	Cooldown         time.Duration
	ClaimThreshold   int
	HourlyLimitMode  HourlyLimitMode
	SessionTTL       time.Duration
}

// DefaultMiningConfig はデフォルトのマイニング設定を返す。
// 1クリック1トークン、1時間100クリック、1日1000トークン、クールダウン3秒、10トークンから請求可能。
func DefaultMiningConfig() MiningConfig {
	return MiningConfig{
		TokensPerClick:   1,
		MaxClicksPerHour: 100,
		MaxTokensPerDay:  1000,
		Cooldown:         3 * time.Second,
		ClaimThreshold:   10,
		HourlyLimitMode:  HourlyLimitWindow,
		SessionTTL:       DefaultSessionTTL,
	}
}

// Validate は設定値の妥当性を検証する。
func (c MiningConfig) Validate() error {
	switch {
	case c.TokensPerClick <= 0:
		return fmt.Errorf("tokensPerClick must be positive: %d", c.TokensPerClick)
	case c.MaxClicksPerHour <= 0:
		return fmt.Errorf("maxClicksPerHour must be positive: %d", c.MaxClicksPerHour)
	case c.MaxTokensPerDay <= 0:
		return fmt.Errorf("maxTokensPerDay must be positive: %d", c.MaxTokensPerDay)
	case c.Cooldown < 0:
		return fmt.Errorf("cooldown must not be negative: %s", c.Cooldown)
	case c.ClaimThreshold <= 0:
		return fmt.Errorf("claimThreshold must be positive: %d", c.ClaimThreshold)
	case c.MaxTokensPerDay < c.ClaimThreshold:
		return fmt.Errorf("maxTokensPerDay (%d) must be >= claimThreshold (%d)", c.MaxTokensPerDay, c.ClaimThreshold)
	case c.MaxTokensPerDay%c.TokensPerClick != 0:
		// 割り切れない場合、上限直前でクリックが加算されると上限を超えてしまう
		return fmt.Errorf("maxTokensPerDay (%d) must be a multiple of tokensPerClick (%d)", c.MaxTokensPerDay, c.TokensPerClick)
	case c.SessionTTL <= 0:
		return fmt.Errorf("sessionTTL must be positive: %s", c.SessionTTL)
	}
	switch c.HourlyLimitMode {
	case HourlyLimitWindow, HourlyLimitLegacy:
	default:
		return fmt.Errorf("unknown hourly limit mode: %q", c.HourlyLimitMode)
	}
	return nil
}
