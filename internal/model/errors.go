// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: mining, validation, ledger, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// RejectReason はマイニング操作が業務ルールにより拒否された理由を表す。
// 想定内の頻出結果であるため、errorではなく結果の一部として返す。
type RejectReason string

// 定義済み拒否理由
const (
	ReasonNoActiveSession     RejectReason = "NO_ACTIVE_SESSION"
	ReasonCooldownActive      RejectReason = "COOLDOWN_ACTIVE"
	ReasonHourlyLimitReached  RejectReason = "HOURLY_LIMIT_REACHED"
	ReasonDailyLimitReached   RejectReason = "DAILY_LIMIT_REACHED"
	ReasonInsufficientBalance RejectReason = "INSUFFICIENT_BALANCE"
)

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeLedgerFailed    = "LEDGER_ERROR"
	ErrCodeTokenNotReady   = "TOKEN_NOT_INITIALIZED"
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeRateLimitExceed = "RATE_LIMIT_EXCEEDED"
)

var (
	// ErrStorageCorrupt はセッションストアの内容が不正な場合のエラー。
	// セッションの整合性を保証できないため、起動時には致命的エラーとして扱う。
	ErrStorageCorrupt = errors.New("session storage is corrupt")

	// ErrKeyNotFound は署名鍵が見つからない場合のエラー。
	ErrKeyNotFound = errors.New("signing key not found")
)

// LedgerError はオンチェーン精算の失敗を表す。
// 失敗時はセッションを変更しないため、呼び出し側は安全に再試行できる。
type LedgerError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError はLedgerErrorを生成する。
func NewLedgerError(op string, err error) *LedgerError {
	return &LedgerError{Op: op, Err: err}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "userId または walletAddress を指定してください。",
	}
}

// NewRejectError はマイニング操作の拒否理由をAPIErrorに変換する。
func NewRejectError(reason RejectReason, message string) *APIError {
	apiErr := &APIError{
		Code:     string(reason),
		Message:  message,
		Category: "mining",
	}
	switch reason {
	case ReasonNoActiveSession:
		apiErr.Action = "先にマイニングを開始してください。"
	case ReasonCooldownActive:
		apiErr.Action = "指定された秒数を待ってから再度クリックしてください。"
	case ReasonHourlyLimitReached:
		apiErr.Action = "1時間あたりの上限に達しました。しばらく待ってから再開してください。"
	case ReasonDailyLimitReached:
		apiErr.Action = "本日の上限に達しました。獲得済みのトークンは請求できます。"
	case ReasonInsufficientBalance:
		apiErr.Action = "請求に必要なトークン数に達するまでマイニングを続けてください。"
	}
	return apiErr
}

// NewLedgerFailedError は精算失敗エラーを生成する。
func NewLedgerFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeLedgerFailed,
		Message:  fmt.Sprintf("トークンの送付に失敗しました: %s", reason),
		Category: "ledger",
		Action:   "獲得済みトークンは保持されています。しばらく待ってから再度請求してください。",
	}
}

// NewTokenNotReadyError はトークン情報が未設定の場合のエラーを生成する。
func NewTokenNotReadyError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenNotReady,
		Message:  "トークンが初期化されていません。",
		Category: "system",
		Action:   "token-info.json を作成してからサーバーを再起動してください。",
	}
}
