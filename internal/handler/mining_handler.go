package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tokenminer/internal/middleware"
	"github.com/hitoshi/tokenminer/internal/mining"
	"github.com/hitoshi/tokenminer/internal/model"
)

// MiningServiceInterface はマイニングハンドラーが必要とするサービスインターフェース。
// *mining.Engine が実装する。
type MiningServiceInterface interface {
	Start(ctx context.Context, userID string) (mining.StartResult, error)
	Click(ctx context.Context, userID string) (mining.ClickResult, error)
	Claim(ctx context.Context, userID, settlementAddress string) (mining.ClaimResult, error)
	Stats(userID string) mining.Stats
	GlobalStats() mining.GlobalStats
}

// DefaultClaimTimeout は請求1件あたりの精算タイムアウトのデフォルト値。
const DefaultClaimTimeout = 30 * time.Second

// MiningHandler はマイニング操作のHTTPハンドラー。
type MiningHandler struct {
	service      MiningServiceInterface
	claimTimeout time.Duration
	logger       *slog.Logger
}

// NewMiningHandler はMiningHandlerを生成する。
func NewMiningHandler(service MiningServiceInterface, claimTimeout time.Duration, logger *slog.Logger) *MiningHandler {
	if claimTimeout <= 0 {
		claimTimeout = DefaultClaimTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MiningHandler{
		service:      service,
		claimTimeout: claimTimeout,
		logger:       logger,
	}
}

// miningRequest はマイニング操作リクエストのボディ。
// userIdを省略した場合はwalletAddressをユーザーIDとして使う。
type miningRequest struct {
	UserID        string `json:"userId"`
	WalletAddress string `json:"walletAddress"`
}

// clickResponse はクリック結果に対処方法を加えたレスポンス。
type clickResponse struct {
	mining.ClickResult
	Action string `json:"action,omitempty"`
}

// claimResponse は請求結果に対処方法を加えたレスポンス。
type claimResponse struct {
	mining.ClaimResult
	Action string `json:"action,omitempty"`
}

// decodeMiningRequest はリクエストボディを解析し、ユーザーIDと精算先アドレスを返す。
func decodeMiningRequest(w http.ResponseWriter, r *http.Request) (userID, destination string, apiErr *model.APIError) {
	var req miningRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", "", model.NewInvalidRequestError("JSONの解析に失敗しました")
	}

	userID = strings.TrimSpace(req.UserID)
	wallet := strings.TrimSpace(req.WalletAddress)
	if userID == "" {
		userID = wallet
	}
	if userID == "" {
		return "", "", model.NewInvalidRequestError("userId と walletAddress が空です")
	}

	destination = wallet
	if destination == "" {
		destination = userID
	}
	return userID, destination, nil
}

// Start はマイニングセッションを開始する。
// POST /api/mining/start
func (h *MiningHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, _, apiErr := decodeMiningRequest(w, r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.Start(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, "start", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Click はクリック1回分のトークンを付与する。
// POST /api/mining/click
func (h *MiningHandler) Click(w http.ResponseWriter, r *http.Request) {
	userID, _, apiErr := decodeMiningRequest(w, r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.Click(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, "click", err)
		return
	}

	if result.Accepted {
		writeJSON(w, http.StatusOK, clickResponse{ClickResult: result})
		return
	}

	resp := clickResponse{
		ClickResult: result,
		Action:      model.NewRejectError(result.Reason, result.Message).Action,
	}
	switch result.Reason {
	case model.ReasonCooldownActive, model.ReasonHourlyLimitReached, model.ReasonDailyLimitReached:
		setRetryAfter(w, result.RetryAfter)
		writeJSON(w, http.StatusTooManyRequests, resp)
	default:
		writeJSON(w, http.StatusBadRequest, resp)
	}
}

// Claim は獲得済みトークンを精算する。
// POST /api/mining/claim
func (h *MiningHandler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, destination, apiErr := decodeMiningRequest(w, r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.claimTimeout)
	defer cancel()

	result, err := h.service.Claim(ctx, userID, destination)

	var ledgerErr *model.LedgerError
	switch {
	case result.Success:
		if err != nil {
			// 精算は完了しているため成功として応答する
			h.logger.Error("claim settled but not persisted",
				slog.String("user_id", userID),
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, http.StatusOK, claimResponse{ClaimResult: result})
	case errors.As(err, &ledgerErr):
		writeJSON(w, http.StatusBadGateway, claimResponse{
			ClaimResult: result,
			Action:      model.NewLedgerFailedError(ledgerErr.Op).Action,
		})
	case err != nil:
		h.internalError(w, r, "claim", err)
	default:
		writeJSON(w, http.StatusBadRequest, claimResponse{
			ClaimResult: result,
			Action:      model.NewRejectError(model.RejectReason(result.Code), result.Reason).Action,
		})
	}
}

// Stats はユーザーのセッション状態を返す。
// GET /api/mining/stats/{userId}
func (h *MiningHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("userId が空です"))
		return
	}
	writeJSON(w, http.StatusOK, h.service.Stats(userID))
}

// GlobalStats は全セッションの集計値を返す。
// GET /api/mining/global
func (h *MiningHandler) GlobalStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GlobalStats())
}

func (h *MiningHandler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("mining operation failed",
		slog.String("op", op),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// setRetryAfter は待ち時間を秒単位に切り上げてRetry-Afterヘッダーに設定する。
func setRetryAfter(w http.ResponseWriter, wait time.Duration) {
	sec := int(math.Ceil(wait.Seconds()))
	if sec < 1 {
		sec = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(sec))
}

// compile-time interface check
var _ MiningServiceInterface = (*mining.Engine)(nil)
