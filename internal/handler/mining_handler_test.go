package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tokenminer/internal/mining"
	"github.com/hitoshi/tokenminer/internal/model"
)

// --- テスト用モック ---

type mockMiningService struct {
	startFn       func(ctx context.Context, userID string) (mining.StartResult, error)
	clickFn       func(ctx context.Context, userID string) (mining.ClickResult, error)
	claimFn       func(ctx context.Context, userID, addr string) (mining.ClaimResult, error)
	statsFn       func(userID string) mining.Stats
	globalStatsFn func() mining.GlobalStats
}

func (m *mockMiningService) Start(ctx context.Context, userID string) (mining.StartResult, error) {
	if m.startFn != nil {
		return m.startFn(ctx, userID)
	}
	return mining.StartResult{Accepted: true}, nil
}

func (m *mockMiningService) Click(ctx context.Context, userID string) (mining.ClickResult, error) {
	if m.clickFn != nil {
		return m.clickFn(ctx, userID)
	}
	return mining.ClickResult{Accepted: true, TokensEarned: 1}, nil
}

func (m *mockMiningService) Claim(ctx context.Context, userID, addr string) (mining.ClaimResult, error) {
	if m.claimFn != nil {
		return m.claimFn(ctx, userID, addr)
	}
	return mining.ClaimResult{Success: true}, nil
}

func (m *mockMiningService) Stats(userID string) mining.Stats {
	if m.statsFn != nil {
		return m.statsFn(userID)
	}
	return mining.Stats{}
}

func (m *mockMiningService) GlobalStats() mining.GlobalStats {
	if m.globalStatsFn != nil {
		return m.globalStatsFn()
	}
	return mining.GlobalStats{}
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

// --- Start ---

func TestMiningHandler_Start_UsesWalletAddressAsUserID(t *testing.T) {
	var gotUser string
	svc := &mockMiningService{
		startFn: func(_ context.Context, userID string) (mining.StartResult, error) {
			gotUser = userID
			return mining.StartResult{Accepted: true, Message: "ok"}, nil
		},
	}
	h := NewMiningHandler(svc, 0, nil)

	w := postJSON(t, h.Start, `{"walletAddress":"  wallet-1 "}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUser != "wallet-1" {
		t.Errorf("userID = %q, want %q", gotUser, "wallet-1")
	}
	if body := decodeBody(t, w); body["accepted"] != true {
		t.Errorf("accepted = %v, want true", body["accepted"])
	}
}

func TestMiningHandler_Start_MissingIdentity_Returns400(t *testing.T) {
	h := NewMiningHandler(&mockMiningService{}, 0, nil)

	for _, body := range []string{``, `{}`, `{"userId":"   "}`, `{bad json`} {
		w := postJSON(t, h.Start, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
}

func TestMiningHandler_Start_StoreFailure_Returns500(t *testing.T) {
	svc := &mockMiningService{
		startFn: func(context.Context, string) (mining.StartResult, error) {
			return mining.StartResult{}, errors.New("disk full")
		},
	}
	h := NewMiningHandler(svc, 0, nil)

	w := postJSON(t, h.Start, `{"userId":"alice"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := decodeBody(t, w); body["code"] != model.ErrCodeInternal {
		t.Errorf("code = %v, want %s", body["code"], model.ErrCodeInternal)
	}
}

// --- Click ---

func TestMiningHandler_Click_Accepted(t *testing.T) {
	h := NewMiningHandler(&mockMiningService{}, 0, nil)

	w := postJSON(t, h.Click, `{"userId":"alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	if body["tokensEarned"] != float64(1) {
		t.Errorf("tokensEarned = %v, want 1", body["tokensEarned"])
	}
	if _, ok := body["error"]; ok {
		t.Error("accepted click must not carry error field")
	}
}

func TestMiningHandler_Click_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		result     mining.ClickResult
		wantStatus int
		retryAfter string
	}{
		{
			name:       "cooldown",
			result:     mining.ClickResult{Reason: model.ReasonCooldownActive, RetryAfter: 1200 * time.Millisecond, TokensEarned: 3},
			wantStatus: http.StatusTooManyRequests,
			retryAfter: "2",
		},
		{
			name:       "hourly",
			result:     mining.ClickResult{Reason: model.ReasonHourlyLimitReached, RetryAfter: 30 * time.Minute},
			wantStatus: http.StatusTooManyRequests,
			retryAfter: "1800",
		},
		{
			name:       "daily",
			result:     mining.ClickResult{Reason: model.ReasonDailyLimitReached, CanClaim: true},
			wantStatus: http.StatusTooManyRequests,
			retryAfter: "1",
		},
		{
			name:       "no session",
			result:     mining.ClickResult{Reason: model.ReasonNoActiveSession},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockMiningService{
				clickFn: func(context.Context, string) (mining.ClickResult, error) {
					return tt.result, nil
				},
			}
			h := NewMiningHandler(svc, 0, nil)

			w := postJSON(t, h.Click, `{"userId":"alice"}`)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
			body := decodeBody(t, w)
			if body["error"] != string(tt.result.Reason) {
				t.Errorf("error = %v, want %s", body["error"], tt.result.Reason)
			}
			if action, _ := body["action"].(string); action == "" {
				t.Error("expected action in rejection response")
			}
			if body["accepted"] != false {
				t.Errorf("accepted = %v, want false", body["accepted"])
			}
		})
	}
}

// --- Claim ---

func TestMiningHandler_Claim_DestinationDefaultsToUserID(t *testing.T) {
	var gotUser, gotAddr string
	var hasDeadline bool
	svc := &mockMiningService{
		claimFn: func(ctx context.Context, userID, addr string) (mining.ClaimResult, error) {
			gotUser, gotAddr = userID, addr
			_, hasDeadline = ctx.Deadline()
			return mining.ClaimResult{Success: true, SettlementReference: "sig-1", TokensClaimed: 10}, nil
		},
	}
	h := NewMiningHandler(svc, 5*time.Second, nil)

	w := postJSON(t, h.Claim, `{"userId":"wallet-9"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUser != "wallet-9" || gotAddr != "wallet-9" {
		t.Errorf("user/addr = %q/%q, want wallet-9/wallet-9", gotUser, gotAddr)
	}
	if !hasDeadline {
		t.Error("claim context should carry a settlement deadline")
	}
	body := decodeBody(t, w)
	if body["success"] != true || body["settlementReference"] != "sig-1" || body["tokensClaimed"] != float64(10) {
		t.Errorf("body = %v", body)
	}
}

func TestMiningHandler_Claim_SeparateWalletAddress(t *testing.T) {
	var gotUser, gotAddr string
	svc := &mockMiningService{
		claimFn: func(_ context.Context, userID, addr string) (mining.ClaimResult, error) {
			gotUser, gotAddr = userID, addr
			return mining.ClaimResult{Success: true}, nil
		},
	}
	h := NewMiningHandler(svc, 0, nil)

	postJSON(t, h.Claim, `{"userId":"alice","walletAddress":"wallet-a"}`)
	if gotUser != "alice" || gotAddr != "wallet-a" {
		t.Errorf("user/addr = %q/%q, want alice/wallet-a", gotUser, gotAddr)
	}
}

func TestMiningHandler_Claim_InsufficientBalance_Returns400(t *testing.T) {
	svc := &mockMiningService{
		claimFn: func(context.Context, string, string) (mining.ClaimResult, error) {
			return mining.ClaimResult{Code: string(model.ReasonInsufficientBalance), Reason: "need 10"}, nil
		},
	}
	h := NewMiningHandler(svc, 0, nil)

	w := postJSON(t, h.Claim, `{"userId":"alice"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := decodeBody(t, w)
	if body["success"] != false || body["code"] != string(model.ReasonInsufficientBalance) {
		t.Errorf("body = %v", body)
	}
}

func TestMiningHandler_Claim_LedgerFailure_Returns502(t *testing.T) {
	svc := &mockMiningService{
		claimFn: func(context.Context, string, string) (mining.ClaimResult, error) {
			err := model.NewLedgerError("send transaction", errors.New("blockhash not found"))
			return mining.ClaimResult{Code: model.ErrCodeLedgerFailed, Reason: err.Error()}, err
		},
	}
	h := NewMiningHandler(svc, 0, nil)

	w := postJSON(t, h.Claim, `{"userId":"alice"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	body := decodeBody(t, w)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if reason, _ := body["reason"].(string); !strings.Contains(reason, "blockhash not found") {
		t.Errorf("reason = %q", reason)
	}
}

func TestMiningHandler_Claim_SettledButNotPersisted_Returns200(t *testing.T) {
	svc := &mockMiningService{
		claimFn: func(context.Context, string, string) (mining.ClaimResult, error) {
			return mining.ClaimResult{Success: true, SettlementReference: "sig-2", TokensClaimed: 12}, errors.New("save failed")
		},
	}
	h := NewMiningHandler(svc, 0, nil)

	w := postJSON(t, h.Claim, `{"userId":"alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestMiningHandler_Claim_UnexpectedError_Returns500(t *testing.T) {
	svc := &mockMiningService{
		claimFn: func(context.Context, string, string) (mining.ClaimResult, error) {
			return mining.ClaimResult{}, errors.New("boom")
		},
	}
	h := NewMiningHandler(svc, 0, nil)

	if w := postJSON(t, h.Claim, `{"userId":"alice"}`); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// --- Stats ---

func TestMiningHandler_Stats(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &mockMiningService{
		statsFn: func(userID string) mining.Stats {
			if userID != "alice" {
				return mining.Stats{}
			}
			return mining.Stats{IsActive: true, TokensEarned: 12, Clicks: 12, CanClaim: true, StartTime: &start}
		},
	}
	h := NewMiningHandler(svc, 0, nil)

	r := chi.NewRouter()
	r.Get("/api/mining/stats/{userId}", h.Stats)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/mining/stats/alice", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	if body["tokensEarned"] != float64(12) || body["canClaim"] != true || body["isActive"] != true {
		t.Errorf("body = %v", body)
	}
	if body["startTime"] != "2026-01-02T03:04:05Z" {
		t.Errorf("startTime = %v", body["startTime"])
	}
}

func TestMiningHandler_GlobalStats(t *testing.T) {
	svc := &mockMiningService{
		globalStatsFn: func() mining.GlobalStats {
			return mining.GlobalStats{
				TotalTokensEarned: 30,
				TotalClicks:       30,
				ActiveSessions:    2,
				TotalSessions:     3,
				Config:            mining.ConfigReport{TokensPerClick: 1, CooldownSeconds: 3},
			}
		},
	}
	h := NewMiningHandler(svc, 0, nil)

	w := httptest.NewRecorder()
	h.GlobalStats(w, httptest.NewRequest(http.MethodGet, "/api/mining/global", nil))

	body := decodeBody(t, w)
	if body["totalSessions"] != float64(3) || body["activeSessions"] != float64(2) {
		t.Errorf("body = %v", body)
	}
	cfg, ok := body["config"].(map[string]interface{})
	if !ok || cfg["cooldownSeconds"] != float64(3) {
		t.Errorf("config = %v", body["config"])
	}
}
