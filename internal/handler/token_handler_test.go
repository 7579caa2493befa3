package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blocto/solana-go-sdk/types"

	"github.com/hitoshi/tokenminer/internal/keys"
	"github.com/hitoshi/tokenminer/internal/model"
	"github.com/hitoshi/tokenminer/internal/token"
)

type mockKeyProvider struct {
	acc types.Account
	err error
}

func (m *mockKeyProvider) ResolveSigningKey(context.Context, keys.Role) (types.Account, error) {
	return m.acc, m.err
}

func sampleTokenInfo() *token.Info {
	return &token.Info{
		Name:        "Mining Token",
		Symbol:      "MINE",
		MintAddress: types.NewAccount().PublicKey.ToBase58(),
		Decimals:    9,
	}
}

func TestTokenInfoHandler_ReturnsInfoAndSigner(t *testing.T) {
	signer := types.NewAccount()
	info := sampleTokenInfo()
	h := NewTokenInfoHandler(info, &mockKeyProvider{acc: signer}, nil)

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/api/token-info", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	if body["symbol"] != "MINE" || body["mintAddress"] != info.MintAddress || body["decimals"] != float64(9) {
		t.Errorf("body = %v", body)
	}
	if body["signerPublicKey"] != signer.PublicKey.ToBase58() {
		t.Errorf("signerPublicKey = %v, want %s", body["signerPublicKey"], signer.PublicKey.ToBase58())
	}
}

func TestTokenInfoHandler_KeyFailureOmitsSigner(t *testing.T) {
	h := NewTokenInfoHandler(sampleTokenInfo(), &mockKeyProvider{err: model.ErrKeyNotFound}, nil)

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/api/token-info", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if _, ok := decodeBody(t, w)["signerPublicKey"]; ok {
		t.Error("signerPublicKey should be omitted when key cannot be resolved")
	}
}

func TestTokenInfoHandler_NotInitialized_Returns503(t *testing.T) {
	h := NewTokenInfoHandler(nil, nil, nil)

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/api/token-info", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if body := decodeBody(t, w); body["code"] != model.ErrCodeTokenNotReady {
		t.Errorf("code = %v, want %s", body["code"], model.ErrCodeTokenNotReady)
	}
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Ping(context.Context) error { return m.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checker    *mockHealthChecker
		wantStatus int
	}{
		{"no checker", nil, http.StatusOK},
		{"healthy", &mockHealthChecker{}, http.StatusOK},
		{"unhealthy", &mockHealthChecker{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h *HealthHandler
			if tt.checker == nil {
				h = NewHealthHandler(nil, nil)
			} else {
				h = NewHealthHandler(tt.checker, nil)
			}
			w := httptest.NewRecorder()
			h.Check(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
