package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/tokenminer/internal/keys"
	"github.com/hitoshi/tokenminer/internal/model"
	"github.com/hitoshi/tokenminer/internal/token"
)

// TokenInfoHandler はトークン情報のHTTPハンドラー。
type TokenInfoHandler struct {
	info   *token.Info
	keys   keys.Provider
	logger *slog.Logger
}

// NewTokenInfoHandler はTokenInfoHandlerを生成する。
// infoがnilの場合はトークン未初期化として応答する。
func NewTokenInfoHandler(info *token.Info, provider keys.Provider, logger *slog.Logger) *TokenInfoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenInfoHandler{info: info, keys: provider, logger: logger}
}

type tokenInfoResponse struct {
	*token.Info
	SignerPublicKey string `json:"signerPublicKey,omitempty"`
}

// Get はトークン情報と精算に使うウォレットの公開鍵を返す。
// GET /api/token-info
func (h *TokenInfoHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.info == nil {
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewTokenNotReadyError())
		return
	}

	resp := tokenInfoResponse{Info: h.info}
	if h.keys != nil {
		acc, err := h.keys.ResolveSigningKey(r.Context(), keys.RoleWallet)
		if err != nil {
			h.logger.Warn("failed to resolve signer public key", slog.String("error", err.Error()))
		} else {
			resp.SignerPublicKey = acc.PublicKey.ToBase58()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
