package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/associated_token_account"
	"github.com/blocto/solana-go-sdk/program/token"
	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/sony/gobreaker"

	"github.com/hitoshi/tokenminer/internal/keys"
	"github.com/hitoshi/tokenminer/internal/metrics"
	"github.com/hitoshi/tokenminer/internal/model"
)

// DefaultRPCURL はSolana RPCエンドポイントのデフォルト値（devnet）。
const DefaultRPCURL = "https://api.devnet.solana.com"

const (
	// DefaultConfirmTimeout は送信済みトランザクションの確定を待つ時間のデフォルト値。
	// ブロックハッシュの有効期間（約150ブロック）より長くする。
	DefaultConfirmTimeout = 90 * time.Second
	// DefaultConfirmPollInterval は署名の状態を確認する間隔のデフォルト値。
	DefaultConfirmPollInterval = 500 * time.Millisecond
)

var (
	// ErrTransactionExpired はトランザクションが取り込まれないままブロックハッシュが失効したことを表す。
	ErrTransactionExpired = errors.New("transaction expired before confirmation")
	// ErrConfirmationTimeout は確定待ちの時間内に結果が判明しなかったことを表す。
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
)

// Mode は精算方式を表す。
type Mode string

const (
	// ModeMint はミント権限で請求先へ新規発行する。
	ModeMint Mode = "mint"
	// ModeTransfer は運営ウォレットが保有するトークンを請求先へ送付する。
	ModeTransfer Mode = "transfer"
)

// ParseMode は文字列から精算方式を返す。
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMint:
		return ModeMint, nil
	case ModeTransfer:
		return ModeTransfer, nil
	default:
		return "", fmt.Errorf("unknown settlement mode: %q", s)
	}
}

// RPCClient はSolana RPCクライアントのうち精算に使う操作。
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context) (rpc.GetLatestBlockhashValue, error)
	GetAccountInfo(ctx context.Context, base58Addr string) (client.AccountInfo, error)
	SendTransaction(ctx context.Context, tx types.Transaction) (string, error)
	GetSignatureStatus(ctx context.Context, signature string) (*rpc.SignatureStatus, error)
	IsBlockhashValid(ctx context.Context, blockhash string) (bool, error)
}

// SettlerConfig はSolanaSettlerの設定を保持する。
type SettlerConfig struct {
	MintAddress        string
	Mode               Mode
	BreakerMaxFailures uint32        // 連続失敗がこの回数に達すると回路を開く
	BreakerTimeout     time.Duration // 回路を開いてから半開に移るまでの時間

	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
}

// SolanaSettler はSPLトークンのミントまたは送付で請求を精算する。
type SolanaSettler struct {
	rpc     RPCClient
	keys    keys.Provider
	mint    common.PublicKey
	mode    Mode
	breaker *gobreaker.CircuitBreaker
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// NewSolanaSettler はSolanaSettlerを生成する。
func NewSolanaSettler(rpcClient RPCClient, provider keys.Provider, cfg SettlerConfig, collector metrics.MetricsCollector, logger *slog.Logger) (*SolanaSettler, error) {
	mint, err := ParseAddress(cfg.MintAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}
	if cfg.Mode != ModeMint && cfg.Mode != ModeTransfer {
		return nil, fmt.Errorf("unknown settlement mode: %q", cfg.Mode)
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	pollInterval := cfg.ConfirmPollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultConfirmPollInterval
	}

	s := &SolanaSettler{
		rpc:            rpcClient,
		keys:           provider,
		mint:           mint,
		mode:           cfg.Mode,
		metrics:        collector,
		logger:         logger,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "solana-settlement",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return s, nil
}

// NewRPCClient はエンドポイントURLからSolana RPCクライアントを生成する。
func NewRPCClient(endpoint string) *client.Client {
	if endpoint == "" {
		endpoint = DefaultRPCURL
	}
	return client.NewClient(endpoint)
}

// SettleTransfer はwholeTokens分のトークンをdestinationのトークンアカウントへ精算し、
// トランザクションがconfirmedになった時点でその署名を返す。失敗時は必ず *model.LedgerError を返す。
func (s *SolanaSettler) SettleTransfer(ctx context.Context, destination string, wholeTokens uint64, decimals uint8) (string, error) {
	start := time.Now()
	sig, err := s.settle(ctx, destination, wholeTokens, decimals)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.RecordSettlement(outcome, time.Since(start))

	return sig, err
}

func (s *SolanaSettler) settle(ctx context.Context, destination string, wholeTokens uint64, decimals uint8) (string, error) {
	owner, err := ParseAddress(destination)
	if err != nil {
		return "", model.NewLedgerError("validate destination", err)
	}
	if wholeTokens == 0 {
		return "", model.NewLedgerError("convert amount", errors.New("amount must be positive"))
	}
	amount, err := ToBaseUnits(wholeTokens, decimals)
	if err != nil {
		return "", model.NewLedgerError("convert amount", err)
	}

	signer, err := s.keys.ResolveSigningKey(ctx, keys.RoleWallet)
	if err != nil {
		return "", model.NewLedgerError("resolve signer", err)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.submit(ctx, signer, owner, amount, decimals)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", model.NewLedgerError("submit", fmt.Errorf("settlement temporarily unavailable: %w", err))
	}
	if err != nil {
		var ledgerErr *model.LedgerError
		if errors.As(err, &ledgerErr) {
			return "", ledgerErr
		}
		return "", model.NewLedgerError("submit", err)
	}

	sig := result.(string)
	s.logger.Info("settlement confirmed",
		slog.String("mode", string(s.mode)),
		slog.String("destination", maskAddress(destination)),
		slog.Uint64("whole_tokens", wholeTokens),
		slog.String("signature", maskAddress(sig)),
	)
	return sig, nil
}

// submit は精算トランザクションを組み立てて送信し、確定を待つ。
// 請求先の関連トークンアカウントが存在しない場合は同一トランザクション内で作成する（手数料は運営ウォレット負担）。
func (s *SolanaSettler) submit(ctx context.Context, signer types.Account, owner common.PublicKey, amount uint64, decimals uint8) (string, error) {
	destATA, _, err := common.FindAssociatedTokenAddress(owner, s.mint)
	if err != nil {
		return "", model.NewLedgerError("derive destination account", err)
	}

	exists, err := s.accountExists(ctx, destATA.ToBase58())
	if err != nil {
		return "", model.NewLedgerError("check destination account", err)
	}

	instructions := make([]types.Instruction, 0, 2)
	if !exists {
		instructions = append(instructions, associated_token_account.CreateAssociatedTokenAccount(
			associated_token_account.CreateAssociatedTokenAccountParam{
				Funder:                 signer.PublicKey,
				Owner:                  owner,
				Mint:                   s.mint,
				AssociatedTokenAccount: destATA,
			},
		))
		s.logger.Info("creating destination token account",
			slog.String("owner", maskAddress(owner.ToBase58())),
			slog.String("account", maskAddress(destATA.ToBase58())),
		)
	}

	switch s.mode {
	case ModeTransfer:
		sourceATA, _, err := common.FindAssociatedTokenAddress(signer.PublicKey, s.mint)
		if err != nil {
			return "", model.NewLedgerError("derive source account", err)
		}
		instructions = append(instructions, token.TransferChecked(token.TransferCheckedParam{
			From:     sourceATA,
			To:       destATA,
			Mint:     s.mint,
			Auth:     signer.PublicKey,
			Signers:  []common.PublicKey{},
			Amount:   amount,
			Decimals: decimals,
		}))
	default:
		instructions = append(instructions, token.MintToChecked(token.MintToCheckedParam{
			Mint:     s.mint,
			Auth:     signer.PublicKey,
			Signers:  []common.PublicKey{},
			To:       destATA,
			Amount:   amount,
			Decimals: decimals,
		}))
	}

	latest, err := s.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", model.NewLedgerError("get latest blockhash", err)
	}

	tx, err := types.NewTransaction(types.NewTransactionParam{
		Message: types.NewMessage(types.NewMessageParam{
			FeePayer:        signer.PublicKey,
			RecentBlockhash: latest.Blockhash,
			Instructions:    instructions,
		}),
		Signers: []types.Account{signer},
	})
	if err != nil {
		return "", model.NewLedgerError("build transaction", err)
	}

	sig, err := s.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return "", model.NewLedgerError("send transaction", err)
	}

	if err := s.confirm(ctx, sig, latest.Blockhash); err != nil {
		return "", err
	}
	return sig, nil
}

// confirm は送信済みトランザクションがconfirmed以上になるまで署名の状態を確認する。
// オンチェーンで失敗した場合と、取り込まれないままブロックハッシュが失効した場合にエラーを返す。
// 送信後は呼び出し元がキャンセルしても結果が判明するまでconfirmTimeoutの範囲で待つ。
func (s *SolanaSettler) confirm(ctx context.Context, sig, blockhash string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		status, err := s.rpc.GetSignatureStatus(ctx, sig)
		switch {
		case err != nil:
			s.logger.Warn("failed to get signature status",
				slog.String("signature", maskAddress(sig)),
				slog.String("error", err.Error()),
			)
		case status != nil && status.Err != nil:
			return model.NewLedgerError("confirm transaction", fmt.Errorf("transaction %s failed: %v", sig, status.Err))
		case status != nil:
			if isConfirmed(status) {
				return nil
			}
		default:
			expired, err := s.expired(ctx, sig, blockhash)
			if err != nil {
				s.logger.Warn("failed to check blockhash validity",
					slog.String("signature", maskAddress(sig)),
					slog.String("error", err.Error()),
				)
			}
			if expired {
				return model.NewLedgerError("confirm transaction", fmt.Errorf("transaction %s: %w", sig, ErrTransactionExpired))
			}
		}

		select {
		case <-ctx.Done():
			s.logger.Error("settlement outcome unknown",
				slog.String("signature", sig),
			)
			return model.NewLedgerError("confirm transaction", fmt.Errorf("transaction %s: %w", sig, ErrConfirmationTimeout))
		case <-ticker.C:
		}
	}
}

// expired はブロックハッシュが失効し、かつ署名が取り込まれていないことを確認できた場合にtrueを返す。
// 失効直前に取り込まれた可能性があるため、失効を確認した後にもう一度署名の状態を確認する。
func (s *SolanaSettler) expired(ctx context.Context, sig, blockhash string) (bool, error) {
	valid, err := s.rpc.IsBlockhashValid(ctx, blockhash)
	if err != nil || valid {
		return false, err
	}
	status, err := s.rpc.GetSignatureStatus(ctx, sig)
	if err != nil {
		return false, err
	}
	return status == nil, nil
}

// isConfirmed は署名の状態がconfirmed以上かを返す。
// confirmationStatusを返さない古いノードではconfirmationsがnullのときにルート済みとみなす。
func isConfirmed(status *rpc.SignatureStatus) bool {
	if status.ConfirmationStatus != nil {
		c := *status.ConfirmationStatus
		return c == rpc.CommitmentConfirmed || c == rpc.CommitmentFinalized
	}
	return status.Confirmations == nil
}

// accountExists はアカウントがオンチェーンに存在するかを返す。
// 存在しないアカウントはOwnerがゼロ値で返るか、RPCの「見つからない」系エラーになる。
func (s *SolanaSettler) accountExists(ctx context.Context, address string) (bool, error) {
	info, err := s.rpc.GetAccountInfo(ctx, address)
	if err == nil {
		return info.Owner != (common.PublicKey{}), nil
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") ||
		strings.Contains(msg, "could not find account") ||
		strings.Contains(msg, "account does not exist") {
		return false, nil
	}
	return false, err
}

// compile-time interface check
var _ RPCClient = (*client.Client)(nil)
