// Package mining はクリック型マイニングのセッション管理と請求処理を提供する。
//
// セッションはユーザーIDごとに1つ保持され、起動時にSessionStoreから全件を読み込む。
// 状態を変更する操作のたびに全件をSessionStoreへ書き戻す。
package mining

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tokenminer/internal/metrics"
	"github.com/hitoshi/tokenminer/internal/model"
	"github.com/hitoshi/tokenminer/internal/repository"
)

// DefaultDecimals はトークンの小数桁数のデフォルト値。
const DefaultDecimals uint8 = 9

// hourWindow は固定ウィンドウ方式の時間上限の長さ。
const hourWindow = time.Hour

const (
	// claimPersistTimeout は精算成功後のセッション保存に許す時間。
	claimPersistTimeout = 10 * time.Second
	// claimPublishTimeout は請求イベントの送信に許す時間。
	claimPublishTimeout = 5 * time.Second
)

// Engine はマイニングセッションの状態遷移を管理する。
//
// 同一ユーザーに対する状態変更操作はユーザー単位のロックで直列化する。
// storeMuはセッションマップのみを保護し、ネットワーク呼び出しの間は保持しない。
type Engine struct {
	store     repository.SessionStore
	settler   Settler
	cfg       model.MiningConfig
	decimals  uint8
	now       func() time.Time
	metrics   metrics.MetricsCollector
	publisher ClaimPublisher
	logger    *slog.Logger

	userLocks *keyedMutex

	storeMu  sync.RWMutex
	sessions map[string]*model.MiningSession

	// saveMu はスナップショット取得からメモリへの反映までを直列化し、
	// 古いスナップショットが新しいものを上書きしないようにする。
	saveMu sync.Mutex
}

// NewEngine はEngineを生成し、SessionStoreから全セッションを読み込む。
// 読み込みに失敗した場合（データ破損を含む）はエラーを返す。
func NewEngine(
	ctx context.Context,
	store repository.SessionStore,
	settler Settler,
	cfg model.MiningConfig,
	opts ...Option,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mining config: %w", err)
	}

	e := &Engine{
		store:     store,
		settler:   settler,
		cfg:       cfg,
		decimals:  DefaultDecimals,
		now:       time.Now,
		metrics:   metrics.NopCollector{},
		logger:    slog.Default(),
		userLocks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}

	sessions, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load mining sessions: %w", err)
	}
	e.sessions = sessions

	e.logger.Info("mining sessions loaded",
		slog.Int("sessions", len(sessions)),
	)

	return e, nil
}

// Config はエンジンのマイニング設定を返す。
func (e *Engine) Config() model.MiningConfig {
	return e.cfg
}

// Start はマイニングセッションを開始する。
// セッションが存在しない、または有効期限切れの場合は新しいセッションを作成する。
// 有効なセッションが存在する場合は何も変更せず現在の獲得数を返す。
func (e *Engine) Start(ctx context.Context, userID string) (StartResult, error) {
	unlock := e.userLocks.Lock(userID)
	defer unlock()

	now := e.now()
	prev := e.lookup(userID)

	if prev != nil && !prev.IsExpired(now, e.cfg.SessionTTL) {
		return StartResult{
			Accepted:     true,
			TokensEarned: prev.TokensEarned,
			Message:      "マイニングセッションは継続中です。",
		}, nil
	}

	rollover := prev != nil
	if err := e.commit(ctx, userID, model.NewMiningSession(userID, now)); err != nil {
		return StartResult{}, err
	}

	e.metrics.RecordSessionStarted(rollover)
	e.logger.Info("mining session started",
		slog.String("user_id", userID),
		slog.Bool("rollover", rollover),
	)

	return StartResult{
		Accepted:     true,
		TokensEarned: 0,
		Message:      fmt.Sprintf("マイニングを開始しました。1クリックごとに%dトークン獲得できます。", e.cfg.TokensPerClick),
	}, nil
}

// Click はクリック1回分のトークンを付与する。
// 判定は セッション有無、クールダウン、時間上限、日次上限 の順で行い、最初に該当した理由で拒否する。
// 有効期限切れのセッションは新しいセッションに置き換えてから判定する。
func (e *Engine) Click(ctx context.Context, userID string) (ClickResult, error) {
	unlock := e.userLocks.Lock(userID)
	defer unlock()

	now := e.now()
	prev := e.lookup(userID)

	if prev == nil || !prev.IsActive {
		return e.rejectClick(userID, ClickResult{
			Reason:  model.ReasonNoActiveSession,
			Message: "アクティブなマイニングセッションがありません。先にマイニングを開始してください。",
		}), nil
	}

	s := prev.Clone()
	rollover := false
	if s.IsExpired(now, e.cfg.SessionTTL) {
		s = model.NewMiningSession(userID, now)
		rollover = true
	}

	// 期限切れからの再開時は前回クリックが24時間以上前のためクールダウン判定を行わない
	if !rollover {
		if elapsed := now.Sub(s.LastClickTime); elapsed < e.cfg.Cooldown {
			wait := e.cfg.Cooldown - elapsed
			return e.rejectClick(userID, ClickResult{
				TokensEarned: s.TokensEarned,
				CanClaim:     e.canClaim(s),
				Reason:       model.ReasonCooldownActive,
				Message:      fmt.Sprintf("次のクリックまであと%.1f秒お待ちください。", wait.Seconds()),
				RetryAfter:   wait,
			}), nil
		}
	}

	if limited, wait := e.hourlyLimited(s, now); limited {
		return e.rejectClick(userID, ClickResult{
			TokensEarned: s.TokensEarned,
			CanClaim:     e.canClaim(s),
			Reason:       model.ReasonHourlyLimitReached,
			Message:      "1時間あたりのクリック上限に達しました。しばらく待ってから再開してください。",
			RetryAfter:   wait,
		}), nil
	}

	if s.TokensEarned >= e.cfg.MaxTokensPerDay {
		return e.rejectClick(userID, ClickResult{
			TokensEarned: s.TokensEarned,
			CanClaim:     true,
			Reason:       model.ReasonDailyLimitReached,
			Message:      "本日のトークン上限に達しました。また明日お越しください。",
			RetryAfter:   s.StartTime.Add(e.cfg.SessionTTL).Sub(now),
		}), nil
	}

	if s.HourWindowStart.IsZero() || now.Sub(s.HourWindowStart) >= hourWindow {
		s.HourWindowStart = now
		s.HourClicks = 0
	}
	s.Clicks++
	s.HourClicks++
	s.TokensEarned += e.cfg.TokensPerClick
	s.LastClickTime = now

	if err := e.commit(ctx, userID, s); err != nil {
		return ClickResult{}, err
	}

	if rollover {
		e.metrics.RecordSessionStarted(true)
		e.logger.Info("mining session rolled over",
			slog.String("user_id", userID),
		)
	}
	e.metrics.RecordClick(metrics.OutcomeAccepted)

	return ClickResult{
		Accepted:     true,
		TokensEarned: s.TokensEarned,
		CanClaim:     e.canClaim(s),
		Message:      fmt.Sprintf("+%dトークン獲得しました。合計: %d", e.cfg.TokensPerClick, s.TokensEarned),
	}, nil
}

// Claim は獲得済みトークンをsettlementAddressへ精算し、成功した場合のみ残高をリセットする。
// 精算に失敗した場合はセッションを一切変更せず、*model.LedgerErrorを返す。
// 精算成功後の保存に失敗した場合は成功結果と保存エラーの両方を返す。
// 有効期限切れのセッションの残高は失効しているため請求できない。
func (e *Engine) Claim(ctx context.Context, userID, settlementAddress string) (ClaimResult, error) {
	unlock := e.userLocks.Lock(userID)
	defer unlock()

	s := e.lookup(userID)
	if s != nil && s.IsExpired(e.now(), e.cfg.SessionTTL) {
		e.metrics.RecordClaimFailure(string(model.ReasonInsufficientBalance))
		return ClaimResult{
			Code:   string(model.ReasonInsufficientBalance),
			Reason: "セッションの有効期限が切れたため、獲得済みトークンは失効しました。",
		}, nil
	}
	if s == nil || s.TokensEarned < e.cfg.ClaimThreshold {
		e.metrics.RecordClaimFailure(string(model.ReasonInsufficientBalance))
		return ClaimResult{
			Code:   string(model.ReasonInsufficientBalance),
			Reason: fmt.Sprintf("請求には%dトークン以上が必要です。", e.cfg.ClaimThreshold),
		}, nil
	}

	tokens := s.TokensEarned
	reference, err := e.settler.SettleTransfer(ctx, settlementAddress, uint64(tokens), e.decimals)
	if err != nil {
		var ledgerErr *model.LedgerError
		if !errors.As(err, &ledgerErr) {
			ledgerErr = model.NewLedgerError("settle", err)
		}
		e.metrics.RecordClaimFailure(model.ErrCodeLedgerFailed)
		e.logger.Error("settlement failed",
			slog.String("user_id", userID),
			slog.Int("tokens", tokens),
			slog.String("error", err.Error()),
		)
		return ClaimResult{
			Code:   model.ErrCodeLedgerFailed,
			Reason: ledgerErr.Error(),
		}, ledgerErr
	}

	reset := s.Clone()
	reset.Clicks = 0
	reset.TokensEarned = 0

	// 送付済みのリセットは呼び出し元のタイムアウトに関係なく保存する
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), claimPersistTimeout)
	persistErr := e.commit(persistCtx, userID, reset)
	cancel()
	if persistErr != nil {
		// トークンは送付済みのため、保存に失敗してもメモリ上はリセットする
		e.replace(userID, reset)
		e.logger.Error("failed to persist session after settlement",
			slog.String("user_id", userID),
			slog.String("settlement_reference", reference),
			slog.String("error", persistErr.Error()),
		)
	}

	result := ClaimResult{
		Success:             true,
		SettlementReference: reference,
		TokensClaimed:       tokens,
	}

	e.metrics.RecordClaimSuccess(tokens)
	e.logger.Info("tokens claimed",
		slog.String("user_id", userID),
		slog.Int("tokens", tokens),
		slog.String("settlement_reference", reference),
	)

	e.publishClaim(ctx, model.ClaimEvent{
		ID:                  uuid.NewString(),
		UserID:              userID,
		Destination:         settlementAddress,
		Tokens:              tokens,
		Decimals:            e.decimals,
		SettlementReference: reference,
		ClaimedAt:           e.now(),
	})

	if persistErr != nil {
		return result, fmt.Errorf("settlement %s succeeded but session reset was not persisted: %w", reference, persistErr)
	}

	return result, nil
}

// Stats はユーザーのセッション状態を返す。セッションが存在しない場合はゼロ値を返す。
// 有効期限切れのセッションは獲得数0として報告する。
func (e *Engine) Stats(userID string) Stats {
	s := e.lookup(userID)
	if s == nil {
		return Stats{}
	}
	if s.IsExpired(e.now(), e.cfg.SessionTTL) {
		s.Clicks = 0
		s.TokensEarned = 0
	}

	start := s.StartTime
	last := s.LastClickTime
	return Stats{
		IsActive:      s.IsActive,
		TokensEarned:  s.TokensEarned,
		Clicks:        s.Clicks,
		CanClaim:      e.canClaim(s),
		StartTime:     &start,
		LastClickTime: &last,
	}
}

// GlobalStats は全セッションの集計値を返す。
func (e *Engine) GlobalStats() GlobalStats {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()

	now := e.now()
	stats := GlobalStats{
		TotalSessions: len(e.sessions),
		Config:        newConfigReport(e.cfg),
	}
	for _, s := range e.sessions {
		if s.IsExpired(now, e.cfg.SessionTTL) {
			continue
		}
		stats.TotalTokensEarned += s.TokensEarned
		stats.TotalClicks += s.Clicks
		if s.IsActive {
			stats.ActiveSessions++
		}
	}
	return stats
}

func (e *Engine) canClaim(s *model.MiningSession) bool {
	return s.TokensEarned >= e.cfg.ClaimThreshold
}

// hourlyLimited は時間上限に達しているかと、再試行可能になるまでの時間を返す。
func (e *Engine) hourlyLimited(s *model.MiningSession, now time.Time) (bool, time.Duration) {
	switch e.cfg.HourlyLimitMode {
	case model.HourlyLimitLegacy:
		// 剰余は常に上限未満のため、この判定が成立することはない
		return s.Clicks%e.cfg.MaxClicksPerHour >= e.cfg.MaxClicksPerHour, 0
	default:
		if s.HourWindowStart.IsZero() || now.Sub(s.HourWindowStart) >= hourWindow {
			return false, 0
		}
		if s.HourClicks >= e.cfg.MaxClicksPerHour {
			return true, s.HourWindowStart.Add(hourWindow).Sub(now)
		}
		return false, 0
	}
}

func (e *Engine) rejectClick(userID string, result ClickResult) ClickResult {
	e.metrics.RecordClick(string(result.Reason))
	e.logger.Debug("click rejected",
		slog.String("user_id", userID),
		slog.String("reason", string(result.Reason)),
	)
	return result
}

func (e *Engine) publishClaim(ctx context.Context, event model.ClaimEvent) {
	if e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), claimPublishTimeout)
	defer cancel()
	if err := e.publisher.PublishClaim(ctx, event); err != nil {
		e.logger.Warn("failed to publish claim event",
			slog.String("event_id", event.ID),
			slog.String("user_id", event.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// lookup はセッションのコピーを返す。存在しない場合はnilを返す。
func (e *Engine) lookup(userID string) *model.MiningSession {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()
	return e.sessions[userID].Clone()
}

func (e *Engine) replace(userID string, s *model.MiningSession) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	e.sessions[userID] = s
}

// commit はuserIDのセッションをnextに置き換えた全セッションを保存し、
// 保存に成功した場合のみメモリ上のマップへ反映する。
// 保存前の変更が他ユーザーの保存に含まれないよう、反映までsaveMuを保持する。
func (e *Engine) commit(ctx context.Context, userID string, next *model.MiningSession) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	snap := e.snapshot()
	snap[userID] = next.Clone()
	if err := e.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save mining sessions: %w", err)
	}
	e.replace(userID, next)
	return nil
}

func (e *Engine) snapshot() map[string]*model.MiningSession {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()

	snap := make(map[string]*model.MiningSession, len(e.sessions))
	for id, s := range e.sessions {
		snap[id] = s.Clone()
	}
	return snap
}
