package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hitoshi/tokenminer/internal/model"
)

// sessionRecord はセッションの永続化フォーマット。
// タイムスタンプはISO-8601文字列で保存する。
type sessionRecord struct {
	UserID          string `json:"userId"`
	StartTime       string `json:"startTime"`
	LastClickTime   string `json:"lastClickTime"`
	Clicks          int    `json:"clicks"`
	TokensEarned    int    `json:"tokensEarned"`
	IsActive        bool   `json:"isActive"`
	HourWindowStart string `json:"hourWindowStart,omitempty"`
	HourClicks      int    `json:"hourClicks,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	return t, nil
}

func toRecord(s *model.MiningSession) sessionRecord {
	return sessionRecord{
		UserID:          s.UserID,
		StartTime:       formatTime(s.StartTime),
		LastClickTime:   formatTime(s.LastClickTime),
		Clicks:          s.Clicks,
		TokensEarned:    s.TokensEarned,
		IsActive:        s.IsActive,
		HourWindowStart: formatTime(s.HourWindowStart),
		HourClicks:      s.HourClicks,
	}
}

func fromRecord(key string, r sessionRecord) (*model.MiningSession, error) {
	if r.UserID == "" {
		r.UserID = key
	}
	if r.UserID != key {
		return nil, fmt.Errorf("session key %q does not match userId %q", key, r.UserID)
	}

	start, err := parseTime("startTime", r.StartTime)
	if err != nil {
		return nil, err
	}
	last, err := parseTime("lastClickTime", r.LastClickTime)
	if err != nil {
		return nil, err
	}
	window, err := parseTime("hourWindowStart", r.HourWindowStart)
	if err != nil {
		return nil, err
	}

	s := &model.MiningSession{
		UserID:          r.UserID,
		StartTime:       start,
		LastClickTime:   last,
		Clicks:          r.Clicks,
		TokensEarned:    r.TokensEarned,
		IsActive:        r.IsActive,
		HourWindowStart: window,
		HourClicks:      r.HourClicks,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// encodeSessions は全セッションをuserIdをキーとするJSONオブジェクトに変換する。
func encodeSessions(sessions map[string]*model.MiningSession) ([]byte, error) {
	doc := make(map[string]sessionRecord, len(sessions))
	for id, s := range sessions {
		if s == nil {
			continue
		}
		doc[id] = toRecord(s)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode sessions: %w", err)
	}
	return data, nil
}

// decodeSessions はJSONドキュメントをセッションのマップに変換する。
// 構文エラーや不正な値は model.ErrStorageCorrupt としてラップする。
func decodeSessions(data []byte) (map[string]*model.MiningSession, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", model.ErrStorageCorrupt)
	}

	var doc map[string]sessionRecord
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageCorrupt, err)
	}

	sessions := make(map[string]*model.MiningSession, len(doc))
	for key, rec := range doc {
		s, err := fromRecord(key, rec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrStorageCorrupt, err)
		}
		sessions[key] = s
	}
	return sessions, nil
}

// sortedSessions はuserId順に並べたセッション一覧を返す。
func sortedSessions(sessions map[string]*model.MiningSession) []*model.MiningSession {
	out := make([]*model.MiningSession, 0, len(sessions))
	for _, s := range sessions {
		if s != nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
