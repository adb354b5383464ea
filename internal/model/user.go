// Package model はドメインモデルを定義する。
package model

import "time"

// User はディレクトリの利用者を表す。メールアドレスは小文字に正規化して保持する。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity はマジックリンク発行元のユーザーとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// SessionState はセッションの状態を表す。
type SessionState string

const (
	// SessionActive は利用可能なセッション。
	SessionActive SessionState = "active"
	// SessionInvalidated はサインアウト済みのセッション。履歴として一定期間残す。
	SessionInvalidated SessionState = "invalidated"
)

// Session はユーザーのログインセッションを表す。
// Token はCookieに格納される不透明なトークンで、IDとは別に発行する。
type Session struct {
	ID            string
	UserID        string
	Token         string
	State         SessionState
	ExpiresAt     time.Time
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time
	InvalidatedAt *time.Time
}

// Usable はnow時点でセッションが利用可能かを返す。
// Active かつ now < ExpiresAt の場合のみ true。
func (s *Session) Usable(now time.Time) bool {
	return s.State == SessionActive && now.Before(s.ExpiresAt)
}
