// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はプロフィールの自由入力テキストからHTMLを取り除き、
// 保存されたプロフィールを表示するクライアントでのXSSを防ぐ。
// SSRFGuardService はマジックリンク発行元APIへの外向きリクエストを保護する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキスト入力のサニタイズ機能のインターフェースを定義する。
// プロフィールの作成・更新時、保存前に使用される。
type TextSanitizerService interface {
	// Sanitize は全てのHTMLタグを除去したプレーンテキストを返す。
	// script/styleの中身は破棄し、前後の空白は取り除く。
	// エンティティは元の文字に戻す（"AT&T" は "AT&T" のまま保存される）。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// bluemondayのStrictPolicyで全てのタグと属性を除去する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLを除去したプレーンテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	// エスケープ済みのタグも除去対象にするため、先に一度デコードする
	stripped := s.policy.Sanitize(html.UnescapeString(raw))
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// SanitizeAll は渡された各フィールドをその場でサニタイズする。nilは無視する。
func SanitizeAll(s TextSanitizerService, fields ...*string) {
	for _, f := range fields {
		if f != nil {
			*f = s.Sanitize(*f)
		}
	}
}
