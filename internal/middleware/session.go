// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/alumni/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookie名。
const SessionCookieName = "session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey  = contextKey("user_id")
	sessionContextKey = contextKey("session")
)

// SessionResolver はセッショントークンの検証に必要なインターフェース。
// auth.Service が満たす。
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*model.Session, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッショントークンを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みユーザーIDとセッションをリクエストコンテキストに注入する。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからトークンを取得
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
				return
			}

			// 2. セッションの有効性を検証
			session, err := resolver.ResolveSession(r.Context(), cookie.Value)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) && apiErr.Kind == model.KindUnauthorized {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr.Title, apiErr.Message)
					return
				}
				slog.Error("failed to resolve session",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			// 3. 認証済みユーザーIDをコンテキストに注入
			recordUserID(r.Context(), session.UserID)
			ctx := context.WithValue(r.Context(), userIDContextKey, session.UserID)
			ctx = context.WithValue(ctx, sessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionFromContext はセッションミドルウェアが注入したセッションを返す。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*model.Session)
	return s, ok && s != nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithSession はコンテキストにセッションとそのユーザーIDを注入する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, session)
	return context.WithValue(ctx, userIDContextKey, session.UserID)
}
