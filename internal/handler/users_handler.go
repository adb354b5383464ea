package handler

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/hitoshi/alumni/internal/auth"
	"github.com/hitoshi/alumni/internal/magiclink"
	"github.com/hitoshi/alumni/internal/middleware"
	"github.com/hitoshi/alumni/internal/model"
)

// AuthServiceInterface はユーザーハンドラーが必要とする認証サービスのインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, name, email string) (*auth.SignUpResult, error)
	SignIn(ctx context.Context, email string) (*magiclink.SendResult, error)
	VerifyMagicLink(ctx context.Context, token string, client auth.ClientInfo) (*auth.VerifyResult, error)
	SignOut(ctx context.Context, token string) error
	GetUser(ctx context.Context, token string) (*model.User, *model.Session, error)
}

// CookieConfig はセッションCookieの設定。
type CookieConfig struct {
	Domain string
	Secure bool
	MaxAge int // 秒
}

// UsersHandler はサインアップ・サインイン・マジックリンク検証・サインアウトのHTTPハンドラー。
type UsersHandler struct {
	service AuthServiceInterface
	cookie  CookieConfig
}

// NewUsersHandler はUsersHandlerを生成する。
func NewUsersHandler(service AuthServiceInterface, cookie CookieConfig) *UsersHandler {
	return &UsersHandler{
		service: service,
		cookie:  cookie,
	}
}

type signUpRequest struct {
	Name  string `json:"name" validate:"max=100"`
	Email string `json:"email" validate:"max=320"`
}

type signInRequest struct {
	Email string `json:"email" validate:"max=320"`
}

type verifyMagicLinkRequest struct {
	Token string `json:"token" validate:"max=512"`
}

type userSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type userDetail struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type sessionDetail struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

type signUpIssuer struct {
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
}

type verifyIssuer struct {
	UserID       string `json:"user_id"`
	SessionToken string `json:"session_token"`
	SessionJWT   string `json:"session_jwt"`
}

type signUpResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	User    userSummary  `json:"user"`
	Stytch  signUpIssuer `json:"stytch"`
}

type signInResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
}

type verifyResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	User    userSummary  `json:"user"`
	Stytch  verifyIssuer `json:"stytch"`
}

type getUserResponse struct {
	Success bool          `json:"success"`
	User    userDetail    `json:"user"`
	Session sessionDetail `json:"session"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SignUp はユーザーを作成しマジックリンクを送信する。
// POST /api/users/sign-up
func (h *UsersHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid request body", err.Error())
		return
	}

	result, err := h.service.SignUp(r.Context(), req.Name, req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, signUpResponse{
		Success: true,
		Message: "Magic link sent to your email",
		User:    toUserSummary(result.User),
		Stytch: signUpIssuer{
			UserID:    result.Issuer.UserID,
			RequestID: result.Issuer.RequestID,
		},
	})
}

// SignIn は既存ユーザーにマジックリンクを送信する。
// POST /api/users/sign-in
func (h *UsersHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid request body", err.Error())
		return
	}

	result, err := h.service.SignIn(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, signInResponse{
		Success:   true,
		Message:   "Magic link sent successfully",
		UserID:    result.UserID,
		RequestID: result.RequestID,
	})
}

// VerifyMagicLink はマジックリンクのトークンを検証し、セッションCookieを発行する。
// POST /api/users/verify-magic-link
func (h *UsersHandler) VerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req verifyMagicLinkRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid request body", err.Error())
		return
	}

	result, err := h.service.VerifyMagicLink(r.Context(), req.Token, auth.ClientInfo{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	http.SetCookie(w, h.sessionCookie(result.Session.Token, h.cookie.MaxAge))

	middleware.WriteJSON(w, http.StatusOK, verifyResponse{
		Success: true,
		Message: "Magic link verified successfully",
		User:    toUserSummary(result.User),
		Stytch: verifyIssuer{
			UserID:       result.Issuer.UserID,
			SessionToken: result.Issuer.SessionToken,
			SessionJWT:   result.Issuer.SessionJWT,
		},
	})
}

// SignOut はセッションを無効化し、Cookieを削除する。
// POST /api/users/sign-out
func (h *UsersHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context(), sessionToken(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}

	http.SetCookie(w, h.sessionCookie("", -1))

	middleware.WriteJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Successfully signed out",
	})
}

// GetUser はセッションのユーザー情報とセッション情報を返す。
// GET /api/users/get-user
func (h *UsersHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, session, err := h.service.GetUser(r.Context(), sessionToken(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, getUserResponse{
		Success: true,
		User: userDetail{
			ID:        user.ID,
			Name:      user.Name,
			Email:     user.Email,
			CreatedAt: user.CreatedAt,
			UpdatedAt: user.UpdatedAt,
		},
		Session: sessionDetail{
			ID:        session.ID,
			Token:     session.Token,
			ExpiresAt: session.ExpiresAt,
			CreatedAt: session.CreatedAt,
			IPAddress: session.IPAddress,
			UserAgent: session.UserAgent,
		},
	})
}

// sessionCookie はセッションCookieを組み立てる。maxAgeが負の場合は削除用。
func (h *UsersHandler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.cookie.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// clientIP は接続元のIPアドレスを返す。転送ヘッダーは信頼しない。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func toUserSummary(u *model.User) userSummary {
	return userSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}
