// Package magiclink はマジックリンク発行元（Stytch）のREST APIクライアントを提供する。
package magiclink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultAPIURL はStytchのテスト環境のAPIベースURL。
	DefaultAPIURL = "https://test.stytch.com/v1"

	// ProviderName はidentitiesテーブルに記録するプロバイダー名。
	ProviderName = "stytch"

	loginOrCreatePath = "/magic_links/email/login_or_create"
	authenticatePath  = "/magic_links/authenticate"

	// sessionDurationMinutes は発行元側で作成するセッションの有効期間。
	// アプリのセッションは別途発行するため、発行元側は短命でよい。
	sessionDurationMinutes = 60

	maxResponseSize = 1 << 20
)

// Error は発行元APIがエラーレスポンスを返したことを表す。
type Error struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("magic link issuer returned %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

// Config は発行元APIクライアントの設定。
type Config struct {
	ProjectID string
	Secret    string
	// APIURL が空の場合はDefaultAPIURLを使用する。
	APIURL string
	// RedirectURL はメール内リンクの遷移先（${FRONTEND_URL}/verify-magic-link）。
	RedirectURL string
}

// SendResult はマジックリンク送信の結果。
type SendResult struct {
	UserID    string `json:"userId"`
	RequestID string `json:"requestId"`
}

// AuthenticateResult はマジックリンクトークン検証の結果。
type AuthenticateResult struct {
	UserID       string
	Email        string
	SessionToken string
	SessionJWT   string
	RequestID    string
}

// Client はStytchのマジックリンクAPIクライアント。
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient はClientを生成する。httpClientがnilの場合は10秒タイムアウトのクライアントを使う。
func NewClient(config Config, httpClient *http.Client) *Client {
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	config.APIURL = strings.TrimRight(config.APIURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{config: config, httpClient: httpClient}
}

// APIURL は設定済みのAPIベースURLを返す。
func (c *Client) APIURL() string {
	return c.config.APIURL
}

type loginOrCreateRequest struct {
	Email              string `json:"email"`
	LoginMagicLinkURL  string `json:"login_magic_link_url"`
	SignupMagicLinkURL string `json:"signup_magic_link_url"`
}

type loginOrCreateResponse struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
}

// SendMagicLink はメールアドレス宛てにマジックリンクを送信する。
// 発行元に該当ユーザーがいなければ発行元側で作成される。
func (c *Client) SendMagicLink(ctx context.Context, email string) (*SendResult, error) {
	var resp loginOrCreateResponse
	err := c.post(ctx, loginOrCreatePath, loginOrCreateRequest{
		Email:              email,
		LoginMagicLinkURL:  c.config.RedirectURL,
		SignupMagicLinkURL: c.config.RedirectURL,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &SendResult{UserID: resp.UserID, RequestID: resp.RequestID}, nil
}

type authenticateRequest struct {
	Token                  string `json:"token"`
	SessionDurationMinutes int    `json:"session_duration_minutes"`
}

type authenticateResponse struct {
	RequestID    string `json:"request_id"`
	UserID       string `json:"user_id"`
	SessionToken string `json:"session_token"`
	SessionJWT   string `json:"session_jwt"`
	User         struct {
		Emails []struct {
			Email string `json:"email"`
		} `json:"emails"`
	} `json:"user"`
}

// Authenticate はマジックリンクトークンを検証し、発行元のユーザー情報を返す。
// メールアドレスが取得できない場合、Emailは空文字列になる。
func (c *Client) Authenticate(ctx context.Context, token string) (*AuthenticateResult, error) {
	var resp authenticateResponse
	err := c.post(ctx, authenticatePath, authenticateRequest{
		Token:                  token,
		SessionDurationMinutes: sessionDurationMinutes,
	}, &resp)
	if err != nil {
		return nil, err
	}

	result := &AuthenticateResult{
		UserID:       resp.UserID,
		SessionToken: resp.SessionToken,
		SessionJWT:   resp.SessionJWT,
		RequestID:    resp.RequestID,
	}
	if len(resp.User.Emails) > 0 {
		result.Email = resp.User.Emails[0].Email
	}
	return result, nil
}

type errorResponse struct {
	StatusCode   int    `json:"status_code"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}

// post はJSONリクエストを送信し、2xxの場合はoutへデコードする。
// 2xx以外は*Errorを返す。
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.config.ProjectID, c.config.Secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("magic link request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil {
			apiErr.Type = er.ErrorType
			apiErr.Message = er.ErrorMessage
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
