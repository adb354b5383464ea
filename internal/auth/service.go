// Package auth はマジックリンク認証フローとセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/alumni/internal/magiclink"
	"github.com/hitoshi/alumni/internal/metrics"
	"github.com/hitoshi/alumni/internal/model"
	"github.com/hitoshi/alumni/internal/repository"
)

// 認証イベント名（メトリクスのeventラベル）。
const (
	EventSignUp  = "sign_up"
	EventSignIn  = "sign_in"
	EventVerify  = "verify"
	EventSignOut = "sign_out"
)

const (
	minNameLength = 2
	maxNameLength = 100
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Issuer はマジックリンク発行元のインターフェース。magiclink.Client が満たす。
type Issuer interface {
	SendMagicLink(ctx context.Context, email string) (*magiclink.SendResult, error)
	Authenticate(ctx context.Context, token string) (*magiclink.AuthenticateResult, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// ClientInfo はセッション作成時に記録する呼び出し元の情報。
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// SignUpResult はサインアップの結果。
type SignUpResult struct {
	User   *model.User
	Issuer *magiclink.SendResult
}

// VerifyResult はマジックリンク検証の結果。
type VerifyResult struct {
	User    *model.User
	Session *model.Session
	Issuer  *magiclink.AuthenticateResult
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	issuer      Issuer
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	metrics     metrics.Recorder
	now         func() time.Time
}

// NewService はServiceを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewService(
	issuer Issuer,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
	recorder metrics.Recorder,
) *Service {
	return &Service{
		issuer:      issuer,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
		metrics:     metrics.OrNop(recorder),
		now:         time.Now,
	}
}

// SignUp はユーザーを作成し、マジックリンクを送信する。
// ユーザーは発行元への呼び出し前に1度だけ保存する。
func (s *Service) SignUp(ctx context.Context, name, email string) (result *SignUpResult, err error) {
	defer func() { s.metrics.RecordAuthEvent(EventSignUp, metrics.Outcome(err)) }()

	// 1. 入力を検証
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" {
		return nil, model.NewValidationError("Missing required fields", "Please provide both name and email")
	}
	if !emailPattern.MatchString(email) {
		return nil, model.NewValidationError("Invalid email format", "Please provide a valid email")
	}
	if n := utf8.RuneCountInString(name); n < minNameLength || n > maxNameLength {
		return nil, model.NewValidationError("Invalid name",
			fmt.Sprintf("Name must be between %d and %d characters long", minNameLength, maxNameLength))
	}

	// 2. 既存ユーザーを確認
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, errUserExists()
	}

	// 3. ユーザーを作成（同時サインアップは一意制約で検出する）
	now := s.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, errUserExists()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	slog.Info("user created", slog.String("user_id", user.ID))

	// 4. マジックリンクを送信
	sent, err := s.issuer.SendMagicLink(ctx, email)
	if err != nil {
		return nil, issuerError("Authentication service error", "Failed to send magic link", err)
	}

	// 5. 発行元ユーザーとの紐付け（失敗してもサインアップは成功とする）
	s.linkIdentity(ctx, user.ID, sent.UserID)

	return &SignUpResult{User: user, Issuer: sent}, nil
}

// SignIn は登録済みユーザーにマジックリンクを送信する。新規ユーザーは作成しない。
func (s *Service) SignIn(ctx context.Context, email string) (result *magiclink.SendResult, err error) {
	defer func() { s.metrics.RecordAuthEvent(EventSignIn, metrics.Outcome(err)) }()

	email = normalizeEmail(email)
	if email == "" {
		return nil, model.NewValidationError("Email is required", "Please provide an email")
	}
	if !emailPattern.MatchString(email) {
		return nil, model.NewValidationError("Invalid email format", "Please provide a valid email")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("User not found", "No account found with this email")
	}

	sent, err := s.issuer.SendMagicLink(ctx, email)
	if err != nil {
		return nil, issuerError("Authentication service error", "Failed to send magic link", err)
	}
	s.linkIdentity(ctx, user.ID, sent.UserID)

	return sent, nil
}

// VerifyMagicLink はマジックリンクトークンを発行元で検証し、セッションを発行する。
// 発行元が返したメールアドレスのユーザーが存在しない場合はNotFound（自動作成しない）。
func (s *Service) VerifyMagicLink(ctx context.Context, token string, client ClientInfo) (result *VerifyResult, err error) {
	defer func() { s.metrics.RecordAuthEvent(EventVerify, metrics.Outcome(err)) }()

	if strings.TrimSpace(token) == "" {
		return nil, model.NewValidationError("Token is required", "Magic link token is missing")
	}

	// 1. 発行元でトークンを検証
	verified, err := s.issuer.Authenticate(ctx, token)
	if err != nil {
		// 発行元の文言はトークンの状態を漏らすため、常に同じメッセージを返す
		var ierr *magiclink.Error
		return nil, model.NewUpstreamError("Invalid magic link", "The magic link is invalid or has expired",
			errors.As(err, &ierr), err)
	}
	if verified.Email == "" {
		return nil, model.NewValidationError("Invalid user data", "Unable to retrieve user from magic link")
	}

	// 2. ローカルのユーザーを特定
	user, err := s.userRepo.FindByEmail(ctx, verified.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("User not found", "No account found with this email")
	}

	// 3. セッションを発行
	session, err := s.createSession(ctx, user.ID, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.linkIdentity(ctx, user.ID, verified.UserID)

	slog.Info("magic link verified",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
	)

	return &VerifyResult{User: user, Session: session, Issuer: verified}, nil
}

// SignOut はセッションを無効化する。履歴のためレコードは削除しない。
func (s *Service) SignOut(ctx context.Context, token string) (err error) {
	defer func() { s.metrics.RecordAuthEvent(EventSignOut, metrics.Outcome(err)) }()

	if token == "" {
		return model.NewUnauthorizedError("Session token is required")
	}

	ok, err := s.sessionRepo.Invalidate(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	if !ok {
		return model.NewUnauthorizedError("Invalid session token")
	}

	slog.Info("user signed out")
	return nil
}

// ResolveSession はトークンから利用可能なセッションを取得する。
// ストア側の期限切れ除外に加え、ここでも有効期限を確認する。
func (s *Service) ResolveSession(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, model.NewUnauthorizedError("Session token is required")
	}

	session, err := s.sessionRepo.FindActiveByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError("Invalid session token")
	}
	if !session.Usable(s.now()) {
		return nil, model.NewUnauthorizedError("Session has expired")
	}

	return session, nil
}

// GetUser はセッションとその所有ユーザーを返す。
func (s *Service) GetUser(ctx context.Context, token string) (*model.User, *model.Session, error) {
	session, err := s.ResolveSession(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, model.NewUnauthorizedError("Invalid session token")
	}

	return user, session, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string, client ClientInfo) (*model.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Token:     token,
		State:     model.SessionActive,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// linkIdentity は発行元のユーザーIDを記録する。失敗はログのみ。
// 同じ発行元IDが別ユーザーに紐付いている場合は付け替えず、Warnログを残す。
func (s *Service) linkIdentity(ctx context.Context, userID, providerUserID string) {
	if providerUserID == "" {
		return
	}

	existing, err := s.identRepo.FindByProviderAndProviderUserID(ctx, magiclink.ProviderName, providerUserID)
	if err != nil {
		slog.Warn("failed to look up issuer identity",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	if existing != nil {
		if existing.UserID != userID {
			slog.Warn("issuer identity already linked to another user",
				slog.String("user_id", userID),
				slog.String("linked_user_id", existing.UserID),
				slog.String("provider_user_id", providerUserID),
			)
		}
		return
	}

	err = s.identRepo.Link(ctx, &model.Identity{
		ID:             uuid.New().String(),
		UserID:         userID,
		Provider:       magiclink.ProviderName,
		ProviderUserID: providerUserID,
		CreatedAt:      s.now(),
	})
	if err != nil {
		slog.Warn("failed to link issuer identity",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// issuerError は発行元のエラーをAPIエラーに変換する。
// 発行元がエラー応答を返した場合は呼び出し側の入力起因（400）、通信失敗は500とする。
func issuerError(title, fallback string, err error) error {
	var ierr *magiclink.Error
	if errors.As(err, &ierr) {
		msg := ierr.Message
		if msg == "" {
			msg = fallback
		}
		return model.NewUpstreamError(title, msg, true, err)
	}
	return model.NewUpstreamError(title, fallback, false, err)
}

func errUserExists() error {
	return model.NewConflictError("User already exists", "An account with this email already exists")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateSessionToken は256bitの暗号論的乱数からセッショントークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
