// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/alumni/internal/model"
)

// ErrDuplicate は一意制約違反（メールアドレス、セッショントークン、ユーザーごとのプロフィール）を表す。
var ErrDuplicate = errors.New("duplicate record")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error
}

// IdentityRepository はマジックリンク発行元との紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Link はidentityを登録する。既に同じ(provider, provider_user_id)が存在する場合は何もしない。
	Link(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindActiveByToken はトークンに一致する有効なセッションを取得する。
	// 無効化済みまたは期限切れの場合はnilを返す。
	FindActiveByToken(ctx context.Context, token string) (*model.Session, error)

	// Invalidate はトークンに一致する有効なセッションを無効化する。
	// 対象が存在しない場合はfalseを返す。
	Invalidate(ctx context.Context, token string) (bool, error)
}

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// Create はプロフィールを作成する。同一ユーザーのプロフィールが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, profile *model.Profile) error

	// FindByUserID はユーザーIDでプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// Update はプロフィールを上書き更新する。
	Update(ctx context.Context, profile *model.Profile) error

	// DeleteByUserID はユーザーのプロフィールを削除し、削除したプロフィールを返す。
	// 存在しない場合はnilを返す。
	DeleteByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// ListAll は全プロフィールをcreated_at降順で返す。
	ListAll(ctx context.Context) ([]*model.Profile, error)
}
