package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/alumni/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token, state, expires_at, ip_address, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.UserID, session.Token, string(session.State), session.ExpiresAt,
		nullString(session.IPAddress), nullString(session.UserAgent), session.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("session token: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindActiveByToken は有効なセッションを取得する。無効化済み・期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindActiveByToken(ctx context.Context, token string) (*model.Session, error) {
	session := &model.Session{}
	var state string
	var ip, ua sql.NullString
	var invalidatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token, state, expires_at, ip_address, user_agent, created_at, invalidated_at
		 FROM sessions
		 WHERE token = $1 AND state = 'active' AND expires_at > now()`,
		token,
	).Scan(&session.ID, &session.UserID, &session.Token, &state, &session.ExpiresAt,
		&ip, &ua, &session.CreatedAt, &invalidatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.State = model.SessionState(state)
	session.IPAddress = ip.String
	session.UserAgent = ua.String
	if invalidatedAt.Valid {
		t := invalidatedAt.Time
		session.InvalidatedAt = &t
	}

	return session, nil
}

// Invalidate はセッションを論理的に無効化する。レコードは削除しない。
func (r *PostgresSessionRepo) Invalidate(ctx context.Context, token string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET state = 'invalidated', invalidated_at = now()
		 WHERE token = $1 AND state = 'active' AND expires_at > now()`,
		token,
	)
	if err != nil {
		return false, fmt.Errorf("failed to invalidate session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
