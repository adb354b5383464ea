package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/alumni/internal/model"
)

// profileColumns はprofilesテーブルのSELECT対象カラム。scanProfileの順序と一致させること。
const profileColumns = `id, user_id, name, email, class, house, avatar_url, resume_url,
	education, experiences, organizations, created_at, updated_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
// education / experiences / organizations はJSONBカラムに順序を保持したまま格納する。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// Create はプロフィールを作成する。user_idの一意制約違反はErrDuplicateとして返す。
func (r *PostgresProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	education, experiences, organizations, err := marshalLists(p)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, user_id, name, email, class, house, avatar_url, resume_url,
		                       education, experiences, organizations, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.UserID, p.Name, p.Email, p.Class,
		nullString(p.House), nullString(p.AvatarURL), nullString(p.ResumeURL),
		education, experiences, organizations, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("profile for user %s: %w", p.UserID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// FindByUserID はユーザーIDでプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`,
		userID,
	)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}

// Update はプロフィールを上書き更新する。
func (r *PostgresProfileRepo) Update(ctx context.Context, p *model.Profile) error {
	education, experiences, organizations, err := marshalLists(p)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET name = $2, email = $3, class = $4, house = $5, avatar_url = $6, resume_url = $7,
		     education = $8, experiences = $9, organizations = $10, updated_at = $11
		 WHERE user_id = $1`,
		p.UserID, p.Name, p.Email, p.Class,
		nullString(p.House), nullString(p.AvatarURL), nullString(p.ResumeURL),
		education, experiences, organizations, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("profile not found for user: %s", p.UserID)
	}
	return nil
}

// DeleteByUserID はプロフィールを削除し、削除前の内容を返す。存在しない場合はnilを返す。
func (r *PostgresProfileRepo) DeleteByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`DELETE FROM profiles WHERE user_id = $1 RETURNING `+profileColumns,
		userID,
	)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete profile: %w", err)
	}
	return p, nil
}

// ListAll は全プロフィールをcreated_at降順で返す。
func (r *PostgresProfileRepo) ListAll(ctx context.Context) ([]*model.Profile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]*model.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}

	return profiles, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanProfile は1行をmodel.Profileに変換する。
func scanProfile(s rowScanner) (*model.Profile, error) {
	p := &model.Profile{}
	var house, avatar, resume sql.NullString
	var education, experiences, organizations []byte

	if err := s.Scan(&p.ID, &p.UserID, &p.Name, &p.Email, &p.Class,
		&house, &avatar, &resume,
		&education, &experiences, &organizations,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.House = house.String
	p.AvatarURL = avatar.String
	p.ResumeURL = resume.String

	if err := json.Unmarshal(education, &p.Education); err != nil {
		return nil, fmt.Errorf("failed to decode education: %w", err)
	}
	if err := json.Unmarshal(experiences, &p.Experiences); err != nil {
		return nil, fmt.Errorf("failed to decode experiences: %w", err)
	}
	if err := json.Unmarshal(organizations, &p.Organizations); err != nil {
		return nil, fmt.Errorf("failed to decode organizations: %w", err)
	}
	normalizeLists(p)

	return p, nil
}

// marshalLists はサブレコードのリストをJSONBに格納する形式に変換する。
func marshalLists(p *model.Profile) (education, experiences, organizations []byte, err error) {
	normalizeLists(p)

	if education, err = json.Marshal(p.Education); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode education: %w", err)
	}
	if experiences, err = json.Marshal(p.Experiences); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode experiences: %w", err)
	}
	if organizations, err = json.Marshal(p.Organizations); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode organizations: %w", err)
	}
	return education, experiences, organizations, nil
}

// normalizeLists はnilスライスを空スライスにする（JSONでnullではなく[]を返すため）。
func normalizeLists(p *model.Profile) {
	if p.Education == nil {
		p.Education = []model.Education{}
	}
	if p.Experiences == nil {
		p.Experiences = []model.Experience{}
	}
	if p.Organizations == nil {
		p.Organizations = []model.Organization{}
	}
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
