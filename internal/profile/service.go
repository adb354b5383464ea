// Package profile は卒業生プロフィールの作成・参照・更新・削除と一覧を提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hitoshi/alumni/internal/blob"
	"github.com/hitoshi/alumni/internal/metrics"
	"github.com/hitoshi/alumni/internal/model"
	"github.com/hitoshi/alumni/internal/repository"
	"github.com/hitoshi/alumni/internal/security"
)

// プロフィールイベント名（メトリクスのeventラベル）。
const (
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
)

const (
	avatarFolder = "avatars"
	resumeFolder = "resumes"
)

// BlobStore はプロフィールが利用するオブジェクトストレージの操作。blob.Store が満たす。
type BlobStore interface {
	Put(ctx context.Context, data []byte, originalName string, opts blob.PutOptions) (*model.Blob, error)
	Delete(ctx context.Context, key string) error
	KeyFromURL(rawURL string) (string, error)
}

// Upload はアップロードされたファイル1件を表す。
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
}

// CreateInput はプロフィール作成の入力。リストはハンドラーで構造化済みであること。
type CreateInput struct {
	Name          string
	Email         string
	Class         string
	House         string
	Education     []model.Education
	Experiences   []model.Experience
	Organizations []model.Organization
	Avatar        *Upload
	Resume        *Upload
}

// UpdateInput はプロフィール更新の入力。
// 空文字列のName/Email/Class、nilのHouse、空のEducation、nilのExperiences/Organizationsは
// 既存の値を保持する。
type UpdateInput struct {
	Name          string
	Email         string
	Class         string
	House         *string
	Education     []model.Education
	Experiences   []model.Experience
	Organizations []model.Organization
	Avatar        *Upload
	Resume        *Upload
}

// scalarFields は単一値フィールドの制約。長さはprofilesテーブルのカラム幅に合わせる。
// 空文字列は未指定として扱い、必須チェックは呼び出し側で行う。
type scalarFields struct {
	Name  string `validate:"omitempty,min=2,max=100"`
	Email string `validate:"omitempty,max=320,email"`
	Class string `validate:"omitempty,max=50"`
	House string `validate:"omitempty,max=100"`
}

// Service はプロフィールに関するビジネスロジックを提供する。
type Service struct {
	repo      repository.ProfileRepository
	blobs     BlobStore
	sanitizer security.TextSanitizerService
	validate  *validator.Validate
	metrics   metrics.Recorder
	now       func() time.Time
}

// NewService はServiceを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewService(
	repo repository.ProfileRepository,
	blobs BlobStore,
	sanitizer security.TextSanitizerService,
	recorder metrics.Recorder,
) *Service {
	return &Service{
		repo:      repo,
		blobs:     blobs,
		sanitizer: sanitizer,
		validate:  validator.New(),
		metrics:   metrics.OrNop(recorder),
		now:       time.Now,
	}
}

// Create はユーザーのプロフィールを作成する。既に存在する場合はConflict。
// ファイルは検証後、永続化の前にアップロードする。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Profile, error) {
	// 1. 既存プロフィールを確認
	existing, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if existing != nil {
		return nil, errProfileExists()
	}

	// 2. 入力を正規化・検証
	s.sanitizeScalars(&in.Name, &in.Email, &in.Class, &in.House)
	if in.Name == "" || in.Email == "" || in.Class == "" {
		return nil, model.NewValidationError("Missing required fields", "Name, email, and class are required")
	}
	if err := s.validateScalars(scalarFields{Name: in.Name, Email: in.Email, Class: in.Class, House: in.House}); err != nil {
		return nil, err
	}
	if len(in.Education) == 0 {
		return nil, model.NewValidationError("Invalid education data", "At least one education entry is required")
	}
	s.sanitizeLists(in.Education, in.Experiences, in.Organizations)
	if err := s.validateLists(in.Education, in.Experiences, in.Organizations); err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Profile{
		ID:            uuid.New().String(),
		UserID:        userID,
		Name:          in.Name,
		Email:         in.Email,
		Class:         in.Class,
		House:         in.House,
		Education:     in.Education,
		Experiences:   in.Experiences,
		Organizations: in.Organizations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// 3. ファイルをアップロード（以降の失敗ではこの呼び出しで置いたファイルを解放する）
	var uploaded []string
	if in.Avatar != nil {
		b, err := s.put(ctx, in.Avatar, avatarFolder)
		if err != nil {
			return nil, err
		}
		uploaded = append(uploaded, b.URL)
		p.AvatarURL = b.URL
	}
	if in.Resume != nil {
		b, err := s.put(ctx, in.Resume, resumeFolder)
		if err != nil {
			s.releaseAll(ctx, userID, uploaded)
			return nil, err
		}
		uploaded = append(uploaded, b.URL)
		p.ResumeURL = b.URL
	}

	// 4. 永続化（同時作成は一意制約で検出する）
	if err := s.repo.Create(ctx, p); err != nil {
		s.releaseAll(ctx, userID, uploaded)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, errProfileExists()
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	s.metrics.RecordProfileEvent(EventCreate)
	slog.Info("profile created", slog.String("user_id", userID), slog.String("profile_id", p.ID))
	return p, nil
}

// Get はユーザー自身のプロフィールを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if p == nil {
		return nil, errProfileNotFound("No profile found for this user")
	}
	return p, nil
}

// GetByUserID は指定ユーザーのプロフィールを返す。IDがUUIDでない場合はValidationError。
func (s *Service) GetByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, model.NewValidationError("Invalid user ID", "Please provide a valid user ID")
	}
	// urn:uuid: や {} 付きの表記も受け付けるため、正規形に揃えてから検索する
	return s.Get(ctx, id.String())
}

// Update はプロフィールを部分更新する。
// 新しいファイルのアップロードが成功してから古いファイルを削除する。古いファイルの削除失敗はログのみ。
func (s *Service) Update(ctx context.Context, userID string, in UpdateInput) (*model.Profile, error) {
	// 1. 既存プロフィールを取得
	p, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if p == nil {
		return nil, errProfileNotFound("No profile found for this user. Use POST to create.")
	}

	// 2. 入力を正規化・検証
	s.sanitizeScalars(&in.Name, &in.Email, &in.Class, in.House)
	fields := scalarFields{Name: in.Name, Email: in.Email, Class: in.Class}
	if in.House != nil {
		fields.House = *in.House
	}
	if err := s.validateScalars(fields); err != nil {
		return nil, err
	}
	s.sanitizeLists(in.Education, in.Experiences, in.Organizations)
	if err := s.validateLists(in.Education, in.Experiences, in.Organizations); err != nil {
		return nil, err
	}

	// 3. ファイルを差し替え
	var staleURLs, uploaded []string
	if in.Avatar != nil {
		b, err := s.put(ctx, in.Avatar, avatarFolder)
		if err != nil {
			return nil, err
		}
		uploaded = append(uploaded, b.URL)
		if p.AvatarURL != "" {
			staleURLs = append(staleURLs, p.AvatarURL)
		}
		p.AvatarURL = b.URL
	}
	if in.Resume != nil {
		b, err := s.put(ctx, in.Resume, resumeFolder)
		if err != nil {
			s.releaseAll(ctx, userID, uploaded)
			return nil, err
		}
		uploaded = append(uploaded, b.URL)
		if p.ResumeURL != "" {
			staleURLs = append(staleURLs, p.ResumeURL)
		}
		p.ResumeURL = b.URL
	}

	// 4. 指定されたフィールドのみ上書き
	if in.Name != "" {
		p.Name = in.Name
	}
	if in.Email != "" {
		p.Email = in.Email
	}
	if in.Class != "" {
		p.Class = in.Class
	}
	if in.House != nil {
		p.House = *in.House
	}
	if len(in.Education) > 0 {
		p.Education = in.Education
	}
	if in.Experiences != nil {
		p.Experiences = in.Experiences
	}
	if in.Organizations != nil {
		p.Organizations = in.Organizations
	}
	p.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, p); err != nil {
		s.releaseAll(ctx, userID, uploaded)
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	// 5. 差し替え前のファイルを削除
	s.releaseAll(ctx, userID, staleURLs)

	s.metrics.RecordProfileEvent(EventUpdate)
	slog.Info("profile updated", slog.String("user_id", userID), slog.String("profile_id", p.ID))
	return p, nil
}

// Delete はプロフィールを削除し、添付ファイルも解放する。解放の失敗はログのみ。
func (s *Service) Delete(ctx context.Context, userID string) error {
	p, err := s.repo.DeleteByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if p == nil {
		return errProfileNotFound("No profile found for this user")
	}

	s.release(ctx, userID, p.AvatarURL)
	s.release(ctx, userID, p.ResumeURL)

	s.metrics.RecordProfileEvent(EventDelete)
	slog.Info("profile deleted", slog.String("user_id", userID), slog.String("profile_id", p.ID))
	return nil
}

// ListAll は全プロフィールを作成日時の降順で返す。
func (s *Service) ListAll(ctx context.Context) ([]*model.Profile, error) {
	profiles, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// put はファイルを指定フォルダにアップロードする。
func (s *Service) put(ctx context.Context, u *Upload, folder string) (*model.Blob, error) {
	b, err := s.blobs.Put(ctx, u.Data, u.Filename, blob.PutOptions{
		Folder:      folder,
		ContentType: u.ContentType,
		Extensions:  blob.MediaExtensions,
	})
	s.metrics.RecordBlobOperation("put", metrics.Outcome(err))
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, model.NewUpstreamError("File upload failed", "Failed to store "+strings.TrimSuffix(folder, "s"), false, err)
	}
	return b, nil
}

func (s *Service) releaseAll(ctx context.Context, userID string, urls []string) {
	for _, u := range urls {
		s.release(ctx, userID, u)
	}
}

// release は公開URLからキーを求めてファイルを削除する。失敗はWarnログのみ。
func (s *Service) release(ctx context.Context, userID, rawURL string) {
	if rawURL == "" {
		return
	}
	key, err := s.blobs.KeyFromURL(rawURL)
	if err != nil {
		slog.Warn("failed to derive blob key",
			slog.String("user_id", userID),
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return
	}

	err = s.blobs.Delete(ctx, key)
	s.metrics.RecordBlobOperation("delete", metrics.Outcome(err))
	if err != nil {
		slog.Warn("failed to delete blob",
			slog.String("user_id", userID),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) sanitizeScalars(name, email, class, house *string) {
	security.SanitizeAll(s.sanitizer, name, class, house)
	*email = strings.ToLower(strings.TrimSpace(*email))
}

func (s *Service) sanitizeLists(education []model.Education, experiences []model.Experience, organizations []model.Organization) {
	for i := range education {
		e := &education[i]
		security.SanitizeAll(s.sanitizer, &e.University, &e.DegreeName, &e.DegreeType)
		s.sanitizePeriod(&e.Period)
	}
	for i := range experiences {
		e := &experiences[i]
		security.SanitizeAll(s.sanitizer, &e.Company, &e.Location, &e.Position)
		s.sanitizePeriod(&e.Period)
	}
	for i := range organizations {
		o := &organizations[i]
		security.SanitizeAll(s.sanitizer, &o.Name, &o.Position)
		s.sanitizePeriod(&o.Period)
	}
}

func (s *Service) sanitizePeriod(p *model.Period) {
	security.SanitizeAll(s.sanitizer, &p.StartMonth, &p.StartYear, &p.EndMonth, &p.EndYear, &p.Description)
}

// validateLists は各エントリをvalidatorのタグで検証する。最初の違反のみ報告する。
func (s *Service) validateLists(education []model.Education, experiences []model.Experience, organizations []model.Organization) error {
	for i := range education {
		if err := s.validateEntry("education", i, &education[i]); err != nil {
			return err
		}
	}
	for i := range experiences {
		if err := s.validateEntry("experiences", i, &experiences[i]); err != nil {
			return err
		}
	}
	for i := range organizations {
		if err := s.validateEntry("organizations", i, &organizations[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) validateEntry(list string, index int, entry any) error {
	err := s.validate.Struct(entry)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		field := lowerFirst(first.Field())
		if first.Tag() == "required" {
			return model.NewValidationError("Validation error",
				fmt.Sprintf("%s[%d].%s is required", list, index, field))
		}
		return model.NewValidationError("Validation error",
			fmt.Sprintf("%s[%d].%s is invalid", list, index, field))
	}
	return model.NewValidationError("Validation error", fmt.Sprintf("%s[%d] is invalid", list, index))
}

// validateScalars は名前・メール・クラス・ハウスの形式と長さを検証する。
func (s *Service) validateScalars(fields scalarFields) error {
	err := s.validate.Struct(fields)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.NewValidationError("Validation error", "Profile fields are invalid")
	}
	first := verrs[0]
	field := strings.ToLower(first.Field())
	switch first.Tag() {
	case "email":
		return model.NewValidationError("Validation error", "email must be a valid email address")
	case "min":
		return model.NewValidationError("Validation error",
			fmt.Sprintf("%s must be at least %s characters", field, first.Param()))
	case "max":
		return model.NewValidationError("Validation error",
			fmt.Sprintf("%s must be at most %s characters", field, first.Param()))
	default:
		return model.NewValidationError("Validation error", field+" is invalid")
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func errProfileExists() error {
	return model.NewConflictError("Profile already exists", "A profile already exists for this user. Use PUT to update.")
}

func errProfileNotFound(message string) error {
	return model.NewNotFoundError("Profile not found", message)
}
