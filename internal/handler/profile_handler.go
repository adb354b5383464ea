package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/alumni/internal/middleware"
	"github.com/hitoshi/alumni/internal/model"
	"github.com/hitoshi/alumni/internal/profile"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Create(ctx context.Context, userID string, in profile.CreateInput) (*model.Profile, error)
	Get(ctx context.Context, userID string) (*model.Profile, error)
	GetByUserID(ctx context.Context, userID string) (*model.Profile, error)
	Update(ctx context.Context, userID string, in profile.UpdateInput) (*model.Profile, error)
	Delete(ctx context.Context, userID string) error
	ListAll(ctx context.Context) ([]*model.Profile, error)
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service        ProfileServiceInterface
	uploadMaxBytes int64
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface, uploadMaxBytes int64) *ProfileHandler {
	return &ProfileHandler{
		service:        service,
		uploadMaxBytes: uploadMaxBytes,
	}
}

type profileResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Profile *model.Profile `json:"profile"`
}

type profileListResponse struct {
	Success  bool             `json:"success"`
	Profiles []*model.Profile `json:"profiles"`
}

// errInvalidListData はリスト項目のJSONが解析できなかったことを表す。
var errInvalidListData = errors.New("invalid list data")

// profileForm はmultipartフォームから読み取った値。
type profileForm struct {
	name, email, class string
	house              *string

	education     []model.Education
	experiences   []model.Experience
	organizations []model.Organization

	avatar, resume *profile.Upload
}

// Create は認証ユーザーのプロフィールを作成する。
// POST /api/profiles
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	form, ok := h.readForm(w, r)
	if !ok {
		return
	}
	defer cleanupMultipart(r)

	in := profile.CreateInput{
		Name:          form.name,
		Email:         form.email,
		Class:         form.class,
		Education:     form.education,
		Experiences:   form.experiences,
		Organizations: form.organizations,
		Avatar:        form.avatar,
		Resume:        form.resume,
	}
	if form.house != nil {
		in.House = *form.house
	}
	if in.Experiences == nil {
		in.Experiences = []model.Experience{}
	}
	if in.Organizations == nil {
		in.Organizations = []model.Organization{}
	}

	p, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, profileResponse{
		Success: true,
		Message: "Profile created successfully",
		Profile: p,
	})
}

// GetMine は認証ユーザーのプロフィールを返す。
// GET /api/profiles/me
func (h *ProfileHandler) GetMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	p, err := h.service.Get(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, profileResponse{Success: true, Profile: p})
}

// GetByUserID は指定ユーザーのプロフィールを返す。
// GET /api/profiles/{userId}
func (h *ProfileHandler) GetByUserID(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetByUserID(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, profileResponse{Success: true, Profile: p})
}

// List は全プロフィールを新しい順に返す。
// GET /api/profiles
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.ListAll(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if profiles == nil {
		profiles = []*model.Profile{}
	}

	middleware.WriteJSON(w, http.StatusOK, profileListResponse{Success: true, Profiles: profiles})
}

// Update は認証ユーザーのプロフィールを部分更新する。
// PUT /api/profiles
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	form, ok := h.readForm(w, r)
	if !ok {
		return
	}
	defer cleanupMultipart(r)

	p, err := h.service.Update(r.Context(), userID, profile.UpdateInput{
		Name:          form.name,
		Email:         form.email,
		Class:         form.class,
		House:         form.house,
		Education:     form.education,
		Experiences:   form.experiences,
		Organizations: form.organizations,
		Avatar:        form.avatar,
		Resume:        form.resume,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, profileResponse{
		Success: true,
		Message: "Profile updated successfully",
		Profile: p,
	})
}

// Delete は認証ユーザーのプロフィールを削除する。
// DELETE /api/profiles
func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Profile deleted successfully",
	})
}

func (h *ProfileHandler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Unauthorized", "Session token is required")
		return "", false
	}
	return userID, true
}

// profileFileFields はプロフィールフォームのファイルフィールド数（avatar, resume）。
const profileFileFields = 2

// readForm はmultipartフォームを解析してprofileFormに詰める。
func (h *ProfileHandler) readForm(w http.ResponseWriter, r *http.Request) (*profileForm, bool) {
	if !parseMultipart(w, r, h.uploadMaxBytes, profileFileFields) {
		return nil, false
	}

	form := &profileForm{
		name:  r.FormValue("name"),
		email: r.FormValue("email"),
		class: r.FormValue("class"),
	}
	if values, ok := r.MultipartForm.Value["house"]; ok && len(values) > 0 {
		house := values[0]
		form.house = &house
	}

	// 1. リスト項目をデコード
	var err error
	if form.education, err = decodeListField[model.Education](r, "education"); err == nil {
		if form.experiences, err = decodeListField[model.Experience](r, "experiences"); err == nil {
			form.organizations, err = decodeListField[model.Organization](r, "organizations")
		}
	}
	if err != nil {
		cleanupMultipart(r)
		writeBadRequest(w, "Invalid data format", "Failed to parse education, experiences, or organizations data")
		return nil, false
	}

	// 2. ファイルを読み込む
	if form.avatar, err = readUpload(r, "avatar", avatarMIMETypes, h.uploadMaxBytes); err == nil {
		form.resume, err = readUpload(r, "resume", resumeMIMETypes, h.uploadMaxBytes)
	}
	if err != nil {
		cleanupMultipart(r)
		if errors.Is(err, errFileTooLarge) {
			writeBadRequest(w, "File too large", fmt.Sprintf("Maximum upload size is %d bytes", h.uploadMaxBytes))
			return nil, false
		}
		writeServiceError(w, r, err)
		return nil, false
	}

	return form, true
}

// decodeListField はJSON文字列のフォームフィールドをリストにデコードする。
// フィールドがない場合と空文字列の場合はnilを返す。
func decodeListField[T any](r *http.Request, field string) ([]T, error) {
	values, ok := r.MultipartForm.Value[field]
	if !ok || len(values) == 0 {
		return nil, nil
	}
	raw := strings.TrimSpace(values[0])
	if raw == "" {
		return nil, nil
	}

	list := []T{}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("%s: %w", field, errInvalidListData)
	}
	if list == nil {
		list = []T{}
	}
	return list, nil
}
