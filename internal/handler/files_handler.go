package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/alumni/internal/blob"
	"github.com/hitoshi/alumni/internal/metrics"
	"github.com/hitoshi/alumni/internal/middleware"
	"github.com/hitoshi/alumni/internal/model"
)

// Blob操作名（メトリクスのopラベル）。
const (
	blobOpPut    = "put"
	blobOpDelete = "delete"
	blobOpExists = "exists"
)

// FileStore はファイルハンドラーが必要とするオブジェクトストレージの操作。blob.Store が満たす。
type FileStore interface {
	Put(ctx context.Context, data []byte, originalName string, opts blob.PutOptions) (*model.Blob, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	URLFor(key string) string
}

var _ FileStore = (*blob.Store)(nil)

// FilesHandler は汎用ファイルアップロードのHTTPハンドラー。
type FilesHandler struct {
	store          FileStore
	metrics        metrics.Recorder
	uploadMaxBytes int64
}

// NewFilesHandler はFilesHandlerを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewFilesHandler(store FileStore, recorder metrics.Recorder, uploadMaxBytes int64) *FilesHandler {
	return &FilesHandler{
		store:          store,
		metrics:        metrics.OrNop(recorder),
		uploadMaxBytes: uploadMaxBytes,
	}
}

type fileDetail struct {
	Key          string `json:"key"`
	URL          string `json:"url"`
	Size         int64  `json:"size"`
	ContentType  string `json:"contentType"`
	OriginalName string `json:"originalName"`
}

type uploadFileResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	File    fileDetail `json:"file"`
}

type deleteFileResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Key     string `json:"key"`
}

type fileURLResponse struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
	URL     string `json:"url"`
}

// genericUploadFolders は汎用アップロードで指定できるフォルダ。
// プロフィール用のavatars/resumesはここからは書き込ませない。
var genericUploadFolders = []string{"documents", "images", "uploads"}

// Upload は "file" フィールドのファイルをアップロードする。
// 任意の "folder" フィールドはgenericUploadFoldersのいずれか。省略時はバケット直下。
// POST /api/files/upload-file
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r, h.uploadMaxBytes, 1) {
		return
	}
	defer cleanupMultipart(r)

	upload, err := readUpload(r, "file", nil, h.uploadMaxBytes)
	if err != nil {
		if errors.Is(err, errFileTooLarge) {
			writeBadRequest(w, "File too large", fmt.Sprintf("Maximum upload size is %d bytes", h.uploadMaxBytes))
			return
		}
		writeServiceError(w, r, err)
		return
	}
	if upload == nil {
		writeBadRequest(w, "No file provided", "Please select a file to upload")
		return
	}

	folder := r.FormValue("folder")
	if folder != "" && !slices.Contains(genericUploadFolders, folder) {
		writeBadRequest(w, "Invalid folder", "Folder must be one of: "+strings.Join(genericUploadFolders, ", "))
		return
	}

	stored, err := h.store.Put(r.Context(), upload.Data, upload.Filename, blob.PutOptions{
		Folder: folder,
	})
	h.metrics.RecordBlobOperation(blobOpPut, metrics.Outcome(err))
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			err = model.NewInternalError("Failed to upload file", err)
		}
		writeServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, uploadFileResponse{
		Success: true,
		Message: "File uploaded successfully",
		File: fileDetail{
			Key:          stored.Key,
			URL:          stored.URL,
			Size:         stored.Size,
			ContentType:  stored.ContentType,
			OriginalName: upload.Filename,
		},
	})
}

// Delete はキーで指定したファイルを削除する。存在しない場合は404。
// DELETE /api/files/delete-file/*
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := fileKey(r)
	if key == "" {
		writeBadRequest(w, "File key is required", "Please provide a file key to delete")
		return
	}

	exists, err := h.store.Exists(r.Context(), key)
	h.metrics.RecordBlobOperation(blobOpExists, metrics.Outcome(err))
	if err != nil {
		writeServiceError(w, r, model.NewInternalError("Failed to delete file", err))
		return
	}
	if !exists {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "File not found", "The specified file does not exist")
		return
	}

	err = h.store.Delete(r.Context(), key)
	h.metrics.RecordBlobOperation(blobOpDelete, metrics.Outcome(err))
	if err != nil {
		writeServiceError(w, r, model.NewInternalError("Failed to delete file", err))
		return
	}

	slog.Info("file deleted", slog.String("key", key))
	middleware.WriteJSON(w, http.StatusOK, deleteFileResponse{
		Success: true,
		Message: "File deleted successfully",
		Key:     key,
	})
}

// GetURL はキーに対応する公開URLを返す。ストレージへの問い合わせは行わない。
// GET /api/files/get-file-url/*
func (h *FilesHandler) GetURL(w http.ResponseWriter, r *http.Request) {
	key := fileKey(r)
	if key == "" {
		writeBadRequest(w, "File key is required", "Please provide a file key")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, fileURLResponse{
		Success: true,
		Key:     key,
		URL:     h.store.URLFor(key),
	})
}

// fileKey はワイルドカード部分からキーを取り出す。フォルダ区切りの/を含みうる。
func fileKey(r *http.Request) string {
	return strings.Trim(chi.URLParam(r, "*"), "/")
}
