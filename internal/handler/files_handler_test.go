package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/alumni/internal/blob"
	"github.com/hitoshi/alumni/internal/model"
)

// --- モック定義 ---

type mockFileStore struct {
	putFn    func(ctx context.Context, data []byte, originalName string, opts blob.PutOptions) (*model.Blob, error)
	deleteFn func(ctx context.Context, key string) error
	existsFn func(ctx context.Context, key string) (bool, error)

	deleted []string
}

var _ FileStore = (*mockFileStore)(nil)

func (m *mockFileStore) Put(ctx context.Context, data []byte, originalName string, opts blob.PutOptions) (*model.Blob, error) {
	if m.putFn != nil {
		return m.putFn(ctx, data, originalName, opts)
	}
	key := originalName
	if opts.Folder != "" {
		key = opts.Folder + "/" + originalName
	}
	return &model.Blob{Key: key, URL: m.URLFor(key), Size: int64(len(data)), ContentType: "application/octet-stream"}, nil
}

func (m *mockFileStore) Delete(ctx context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, key)
	}
	return nil
}

func (m *mockFileStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, key)
	}
	return true, nil
}

func (m *mockFileStore) URLFor(key string) string {
	return "https://cdn.example.com/" + key
}

type blobOp struct{ op, outcome string }

type mockRecorder struct {
	blobOps []blobOp
}

func (m *mockRecorder) RecordHTTPRequest(int, time.Duration) {}
func (m *mockRecorder) RecordAuthEvent(string, string) {}
func (m *mockRecorder) RecordBlobOperation(op, outcome string) {
	m.blobOps = append(m.blobOps, blobOp{op, outcome})
}
func (m *mockRecorder) RecordProfileEvent(string) {}
func (m *mockRecorder) RecordSessionsPurged(int64) {}

// withWildcard はchiのワイルドカードパラメータを設定する。
func withWildcard(req *http.Request, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("*", value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// --- テスト ---

func TestFilesHandler_Upload_Success(t *testing.T) {
	var gotName string
	var gotOpts blob.PutOptions
	store := &mockFileStore{
		putFn: func(ctx context.Context, data []byte, originalName string, opts blob.PutOptions) (*model.Blob, error) {
			gotName, gotOpts = originalName, opts
			return &model.Blob{
				Key:         "documents/report_1700000000000_abcd.pdf",
				URL:         "https://cdn.example.com/documents/report_1700000000000_abcd.pdf",
				Size:        int64(len(data)),
				ContentType: "application/pdf",
			}, nil
		},
	}
	recorder := &mockRecorder{}
	h := NewFilesHandler(store, recorder, testMaxBytes)

	req := newMultipartRequest(t, http.MethodPost, "/api/files/upload-file",
		map[string]string{"folder": "documents"},
		formFile{"file", "report.pdf", "application/pdf", []byte("%PDF")},
	)
	w := httptest.NewRecorder()

	h.Upload(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if gotName != "report.pdf" || gotOpts.Folder != "documents" {
		t.Errorf("Put called with (%q, %+v)", gotName, gotOpts)
	}
	if gotOpts.Extensions != nil {
		t.Error("generic uploads should use the default extension list")
	}

	var body uploadFileResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Message != "File uploaded successfully" {
		t.Errorf("message = %q", body.Message)
	}
	if body.File.Size != 4 || body.File.OriginalName != "report.pdf" || body.File.ContentType != "application/pdf" {
		t.Errorf("file = %+v", body.File)
	}

	if len(recorder.blobOps) != 1 || recorder.blobOps[0] != (blobOp{"put", "success"}) {
		t.Errorf("blob ops = %+v", recorder.blobOps)
	}
}

// 許可リスト外のフォルダは保存前に拒否する
func TestFilesHandler_Upload_RejectsUnknownFolder(t *testing.T) {
	for _, folder := range []string{"avatars", "resumes", "../avatars", "documents/sub"} {
		t.Run(folder, func(t *testing.T) {
			store := &mockFileStore{
				putFn: func(ctx context.Context, data []byte, name string, opts blob.PutOptions) (*model.Blob, error) {
					t.Error("Put must not be called for a rejected folder")
					return nil, nil
				},
			}
			h := NewFilesHandler(store, nil, testMaxBytes)

			req := newMultipartRequest(t, http.MethodPost, "/api/files/upload-file",
				map[string]string{"folder": folder},
				formFile{"file", "report.pdf", "application/pdf", []byte("%PDF")},
			)
			w := httptest.NewRecorder()

			h.Upload(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := decodeError(t, w); body.Error != "Invalid folder" {
				t.Errorf("error = %q", body.Error)
			}
		})
	}
}

func TestFilesHandler_Upload_NoFolder_StoresAtRoot(t *testing.T) {
	var gotOpts blob.PutOptions
	store := &mockFileStore{
		putFn: func(ctx context.Context, data []byte, name string, opts blob.PutOptions) (*model.Blob, error) {
			gotOpts = opts
			return &model.Blob{Key: "report.pdf", URL: "https://cdn.example.com/report.pdf"}, nil
		},
	}
	h := NewFilesHandler(store, nil, testMaxBytes)

	req := newMultipartRequest(t, http.MethodPost, "/api/files/upload-file", nil,
		formFile{"file", "report.pdf", "application/pdf", []byte("%PDF")},
	)
	w := httptest.NewRecorder()

	h.Upload(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if gotOpts.Folder != "" {
		t.Errorf("Folder = %q, want empty", gotOpts.Folder)
	}
}

func TestFilesHandler_Upload_NoFile(t *testing.T) {
	h := NewFilesHandler(&mockFileStore{}, nil, testMaxBytes)

	req := newMultipartRequest(t, http.MethodPost, "/api/files/upload-file", map[string]string{"folder": "documents"})
	w := httptest.NewRecorder()

	h.Upload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := decodeError(t, w)
	if body.Error != "No file provided" || body.Message != "Please select a file to upload" {
		t.Errorf("body = %+v", body)
	}
}

func TestFilesHandler_Upload_DisallowedExtension(t *testing.T) {
	store := &mockFileStore{
		putFn: func(ctx context.Context, data []byte, originalName string, opts blob.PutOptions) (*model.Blob, error) {
			return nil, model.NewInvalidFileTypeError("File type .exe is not allowed")
		},
	}
	recorder := &mockRecorder{}
	h := NewFilesHandler(store, recorder, testMaxBytes)

	req := newMultipartRequest(t, http.MethodPost, "/api/files/upload-file", nil,
		formFile{"file", "tool.exe", "application/octet-stream", []byte("MZ")})
	w := httptest.NewRecorder()

	h.Upload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Error != "Invalid file type" {
		t.Errorf("error = %q", body.Error)
	}
	if len(recorder.blobOps) != 1 || recorder.blobOps[0].outcome != "failure" {
		t.Errorf("blob ops = %+v", recorder.blobOps)
	}
}

func TestFilesHandler_Upload_StorageFailure_Returns500(t *testing.T) {
	store := &mockFileStore{
		putFn: func(ctx context.Context, data []byte, originalName string, opts blob.PutOptions) (*model.Blob, error) {
			return nil, errors.New("connection reset")
		},
	}
	h := NewFilesHandler(store, nil, testMaxBytes)

	req := newMultipartRequest(t, http.MethodPost, "/api/files/upload-file", nil,
		formFile{"file", "notes.txt", "text/plain", []byte("hi")})
	w := httptest.NewRecorder()

	h.Upload(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestFilesHandler_Upload_TooLarge(t *testing.T) {
	h := NewFilesHandler(&mockFileStore{}, nil, testMaxBytes)

	req := newMultipartRequest(t, http.MethodPost, "/api/files/upload-file", nil,
		formFile{"file", "big.txt", "text/plain", bytes.Repeat([]byte("a"), testMaxBytes+1)})
	w := httptest.NewRecorder()

	h.Upload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Error != "File too large" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestFilesHandler_Delete_Success(t *testing.T) {
	store := &mockFileStore{}
	recorder := &mockRecorder{}
	h := NewFilesHandler(store, recorder, testMaxBytes)

	req := withWildcard(httptest.NewRequest(http.MethodDelete, "/api/files/delete-file/avatars/me.png", nil), "avatars/me.png")
	w := httptest.NewRecorder()

	h.Delete(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "avatars/me.png" {
		t.Errorf("deleted = %v", store.deleted)
	}

	var body deleteFileResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Key != "avatars/me.png" || body.Message != "File deleted successfully" {
		t.Errorf("body = %+v", body)
	}

	want := []blobOp{{"exists", "success"}, {"delete", "success"}}
	if len(recorder.blobOps) != len(want) {
		t.Fatalf("blob ops = %+v", recorder.blobOps)
	}
	for i := range want {
		if recorder.blobOps[i] != want[i] {
			t.Errorf("blob op[%d] = %+v, want %+v", i, recorder.blobOps[i], want[i])
		}
	}
}

func TestFilesHandler_Delete_Absent_ReturnsNotFound(t *testing.T) {
	store := &mockFileStore{
		existsFn: func(ctx context.Context, key string) (bool, error) { return false, nil },
	}
	h := NewFilesHandler(store, nil, testMaxBytes)

	req := withWildcard(httptest.NewRequest(http.MethodDelete, "/api/files/delete-file/missing.png", nil), "missing.png")
	w := httptest.NewRecorder()

	h.Delete(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if len(store.deleted) != 0 {
		t.Error("absent files should not be deleted")
	}
	body := decodeError(t, w)
	if body.Error != "File not found" || body.Message != "The specified file does not exist" {
		t.Errorf("body = %+v", body)
	}
}

func TestFilesHandler_Delete_MissingKey(t *testing.T) {
	h := NewFilesHandler(&mockFileStore{}, nil, testMaxBytes)

	req := withWildcard(httptest.NewRequest(http.MethodDelete, "/api/files/delete-file/", nil), "")
	w := httptest.NewRecorder()

	h.Delete(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Message != "Please provide a file key to delete" {
		t.Errorf("message = %q", body.Message)
	}
}

func TestFilesHandler_Delete_ExistsError_Returns500(t *testing.T) {
	store := &mockFileStore{
		existsFn: func(ctx context.Context, key string) (bool, error) { return false, errors.New("timeout") },
	}
	h := NewFilesHandler(store, nil, testMaxBytes)

	req := withWildcard(httptest.NewRequest(http.MethodDelete, "/api/files/delete-file/a.png", nil), "a.png")
	w := httptest.NewRecorder()

	h.Delete(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestFilesHandler_GetURL(t *testing.T) {
	h := NewFilesHandler(&mockFileStore{}, nil, testMaxBytes)

	req := withWildcard(httptest.NewRequest(http.MethodGet, "/api/files/get-file-url/resumes/cv.pdf", nil), "resumes/cv.pdf")
	w := httptest.NewRecorder()

	h.GetURL(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body fileURLResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Key != "resumes/cv.pdf" || body.URL != "https://cdn.example.com/resumes/cv.pdf" {
		t.Errorf("body = %+v", body)
	}
}

func TestFilesHandler_GetURL_MissingKey(t *testing.T) {
	h := NewFilesHandler(&mockFileStore{}, nil, testMaxBytes)

	req := withWildcard(httptest.NewRequest(http.MethodGet, "/api/files/get-file-url/", nil), "")
	w := httptest.NewRecorder()

	h.GetURL(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Message != "Please provide a file key" {
		t.Errorf("message = %q", body.Message)
	}
}
