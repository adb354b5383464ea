package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/hitoshi/alumni/internal/model"
	"github.com/hitoshi/alumni/internal/profile"
)

// multipartOverheadBytes はファイル以外のフォーム部分に許容する余裕。
const multipartOverheadBytes = 1 << 20

// 許可するMIMEタイプ（フィールド別）。
var (
	avatarMIMETypes = []string{"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp"}
	resumeMIMETypes = []string{
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}
)

var errFileTooLarge = errors.New("file too large")

// parseMultipart はボディサイズを制限してmultipartフォームを解析する。
// 上限はファイル1件あたりの上限×fileCountにフォーム部分の余裕を足したもの。
// ファイルごとの上限はreadUploadで確認する。
// 失敗した場合はレスポンスを書き込み、falseを返す。
func parseMultipart(w http.ResponseWriter, r *http.Request, maxFileBytes int64, fileCount int) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFileBytes*int64(fileCount)+multipartOverheadBytes)

	if err := r.ParseMultipartForm(multipartOverheadBytes); err != nil {
		if isBodyTooLarge(err) {
			writeBadRequest(w, "File too large", fmt.Sprintf("Maximum upload size is %d bytes", maxFileBytes))
			return false
		}
		writeBadRequest(w, "Invalid request body", "Expected multipart/form-data")
		return false
	}
	return true
}

func cleanupMultipart(r *http.Request) {
	if r.MultipartForm != nil {
		r.MultipartForm.RemoveAll()
	}
}

// readUpload はフィールドのファイルを読み込む。ファイルがない場合は nil, nil を返す。
// allowedMIME が空でない場合、宣言されたContent-Typeが含まれていなければInvalidFileType。
func readUpload(r *http.Request, field string, allowedMIME []string, maxBytes int64) (*profile.Upload, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return nil, nil
	}
	header := r.MultipartForm.File[field][0]

	contentType := declaredContentType(header)
	if len(allowedMIME) > 0 && !slices.Contains(allowedMIME, contentType) {
		return nil, model.NewInvalidFileTypeError("Invalid file type for " + field)
	}
	if header.Size > maxBytes {
		return nil, errFileTooLarge
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, errFileTooLarge
	}

	return &profile.Upload{
		Data:        data,
		Filename:    header.Filename,
		ContentType: contentType,
	}, nil
}

func declaredContentType(header *multipart.FileHeader) string {
	mediaType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return strings.ToLower(mediaType)
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
