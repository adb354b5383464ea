package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/alumni/internal/middleware"
	"github.com/hitoshi/alumni/internal/model"
)

// writeServiceError はサービス層から返されたエラーをHTTPレスポンスに変換する。
// APIError以外のエラーは詳細をログにのみ記録し、500を返す。
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status := statusForError(apiErr)
		if status >= http.StatusInternalServerError {
			slog.Error("request failed",
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
				slog.String("kind", string(apiErr.Kind)),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteErrorResponse(w, status, apiErr.Title, apiErr.Message)
		return
	}

	slog.Error("internal server error",
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// statusForError はAPIErrorの種別をHTTPステータスコードにマッピングする。
func statusForError(apiErr *model.APIError) int {
	switch apiErr.Kind {
	case model.KindValidation, model.KindInvalidFileType:
		return http.StatusBadRequest
	case model.KindUnauthorized:
		return http.StatusUnauthorized
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindUpstream:
		if apiErr.CallerFault {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeBadRequest は400レスポンスを書き込む。
func writeBadRequest(w http.ResponseWriter, title, message string) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, title, message)
}
