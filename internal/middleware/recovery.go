package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// headerTracker はハンドラーがステータスを書き込んだかを記録する。
type headerTracker struct {
	http.ResponseWriter
	written bool
}

func (t *headerTracker) WriteHeader(code int) {
	t.written = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *headerTracker) Write(b []byte) (int, error) {
	t.written = true
	return t.ResponseWriter.Write(b)
}

func (t *headerTracker) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// NewRecoveryMiddleware はハンドラーのpanicを回収して500のJSONを返す。
// レスポンスの書き込みが始まった後のpanicはログのみ残し、ボディを追記しない。
// http.ErrAbortHandler はnet/httpの規約どおり再送出する。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &headerTracker{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.Bool("response_started", tw.written),
					slog.String("stack", string(debug.Stack())),
				)
				if !tw.written {
					WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(tw, r)
		})
	}
}
