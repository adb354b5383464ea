package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/alumni/internal/middleware"
)

const healthCheckTimeout = 2 * time.Second

// Pinger は依存先への疎通確認。*sql.DB が満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックエンドポイント。
type HealthHandler struct {
	db  Pinger
	now func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。dbがnilの場合はDBの確認を省略する。
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db, now: time.Now}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ServeHTTP はDBへのPingを含むヘルスチェック結果を返す。
// GET /api/health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "OK",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp.Checks = map[string]string{"database": "ok"}
		if err := h.db.PingContext(ctx); err != nil {
			slog.Warn("health check failed",
				slog.String("check", "database"),
				slog.String("error", err.Error()),
			)
			resp.Status = "DEGRADED"
			resp.Checks["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	middleware.WriteJSON(w, status, resp)
}
