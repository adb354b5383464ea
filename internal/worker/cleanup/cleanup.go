// Package cleanup は期限切れ・無効化済みセッションの自動削除ジョブを提供する。
// 保持期間（デフォルト7日）を過ぎたセッションを定期バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/alumni/internal/metrics"
)

// DefaultRetentionDays はセッションを削除するまでの保持日数のデフォルト値。
const DefaultRetentionDays = 7

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// 期限切れから、または無効化から保持期間を過ぎたセッションを削除する。
const purgeSessionsQuery = `DELETE FROM sessions
WHERE expires_at < now() - $1::interval
   OR (state = 'invalidated' AND invalidated_at < now() - $1::interval)`

// SessionCleanupJob は保持期間を超過したセッションの自動削除ジョブ。
// 冪等な削除処理なので、複数のワーカーが同時に実行しても問題ない。
type SessionCleanupJob struct {
	db            Executor
	logger        *slog.Logger
	metrics       metrics.Recorder
	RetentionDays int // セッションの保持日数（デフォルト: 7）
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewSessionCleanupJob(db Executor, logger *slog.Logger, recorder metrics.Recorder) *SessionCleanupJob {
	return &SessionCleanupJob{
		db:            db,
		logger:        logger,
		metrics:       metrics.OrNop(recorder),
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は保持期間を超過したセッションを1回削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	result, err := j.db.ExecContext(ctx, purgeSessionsQuery, interval)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	j.metrics.RecordSessionsPurged(deletedCount)

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後interval間隔でRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。Runの失敗はログに残して次回に持ち越す。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	// 起動直後に1回実行
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
