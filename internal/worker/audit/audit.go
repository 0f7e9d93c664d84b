// Package audit は貸出状態の整合性監査ジョブを提供する。
// availability_statusと貸出中履歴の食い違い、同一書籍への貸出中履歴の重複を
// 定期的に検出してログとメトリクスに出力する。書籍や履歴は変更しない。
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HridoyExe/library-management/internal/metrics"
	"github.com/HridoyExe/library-management/internal/repository"
)

// Report は1回の監査結果を表す。
type Report struct {
	Mismatches []repository.AvailabilityMismatch
	Duplicates map[string]int
}

// Consistent は不整合が1件もない場合にtrueを返す。
func (r *Report) Consistent() bool {
	return len(r.Mismatches) == 0 && len(r.Duplicates) == 0
}

// AuditJob は貸出状態の整合性監査ジョブ。
type AuditJob struct {
	repo    repository.AuditRepository
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewAuditJob は新しいAuditJobを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewAuditJob(repo repository.AuditRepository, collector metrics.MetricsCollector, logger *slog.Logger) *AuditJob {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditJob{
		repo:    repo,
		metrics: collector,
		logger:  logger,
	}
}

// Run は監査を1回実行する。
// 検出した不整合は1件ずつWARNで記録し、件数をゲージに設定する。
func (j *AuditJob) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	mismatches, err := j.repo.FindAvailabilityMismatches(ctx)
	if err != nil {
		j.logger.Error("貸出可否の監査に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("貸出可否の監査に失敗: %w", err)
	}

	duplicates, err := j.repo.FindDuplicateOpenRecords(ctx)
	if err != nil {
		j.logger.Error("貸出中履歴の重複監査に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("貸出中履歴の重複監査に失敗: %w", err)
	}

	for _, m := range mismatches {
		j.logger.Warn("availability mismatch",
			slog.String("book_id", m.BookID),
			slog.Bool("availability_status", m.AvailabilityStatus),
			slog.Int("open_records", m.OpenRecords),
		)
	}
	for bookID, n := range duplicates {
		j.logger.Warn("duplicate open borrow records",
			slog.String("book_id", bookID),
			slog.Int("open_records", n),
		)
	}

	j.metrics.SetAuditInconsistencies(metrics.AuditAvailabilityMismatch, len(mismatches))
	j.metrics.SetAuditInconsistencies(metrics.AuditDuplicateOpen, len(duplicates))

	j.logger.Info("貸出状態の監査が完了しました",
		slog.Int("availability_mismatches", len(mismatches)),
		slog.Int("duplicate_open", len(duplicates)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return &Report{Mismatches: mismatches, Duplicates: duplicates}, nil
}

// Start は起動直後に1回、その後interval毎に監査を実行する。
// ctxがキャンセルされるまでブロックする。個々の実行の失敗はログに残して継続する。
func (j *AuditJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *AuditJob) runOnce(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil {
		j.logger.Error("audit job failed", slog.String("error", err.Error()))
	}
}
