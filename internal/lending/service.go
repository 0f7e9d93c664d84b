// Package lending は貸出台帳のドメインロジックを提供する。
//
// 貸出台帳は書籍のavailability_statusと貸出履歴のopen/closed状態を管理する唯一のコンポーネントで、
// 貸出（Borrow）と返却（Return）はそれぞれひとつのトランザクションで実行される。
package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/HridoyExe/library-management/internal/metrics"
	"github.com/HridoyExe/library-management/internal/model"
	"github.com/HridoyExe/library-management/internal/repository"
)

// Service は貸出台帳のサービス層。
type Service struct {
	lending repository.LendingRepository
	records repository.BorrowRecordRepository
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(
	lending repository.LendingRepository,
	records repository.BorrowRecordRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		lending: lending,
		records: records,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// SetClock はテスト用に現在時刻の取得関数を差し替える。
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// isValidID はIDがUUID形式かどうかを返す。
// 不正な形式のIDは存在しないIDと同じく扱う。
func isValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// resultLabel はメトリクス用の結果ラベルを返す。
func resultLabel(err error) string {
	if err == nil {
		return metrics.ResultSuccess
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return model.ErrCodeInternal
}

// Borrow は会員に書籍を貸し出す。
//
// 検査順序:
//  1. 書籍・会員が存在しない場合はNotFound
//  2. 同じ会員が同じ書籍を返却前に借りている場合はConflict（ALREADY_BORROWED）
//  3. 書籍が貸出不可の場合はInvalidState（BOOK_NOT_AVAILABLE）
//
// 2を3より先に検査するのは意図的な順序で、入れ替えてはならない。
// 貸出中の書籍は常に貸出不可のため、逆順では同じ会員による再貸出がALREADY_BORROWEDにならない。
//
// 書籍行をロックした状態で検査と更新を行うため、同じ書籍への同時貸出は1件だけ成功する。
func (s *Service) Borrow(ctx context.Context, bookID, memberID string) (*model.BorrowRecord, error) {
	rec, err := s.borrow(ctx, bookID, memberID)
	s.metrics.RecordBorrow(resultLabel(err))
	if err != nil {
		return nil, err
	}

	s.logger.Info("book borrowed",
		slog.String("record_id", rec.ID),
		slog.String("book_id", bookID),
		slog.String("member_id", memberID),
	)

	return s.reload(ctx, rec), nil
}

func (s *Service) borrow(ctx context.Context, bookID, memberID string) (*model.BorrowRecord, error) {
	if !isValidID(bookID) {
		return nil, model.NewBookNotFoundError(bookID)
	}
	if !isValidID(memberID) {
		return nil, model.NewMemberNotFoundError(memberID)
	}

	now := s.now()
	var created *model.BorrowRecord

	err := s.lending.RunInTx(ctx, func(ctx context.Context, tx repository.LendingTx) error {
		book, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return fmt.Errorf("書籍の取得に失敗しました: %w", err)
		}
		if book == nil {
			return model.NewBookNotFoundError(bookID)
		}

		member, err := tx.FindMember(ctx, memberID)
		if err != nil {
			return fmt.Errorf("会員の取得に失敗しました: %w", err)
		}
		if member == nil {
			return model.NewMemberNotFoundError(memberID)
		}

		open, err := tx.HasOpenRecord(ctx, bookID, memberID)
		if err != nil {
			return fmt.Errorf("貸出中履歴の確認に失敗しました: %w", err)
		}
		if open {
			return model.NewAlreadyBorrowedError()
		}

		if !book.AvailabilityStatus {
			return model.NewBookNotAvailableError()
		}

		if err := tx.SetBookAvailability(ctx, bookID, false); err != nil {
			return fmt.Errorf("書籍の貸出状態の更新に失敗しました: %w", err)
		}

		rec := &model.BorrowRecord{
			ID:         s.newID(),
			BookID:     bookID,
			MemberID:   memberID,
			BorrowDate: model.DateOnly(now),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.CreateRecord(ctx, rec); err != nil {
			return fmt.Errorf("貸出履歴の作成に失敗しました: %w", err)
		}

		created = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Return は貸出履歴を返却済みにし、書籍を貸出可能に戻す。
//
// 検査順序:
//  1. 貸出履歴が存在しない場合はNotFound
//  2. 返却済みの場合はInvalidState（ALREADY_RETURNED）
//  3. 書籍が既に貸出可能な場合はInvalidState（BOOK_ALREADY_AVAILABLE）
//
// 貸出履歴行と書籍行をロックするため、同じ履歴への同時返却は1件だけ成功する。
func (s *Service) Return(ctx context.Context, recordID string) (*model.BorrowRecord, error) {
	rec, err := s.returnRecord(ctx, recordID)
	s.metrics.RecordReturn(resultLabel(err))
	if err != nil {
		return nil, err
	}

	s.logger.Info("book returned",
		slog.String("record_id", rec.ID),
		slog.String("book_id", rec.BookID),
		slog.String("member_id", rec.MemberID),
	)

	return s.reload(ctx, rec), nil
}

func (s *Service) returnRecord(ctx context.Context, recordID string) (*model.BorrowRecord, error) {
	if !isValidID(recordID) {
		return nil, model.NewBorrowRecordNotFoundError(recordID)
	}

	now := s.now()
	var closed *model.BorrowRecord

	err := s.lending.RunInTx(ctx, func(ctx context.Context, tx repository.LendingTx) error {
		rec, err := tx.LockRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("貸出履歴の取得に失敗しました: %w", err)
		}
		if rec == nil {
			return model.NewBorrowRecordNotFoundError(recordID)
		}
		if !rec.IsOpen() {
			return model.NewAlreadyReturnedError()
		}

		book, err := tx.LockBook(ctx, rec.BookID)
		if err != nil {
			return fmt.Errorf("書籍の取得に失敗しました: %w", err)
		}
		if book == nil {
			return model.NewBookNotFoundError(rec.BookID)
		}
		if book.AvailabilityStatus {
			return model.NewBookAlreadyAvailableError()
		}

		if err := tx.SetBookAvailability(ctx, rec.BookID, true); err != nil {
			return fmt.Errorf("書籍の貸出状態の更新に失敗しました: %w", err)
		}

		returnDate := model.DateOnly(now)
		if err := tx.CloseRecord(ctx, recordID, returnDate); err != nil {
			return fmt.Errorf("貸出履歴の返却処理に失敗しました: %w", err)
		}

		rec.ReturnDate = &returnDate
		rec.UpdatedAt = now
		closed = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	return closed, nil
}

// reload はコミット後の貸出履歴を書籍・会員付きで再取得する。
// 貸出・返却はコミット済みのため、再取得に失敗しても(直後に削除された場合も含む)エラーにはせず、
// トランザクション内の値を返す。
func (s *Service) reload(ctx context.Context, rec *model.BorrowRecord) *model.BorrowRecord {
	full, err := s.records.FindByID(ctx, rec.ID)
	if err != nil {
		s.logger.Warn("failed to reload borrow record after commit",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return rec
	}
	if full == nil {
		return rec
	}
	return full
}

// GetRecord は指定IDの貸出履歴を返す。
func (s *Service) GetRecord(ctx context.Context, recordID string) (*model.BorrowRecord, error) {
	if !isValidID(recordID) {
		return nil, model.NewBorrowRecordNotFoundError(recordID)
	}

	rec, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("貸出履歴の取得に失敗しました: %w", err)
	}
	if rec == nil {
		return nil, model.NewBorrowRecordNotFoundError(recordID)
	}
	return rec, nil
}

// ListRecords は検索条件に一致する貸出履歴と総件数を返す。
// UUID形式でない書籍ID・会員IDで絞り込んだ場合は空の一覧を返す。
func (s *Service) ListRecords(ctx context.Context, params model.BorrowRecordListParams) ([]*model.BorrowRecord, int, error) {
	if (params.BookID != "" && !isValidID(params.BookID)) || (params.MemberID != "" && !isValidID(params.MemberID)) {
		return []*model.BorrowRecord{}, 0, nil
	}
	records, total, err := s.records.List(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("貸出履歴一覧の取得に失敗しました: %w", err)
	}
	return records, total, nil
}

// DeleteRecord は返却済みの貸出履歴を削除する。
// 貸出中の履歴を削除すると書籍の貸出状態と矛盾するため拒否する。
func (s *Service) DeleteRecord(ctx context.Context, recordID string) error {
	rec, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if rec.IsOpen() {
		return model.NewBorrowRecordOpenError()
	}

	err = s.records.DeleteClosed(ctx, recordID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewBorrowRecordNotFoundError(recordID)
	}
	if err != nil {
		return fmt.Errorf("貸出履歴の削除に失敗しました: %w", err)
	}

	s.logger.Info("borrow record deleted", slog.String("record_id", recordID))
	return nil
}
