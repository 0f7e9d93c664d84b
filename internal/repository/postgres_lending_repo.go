package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HridoyExe/library-management/internal/model"
)

// PostgresLendingRepo はPostgreSQLのトランザクションで貸出・返却を実行するリポジトリ。
type PostgresLendingRepo struct {
	db TxBeginner
}

// NewPostgresLendingRepo はPostgresLendingRepoを生成する。
func NewPostgresLendingRepo(db TxBeginner) *PostgresLendingRepo {
	return &PostgresLendingRepo{db: db}
}

// RunInTx はトランザクションを開始してfnを実行する。
// fnが成功した場合のみコミットする。
func (r *PostgresLendingRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx LendingTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &postgresLendingTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// postgresLendingTx は*sql.Txに対するLendingTxの実装。
type postgresLendingTx struct {
	tx *sql.Tx
}

// LockBook は書籍行をSELECT ... FOR UPDATEでロックして取得する。
func (t *postgresLendingTx) LockBook(ctx context.Context, bookID string) (*model.Book, error) {
	b := &model.Book{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, title, isbn, category, availability_status, author_id, created_at, updated_at
		 FROM books WHERE id = $1 FOR UPDATE`,
		bookID,
	).Scan(&b.ID, &b.Title, &b.ISBN, &b.Category, &b.AvailabilityStatus, &b.AuthorID, &b.CreatedAt, &b.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock book: %w", err)
	}

	return b, nil
}

// FindMember は会員を取得する。
func (t *postgresLendingTx) FindMember(ctx context.Context, memberID string) (*model.Member, error) {
	m := &model.Member{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, email, membership_date, created_at, updated_at FROM members WHERE id = $1`,
		memberID,
	).Scan(&m.ID, &m.Name, &m.Email, &m.MembershipDate, &m.CreatedAt, &m.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find member: %w", err)
	}

	return m, nil
}

// HasOpenRecord は書籍と会員の組み合わせで貸出中の履歴が存在するかを返す。
func (t *postgresLendingTx) HasOpenRecord(ctx context.Context, bookID, memberID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM borrow_records
		     WHERE book_id = $1 AND member_id = $2 AND return_date IS NULL
		 )`,
		bookID, memberID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open borrow record: %w", err)
	}
	return exists, nil
}

// LockRecord は貸出履歴行をSELECT ... FOR UPDATEでロックして取得する。
func (t *postgresLendingTx) LockRecord(ctx context.Context, recordID string) (*model.BorrowRecord, error) {
	rec := &model.BorrowRecord{}
	var returnDate sql.NullTime
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, book_id, member_id, borrow_date, return_date, created_at, updated_at
		 FROM borrow_records WHERE id = $1 FOR UPDATE`,
		recordID,
	).Scan(&rec.ID, &rec.BookID, &rec.MemberID, &rec.BorrowDate, &returnDate, &rec.CreatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock borrow record: %w", err)
	}

	if returnDate.Valid {
		d := returnDate.Time
		rec.ReturnDate = &d
	}
	return rec, nil
}

// SetBookAvailability は書籍のavailability_statusを更新する。
func (t *postgresLendingTx) SetBookAvailability(ctx context.Context, bookID string, available bool) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE books SET availability_status = $2, updated_at = NOW() WHERE id = $1`,
		bookID, available,
	)
	if err != nil {
		return fmt.Errorf("failed to update book availability: %w", err)
	}
	return requireAffected(result)
}

// CreateRecord は貸出履歴を作成する。
func (t *postgresLendingTx) CreateRecord(ctx context.Context, rec *model.BorrowRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO borrow_records (id, book_id, member_id, borrow_date, return_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULL, $5, $6)`,
		rec.ID, rec.BookID, rec.MemberID, rec.BorrowDate, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert borrow record: %w", err)
	}
	return nil
}

// CloseRecord は貸出中の履歴にreturn_dateを設定する。
func (t *postgresLendingTx) CloseRecord(ctx context.Context, recordID string, returnDate time.Time) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE borrow_records SET return_date = $2, updated_at = NOW()
		 WHERE id = $1 AND return_date IS NULL`,
		recordID, returnDate,
	)
	if err != nil {
		return fmt.Errorf("failed to close borrow record: %w", err)
	}
	return requireAffected(result)
}

// compile-time interface check
var (
	_ LendingRepository = (*PostgresLendingRepo)(nil)
	_ LendingTx         = (*postgresLendingTx)(nil)
)
