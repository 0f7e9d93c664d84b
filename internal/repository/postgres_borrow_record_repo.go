package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/HridoyExe/library-management/internal/model"
)

// PostgresBorrowRecordRepo はPostgreSQLを使用した貸出履歴リポジトリ。
type PostgresBorrowRecordRepo struct {
	db *sql.DB
}

// NewPostgresBorrowRecordRepo はPostgresBorrowRecordRepoを生成する。
func NewPostgresBorrowRecordRepo(db *sql.DB) *PostgresBorrowRecordRepo {
	return &PostgresBorrowRecordRepo{db: db}
}

// borrowRecordColumns は貸出履歴に書籍・著者・会員をJOINして取得する列。
var borrowRecordColumns = append([]interface{}{
	goqu.I("r.id"), goqu.I("r.book_id"), goqu.I("r.member_id"), goqu.I("r.borrow_date"),
	goqu.I("r.return_date"), goqu.I("r.created_at"), goqu.I("r.updated_at"),
	goqu.I("m.id"), goqu.I("m.name"), goqu.I("m.email"), goqu.I("m.membership_date"),
	goqu.I("m.created_at"), goqu.I("m.updated_at"),
}, bookColumns...)

func scanBorrowRecord(row rowScanner) (*model.BorrowRecord, error) {
	rec := &model.BorrowRecord{
		Book:   &model.Book{Author: &model.Author{}},
		Member: &model.Member{},
	}
	var returnDate sql.NullTime
	b := rec.Book
	err := row.Scan(
		&rec.ID, &rec.BookID, &rec.MemberID, &rec.BorrowDate, &returnDate, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.Member.ID, &rec.Member.Name, &rec.Member.Email, &rec.Member.MembershipDate,
		&rec.Member.CreatedAt, &rec.Member.UpdatedAt,
		&b.ID, &b.Title, &b.ISBN, &b.Category, &b.AvailabilityStatus, &b.AuthorID, &b.CreatedAt, &b.UpdatedAt,
		&b.Author.ID, &b.Author.Name, &b.Author.Biography, &b.Author.CreatedAt, &b.Author.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if returnDate.Valid {
		t := returnDate.Time
		rec.ReturnDate = &t
	}
	return rec, nil
}

func borrowRecordBaseQuery() *goqu.SelectDataset {
	return pgDialect.From(goqu.T("borrow_records").As("r")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Join(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("b.author_id")))).
		Join(goqu.T("members").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("r.member_id"))))
}

// FindByID は指定IDの貸出履歴を書籍・会員付きで取得する。見つからない場合はnilを返す。
func (r *PostgresBorrowRecordRepo) FindByID(ctx context.Context, id string) (*model.BorrowRecord, error) {
	query, args, err := borrowRecordBaseQuery().
		Select(borrowRecordColumns...).
		Where(goqu.I("r.id").Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build borrow record query: %w", err)
	}

	rec, err := scanBorrowRecord(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find borrow record by ID: %w", err)
	}

	return rec, nil
}

// buildBorrowRecordListQuery は貸出履歴一覧のクエリを組み立てる。
func buildBorrowRecordListQuery(params model.BorrowRecordListParams) (*pageQuery, error) {
	base := borrowRecordBaseQuery()

	conditions := []exp.Expression{}
	if where := searchExpression(params.Search, goqu.I("b.title"), goqu.I("m.email")); where != nil {
		conditions = append(conditions, where)
	}
	if params.BookID != "" {
		conditions = append(conditions, goqu.I("r.book_id").Eq(params.BookID))
	}
	if params.MemberID != "" {
		conditions = append(conditions, goqu.I("r.member_id").Eq(params.MemberID))
	}
	if params.Open != nil {
		if *params.Open {
			conditions = append(conditions, goqu.I("r.return_date").IsNull())
		} else {
			conditions = append(conditions, goqu.I("r.return_date").IsNotNull())
		}
	}
	if len(conditions) > 0 {
		base = base.Where(conditions...)
	}

	order := []exp.OrderedExpression{
		goqu.I("r.borrow_date").Desc(),
		goqu.I("r.created_at").Desc(),
		goqu.I("r.id").Asc(),
	}

	return buildPageQuery(base, borrowRecordColumns, order, params.Limit, params.Offset)
}

// List は検索条件に一致する貸出履歴をborrow_date降順で返す。
func (r *PostgresBorrowRecordRepo) List(ctx context.Context, params model.BorrowRecordListParams) ([]*model.BorrowRecord, int, error) {
	q, err := buildBorrowRecordListQuery(params)
	if err != nil {
		return nil, 0, err
	}

	total, err := q.count(ctx, r.db)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, q.listSQL, q.listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list borrow records: %w", err)
	}
	defer rows.Close()

	records := []*model.BorrowRecord{}
	for rows.Next() {
		rec, err := scanBorrowRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan borrow record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate borrow records: %w", err)
	}

	return records, total, nil
}

// DeleteClosed は返却済みの貸出履歴を削除する。
func (r *PostgresBorrowRecordRepo) DeleteClosed(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM borrow_records WHERE id = $1 AND return_date IS NOT NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete borrow record: %w", err)
	}
	return requireAffected(result)
}

// compile-time interface check
var _ BorrowRecordRepository = (*PostgresBorrowRecordRepo)(nil)
