package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/HridoyExe/library-management/internal/database"
	"github.com/HridoyExe/library-management/internal/model"
)

// PostgresBookRepo はPostgreSQLを使用した書籍リポジトリ。
type PostgresBookRepo struct {
	db *sql.DB
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db *sql.DB) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

// bookColumns は書籍と著者をJOINして取得する列。scanBookの順序と一致させる。
var bookColumns = []interface{}{
	goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.isbn"), goqu.I("b.category"),
	goqu.I("b.availability_status"), goqu.I("b.author_id"), goqu.I("b.created_at"), goqu.I("b.updated_at"),
	goqu.I("a.id"), goqu.I("a.name"), goqu.I("a.biography"), goqu.I("a.created_at"), goqu.I("a.updated_at"),
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBook(row rowScanner) (*model.Book, error) {
	b := &model.Book{Author: &model.Author{}}
	err := row.Scan(
		&b.ID, &b.Title, &b.ISBN, &b.Category, &b.AvailabilityStatus, &b.AuthorID, &b.CreatedAt, &b.UpdatedAt,
		&b.Author.ID, &b.Author.Name, &b.Author.Biography, &b.Author.CreatedAt, &b.Author.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func bookBaseQuery() *goqu.SelectDataset {
	return pgDialect.From(goqu.T("books").As("b")).
		Join(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("b.author_id"))))
}

// FindByID は指定IDの書籍を著者付きで取得する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	query, args, err := bookBaseQuery().
		Select(bookColumns...).
		Where(goqu.I("b.id").Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build book query: %w", err)
	}

	book, err := scanBook(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find book by ID: %w", err)
	}

	return book, nil
}

// buildBookListQuery は書籍一覧のクエリを組み立てる。
func buildBookListQuery(params model.BookListParams) (*pageQuery, error) {
	base := bookBaseQuery()

	conditions := []exp.Expression{}
	if where := searchExpression(params.Search,
		goqu.I("b.title"), goqu.I("b.isbn"), goqu.I("b.category"), goqu.I("a.name"),
	); where != nil {
		conditions = append(conditions, where)
	}
	if params.Available != nil {
		conditions = append(conditions, goqu.I("b.availability_status").Eq(*params.Available))
	}
	if params.Category != "" {
		conditions = append(conditions, goqu.I("b.category").Eq(params.Category))
	}
	if params.AuthorID != "" {
		conditions = append(conditions, goqu.I("b.author_id").Eq(params.AuthorID))
	}
	if len(conditions) > 0 {
		base = base.Where(conditions...)
	}

	order := []exp.OrderedExpression{goqu.I("b.title").Asc(), goqu.I("b.id").Asc()}

	return buildPageQuery(base, bookColumns, order, params.Limit, params.Offset)
}

// List は検索条件に一致する書籍をtitle昇順で返す。
func (r *PostgresBookRepo) List(ctx context.Context, params model.BookListParams) ([]*model.Book, int, error) {
	q, err := buildBookListQuery(params)
	if err != nil {
		return nil, 0, err
	}

	total, err := q.count(ctx, r.db)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, q.listSQL, q.listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	books := []*model.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate books: %w", err)
	}

	return books, total, nil
}

// Create は書籍を作成する。著者が存在しない場合はErrAuthorReferenceを返す。
func (r *PostgresBookRepo) Create(ctx context.Context, book *model.Book) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO books (id, title, isbn, category, availability_status, author_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		book.ID, book.Title, book.ISBN, book.Category, book.AvailabilityStatus, book.AuthorID, book.CreatedAt, book.UpdatedAt,
	)
	if database.IsForeignKeyViolation(err) {
		return ErrAuthorReference
	}
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

// Update はtitle, isbn, category, author_idを更新する。
// availability_statusは貸出/返却以外では変更しない。
func (r *PostgresBookRepo) Update(ctx context.Context, book *model.Book) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE books SET title = $2, isbn = $3, category = $4, author_id = $5, updated_at = $6
		 WHERE id = $1`,
		book.ID, book.Title, book.ISBN, book.Category, book.AuthorID, book.UpdatedAt,
	)
	if database.IsForeignKeyViolation(err) {
		return ErrAuthorReference
	}
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	return requireAffected(result)
}

// Delete は指定IDの書籍を削除する。
// 貸出中の書籍はErrOpenLoansとなり、返却済みの貸出記録のみ連鎖削除される。
func (r *PostgresBookRepo) Delete(ctx context.Context, id string) error {
	return deleteUnlessOnLoan(ctx, r.db, guardedDelete{
		entity: "book",
		lock:   []string{`SELECT id FROM books WHERE id = $1 FOR UPDATE`},
		openLoans: `SELECT EXISTS (
			SELECT 1 FROM borrow_records WHERE book_id = $1 AND return_date IS NULL)`,
		delete: `DELETE FROM books WHERE id = $1`,
	}, id)
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
