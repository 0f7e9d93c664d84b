package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/HridoyExe/library-management/internal/model"
)

// PostgresAuthorRepo はPostgreSQLを使用した著者リポジトリ。
type PostgresAuthorRepo struct {
	db *sql.DB
}

// NewPostgresAuthorRepo はPostgresAuthorRepoを生成する。
func NewPostgresAuthorRepo(db *sql.DB) *PostgresAuthorRepo {
	return &PostgresAuthorRepo{db: db}
}

// FindByID は指定IDの著者を取得する。見つからない場合はnilを返す。
func (r *PostgresAuthorRepo) FindByID(ctx context.Context, id string) (*model.Author, error) {
	author := &model.Author{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, biography, created_at, updated_at FROM authors WHERE id = $1`,
		id,
	).Scan(&author.ID, &author.Name, &author.Biography, &author.CreatedAt, &author.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find author by ID: %w", err)
	}

	return author, nil
}

// buildAuthorListQuery は著者一覧のクエリを組み立てる。
func buildAuthorListQuery(params model.ListParams) (*pageQuery, error) {
	base := pgDialect.From("authors")
	if where := searchExpression(params.Search, textColumn("authors.id"), goqu.I("authors.name")); where != nil {
		base = base.Where(where)
	}

	columns := []interface{}{"id", "name", "biography", "created_at", "updated_at"}
	order := []exp.OrderedExpression{goqu.I("name").Asc(), goqu.I("id").Asc()}

	return buildPageQuery(base, columns, order, params.Limit, params.Offset)
}

// List は検索条件に一致する著者をname昇順で返す。
func (r *PostgresAuthorRepo) List(ctx context.Context, params model.ListParams) ([]*model.Author, int, error) {
	q, err := buildAuthorListQuery(params)
	if err != nil {
		return nil, 0, err
	}

	total, err := q.count(ctx, r.db)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, q.listSQL, q.listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list authors: %w", err)
	}
	defer rows.Close()

	authors := []*model.Author{}
	for rows.Next() {
		a := &model.Author{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Biography, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan author: %w", err)
		}
		authors = append(authors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate authors: %w", err)
	}

	return authors, total, nil
}

// Create は著者を作成する。
func (r *PostgresAuthorRepo) Create(ctx context.Context, author *model.Author) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO authors (id, name, biography, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		author.ID, author.Name, author.Biography, author.CreatedAt, author.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert author: %w", err)
	}
	return nil
}

// Update は著者情報を更新する。対象が存在しない場合はErrNotFoundを返す。
func (r *PostgresAuthorRepo) Update(ctx context.Context, author *model.Author) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE authors SET name = $2, biography = $3, updated_at = $4 WHERE id = $1`,
		author.ID, author.Name, author.Biography, author.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update author: %w", err)
	}
	return requireAffected(result)
}

// Delete は指定IDの著者を削除する。
// 著者の書籍に未返却の貸出記録がある場合はErrOpenLoansを返し、何も削除しない。
// 書籍行もロックするため、判定中に同じ書籍の貸出が割り込むことはない。
func (r *PostgresAuthorRepo) Delete(ctx context.Context, id string) error {
	return deleteUnlessOnLoan(ctx, r.db, guardedDelete{
		entity: "author",
		lock: []string{
			`SELECT id FROM authors WHERE id = $1 FOR UPDATE`,
			`SELECT id FROM books WHERE author_id = $1 FOR UPDATE`,
		},
		openLoans: `SELECT EXISTS (
			SELECT 1 FROM borrow_records br
			JOIN books b ON b.id = br.book_id
			WHERE b.author_id = $1 AND br.return_date IS NULL)`,
		delete: `DELETE FROM authors WHERE id = $1`,
	}, id)
}

// guardedDelete は未返却の貸出記録を確認してから削除するためのSQL一式。
// lockの先頭は対象行自身のロックで、行が無ければErrNotFoundとなる。
type guardedDelete struct {
	entity    string
	lock      []string
	openLoans string
	delete    string
}

// deleteUnlessOnLoan は対象行をロックし、未返却の貸出記録が無い場合のみ削除する。
// 確認と削除は同一トランザクションで行う。
func deleteUnlessOnLoan(ctx context.Context, db *sql.DB, q guardedDelete, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range q.lock {
		if i == 0 {
			var lockedID string
			err := tx.QueryRowContext(ctx, stmt, id).Scan(&lockedID)
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to lock %s: %w", q.entity, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to lock %s dependents: %w", q.entity, err)
		}
	}

	var open bool
	if err := tx.QueryRowContext(ctx, q.openLoans, id).Scan(&open); err != nil {
		return fmt.Errorf("failed to check open loans for %s: %w", q.entity, err)
	}
	if open {
		return ErrOpenLoans
	}

	result, err := tx.ExecContext(ctx, q.delete, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", q.entity, err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// requireAffected は更新・削除の影響行数が0の場合にErrNotFoundを返す。
func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ AuthorRepository = (*PostgresAuthorRepo)(nil)
