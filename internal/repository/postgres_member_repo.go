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

// membersEmailConstraint はmembers.emailのユニーク制約名。
const membersEmailConstraint = "members_email_key"

// PostgresMemberRepo はPostgreSQLを使用した会員リポジトリ。
type PostgresMemberRepo struct {
	db *sql.DB
}

// NewPostgresMemberRepo はPostgresMemberRepoを生成する。
func NewPostgresMemberRepo(db *sql.DB) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

// FindByID は指定IDの会員を取得する。見つからない場合はnilを返す。
func (r *PostgresMemberRepo) FindByID(ctx context.Context, id string) (*model.Member, error) {
	m := &model.Member{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, membership_date, created_at, updated_at FROM members WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.Name, &m.Email, &m.MembershipDate, &m.CreatedAt, &m.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find member by ID: %w", err)
	}

	return m, nil
}

// buildMemberListQuery は会員一覧のクエリを組み立てる。
func buildMemberListQuery(params model.ListParams) (*pageQuery, error) {
	base := pgDialect.From("members")
	if where := searchExpression(params.Search, textColumn("members.id"), goqu.I("members.email")); where != nil {
		base = base.Where(where)
	}

	columns := []interface{}{"id", "name", "email", "membership_date", "created_at", "updated_at"}
	order := []exp.OrderedExpression{goqu.I("name").Asc(), goqu.I("id").Asc()}

	return buildPageQuery(base, columns, order, params.Limit, params.Offset)
}

// List は検索条件に一致する会員をname昇順で返す。
func (r *PostgresMemberRepo) List(ctx context.Context, params model.ListParams) ([]*model.Member, int, error) {
	q, err := buildMemberListQuery(params)
	if err != nil {
		return nil, 0, err
	}

	total, err := q.count(ctx, r.db)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, q.listSQL, q.listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*model.Member{}
	for rows.Next() {
		m := &model.Member{}
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.MembershipDate, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate members: %w", err)
	}

	return members, total, nil
}

// Create は会員を作成する。メールアドレス重複時はErrDuplicateEmailを返す。
func (r *PostgresMemberRepo) Create(ctx context.Context, m *model.Member) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, name, email, membership_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Name, m.Email, m.MembershipDate, m.CreatedAt, m.UpdatedAt,
	)
	if database.IsUniqueViolation(err, membersEmailConstraint) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

// Update は会員情報を更新する。メールアドレス重複時はErrDuplicateEmailを返す。
func (r *PostgresMemberRepo) Update(ctx context.Context, m *model.Member) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE members SET name = $2, email = $3, membership_date = $4, updated_at = $5 WHERE id = $1`,
		m.ID, m.Name, m.Email, m.MembershipDate, m.UpdatedAt,
	)
	if database.IsUniqueViolation(err, membersEmailConstraint) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	return requireAffected(result)
}

// Delete は指定IDの会員を削除する。
// 未返却の貸出記録を持つ会員はErrOpenLoansとなる。
// 会員行のロックは貸出記録の外部キー検査と競合するため、判定後に新しい貸出が挿入されることはない。
func (r *PostgresMemberRepo) Delete(ctx context.Context, id string) error {
	return deleteUnlessOnLoan(ctx, r.db, guardedDelete{
		entity: "member",
		lock:   []string{`SELECT id FROM members WHERE id = $1 FOR UPDATE`},
		openLoans: `SELECT EXISTS (
			SELECT 1 FROM borrow_records WHERE member_id = $1 AND return_date IS NULL)`,
		delete: `DELETE FROM members WHERE id = $1`,
	}, id)
}

// compile-time interface check
var _ MemberRepository = (*PostgresMemberRepo)(nil)
