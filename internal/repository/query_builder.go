package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
)

const dialectPostgres = "postgres"

// pgDialect は一覧クエリの組み立てに使うgoquのPostgreSQLダイアレクト。
// Prepared(true)でプレースホルダ($1, $2, ...)と引数を分離して生成する。
var pgDialect = goqu.Dialect(dialectPostgres)

// likeEscaper はLIKEのワイルドカード文字をエスケープする。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern は部分一致検索用のILIKEパターンを返す。
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

// searchExpression はtermをいずれかの列に部分一致（大文字小文字無視）する条件を返す。
// termが空の場合はnilを返す。
func searchExpression(term string, columns ...exp.Likeable) exp.Expression {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}

	pattern := containsPattern(term)
	ors := make([]exp.Expression, 0, len(columns))
	for _, col := range columns {
		ors = append(ors, col.ILike(pattern))
	}

	return goqu.Or(ors...)
}

// textColumn はUUID列などを文字列として検索するための式を返す。
func textColumn(column string) exp.LiteralExpression {
	return goqu.L("?::text", goqu.I(column))
}

// pageQuery は一覧取得用と件数取得用のSQLを保持する。
type pageQuery struct {
	listSQL   string
	listArgs  []interface{}
	countSQL  string
	countArgs []interface{}
}

// buildPageQuery はWHERE句まで組み立てたbaseから一覧クエリと件数クエリを生成する。
// limitが0以下の場合はLIMITを付けない。
func buildPageQuery(base *goqu.SelectDataset, columns []interface{}, order []exp.OrderedExpression, limit, offset int) (*pageQuery, error) {
	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}

	list := base.Select(columns...).Order(order...)
	if limit > 0 {
		list = list.Limit(uint(limit))
	}
	if offset > 0 {
		list = list.Offset(uint(offset))
	}

	listSQL, listArgs, err := list.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	return &pageQuery{
		listSQL:   listSQL,
		listArgs:  listArgs,
		countSQL:  countSQL,
		countArgs: countArgs,
	}, nil
}

// count は件数クエリを実行する。
func (q *pageQuery) count(ctx context.Context, db *sql.DB) (int, error) {
	var total int
	if err := db.QueryRowContext(ctx, q.countSQL, q.countArgs...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return total, nil
}
