package handler

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/HridoyExe/library-management/internal/model"
)

// PaginationConfig は一覧APIのページサイズ設定。
type PaginationConfig struct {
	PageSize    int
	MaxPageSize int
}

// DefaultPaginationConfig はデフォルトのページサイズ設定を返す。
func DefaultPaginationConfig() PaginationConfig {
	return PaginationConfig{PageSize: 10, MaxPageSize: 100}
}

// pageRequest は解析済みのページ指定。
type pageRequest struct {
	page     int
	pageSize int
}

func (p pageRequest) listParams(search string) model.ListParams {
	return model.ListParams{
		Search: search,
		Limit:  p.pageSize,
		Offset: p.offset(),
	}
}

// offset は読み飛ばす件数を返す。intに収まらない場合はmath.MaxIntに飽和させ、空のページとして扱う。
func (p pageRequest) offset() int {
	if p.page-1 > math.MaxInt/p.pageSize {
		return math.MaxInt
	}
	return (p.page - 1) * p.pageSize
}

// pageResponse は一覧APIのレスポンス。next/previousは前後のページ番号で、存在しない場合はnull。
type pageResponse[T any] struct {
	Count    int  `json:"count"`
	Next     *int `json:"next"`
	Previous *int `json:"previous"`
	Results  []T  `json:"results"`
}

// parsePage はpage, page_sizeクエリパラメータを解析する。
// page_sizeはMaxPageSizeで切り詰める。
func (c PaginationConfig) parsePage(r *http.Request) (pageRequest, bool) {
	q := r.URL.Query()
	p := pageRequest{page: 1, pageSize: c.PageSize}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, false
		}
		p.page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, false
		}
		p.pageSize = n
	}
	if c.MaxPageSize > 0 && p.pageSize > c.MaxPageSize {
		p.pageSize = c.MaxPageSize
	}
	return p, true
}

// newPageResponse は総件数から前後のページ番号を算出してレスポンスを組み立てる。
func newPageResponse[T any](p pageRequest, total int, results []T) pageResponse[T] {
	resp := pageResponse[T]{Count: total, Results: results}
	// page*pageSizeはオーバーフローし得るため、最終ページ番号と比較する
	if total > 0 && p.page <= (total-1)/p.pageSize {
		next := p.page + 1
		resp.Next = &next
	}
	if p.page > 1 {
		prev := p.page - 1
		resp.Previous = &prev
	}
	return resp
}

// searchTerm はsearchクエリパラメータを返す。
func searchTerm(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("search"))
}

// parseBoolParam は真偽値のクエリパラメータを解析する。未指定の場合はnilを返す。
func parseBoolParam(r *http.Request, name string) (*bool, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, false
	}
	return &b, true
}

// writeInvalidQuery はクエリパラメータ不正のエラーレスポンスを書き込む。
func writeInvalidQuery(w http.ResponseWriter, name string) {
	writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(name+": invalid query parameter"))
}
