// Package model はドメインモデルを定義する。
package model

// ListParams は一覧取得の共通パラメータ。
// Search は各リソースの検索対象フィールドに対する部分一致検索語。
type ListParams struct {
	Search string
	Limit  int
	Offset int
}

// BookListParams は書籍一覧の検索条件。
type BookListParams struct {
	ListParams
	Available *bool
	Category  string
	AuthorID  string
}

// BorrowRecordListParams は貸出履歴一覧の検索条件。
// BookID、MemberID はネストされたルート（/books/{id}/borrow-records 等）から指定される。
type BorrowRecordListParams struct {
	ListParams
	BookID   string
	MemberID string
	Open     *bool
}
