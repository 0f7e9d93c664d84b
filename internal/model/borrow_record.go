// Package model はドメインモデルを定義する。
package model

import "time"

// BorrowRecord は1回の貸出履歴を表す。
// ReturnDate が nil の間は貸出中（open）とみなす。
type BorrowRecord struct {
	ID         string
	BookID     string
	MemberID   string
	BorrowDate time.Time
	ReturnDate *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Book と Member は読み取り時にJOINで埋められる。
	Book   *Book
	Member *Member
}

// IsOpen は貸出中かどうかを返す。
func (r *BorrowRecord) IsOpen() bool {
	return r.ReturnDate == nil
}

// DateOnly は時刻を切り捨てたUTCの日付を返す。
// borrow_date、return_date、membership_date はDATE型で保存する。
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
