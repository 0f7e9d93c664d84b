// Package model はドメインモデルを定義する。
package model

import "time"

// Book は蔵書を表す。
// AvailabilityStatus は貸出/返却の副作用としてのみ変更される。
type Book struct {
	ID                 string
	Title              string
	ISBN               string
	Category           string
	AvailabilityStatus bool
	AuthorID           string
	CreatedAt          time.Time
	UpdatedAt          time.Time

	// Author は読み取り時にJOINで埋められる。書き込みでは参照しない。
	Author *Author
}
