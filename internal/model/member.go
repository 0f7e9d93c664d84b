// Package model はドメインモデルを定義する。
package model

import "time"

// Member は図書館の会員を表す。
type Member struct {
	ID             string
	Name           string
	Email          string
	MembershipDate time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
