// Package model はドメインモデルを定義する。
package model

import "time"

// Author は書籍の著者を表す。
type Author struct {
	ID        string
	Name      string
	Biography string
	CreatedAt time.Time
	UpdatedAt time.Time
}
