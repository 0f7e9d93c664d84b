package handler

import (
	"time"

	"github.com/HridoyExe/library-management/internal/model"
)

// --- レスポンス型 ---

// authorResponse は著者のAPIレスポンス。
type authorResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Biography string `json:"biography"`
}

// bookResponse は書籍のAPIレスポンス。authorは読み取り専用のネスト表現。
type bookResponse struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	ISBN               string          `json:"isbn"`
	Category           string          `json:"category"`
	AvailabilityStatus bool            `json:"availability_status"`
	Author             *authorResponse `json:"author"`
}

// memberResponse は会員のAPIレスポンス。
type memberResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	MembershipDate string `json:"membership_date"`
}

// borrowRecordResponse は貸出履歴のAPIレスポンス。
// return_dateは貸出中の場合null。
type borrowRecordResponse struct {
	ID         string          `json:"id"`
	Book       *bookResponse   `json:"book"`
	Member     *memberResponse `json:"member"`
	BorrowDate string          `json:"borrow_date"`
	ReturnDate *string         `json:"return_date"`
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func toAuthorResponse(a *model.Author) *authorResponse {
	if a == nil {
		return nil
	}
	return &authorResponse{
		ID:        a.ID,
		Name:      a.Name,
		Biography: a.Biography,
	}
}

func toBookResponse(b *model.Book) *bookResponse {
	if b == nil {
		return nil
	}
	return &bookResponse{
		ID:                 b.ID,
		Title:              b.Title,
		ISBN:               b.ISBN,
		Category:           b.Category,
		AvailabilityStatus: b.AvailabilityStatus,
		Author:             toAuthorResponse(b.Author),
	}
}

func toMemberResponse(m *model.Member) *memberResponse {
	if m == nil {
		return nil
	}
	return &memberResponse{
		ID:             m.ID,
		Name:           m.Name,
		Email:          m.Email,
		MembershipDate: formatDate(m.MembershipDate),
	}
}

func toBorrowRecordResponse(r *model.BorrowRecord) *borrowRecordResponse {
	resp := &borrowRecordResponse{
		ID:         r.ID,
		Book:       toBookResponse(r.Book),
		Member:     toMemberResponse(r.Member),
		BorrowDate: formatDate(r.BorrowDate),
	}
	if r.ReturnDate != nil {
		d := formatDate(*r.ReturnDate)
		resp.ReturnDate = &d
	}
	return resp
}

// mapSlice はスライスの各要素をレスポンス型に変換する。
func mapSlice[T any, R any](items []T, fn func(T) R) []R {
	out := make([]R, len(items))
	for i, item := range items {
		out[i] = fn(item)
	}
	return out
}
