// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, catalog, lending, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeAuthorNotFound       = "AUTHOR_NOT_FOUND"
	ErrCodeBookNotFound         = "BOOK_NOT_FOUND"
	ErrCodeMemberNotFound       = "MEMBER_NOT_FOUND"
	ErrCodeBorrowRecordNotFound = "BORROW_RECORD_NOT_FOUND"
	ErrCodeEmailAlreadyExists   = "EMAIL_ALREADY_EXISTS"
	ErrCodeBookNotAvailable     = "BOOK_NOT_AVAILABLE"
	ErrCodeAlreadyBorrowed      = "ALREADY_BORROWED"
	ErrCodeAlreadyReturned      = "ALREADY_RETURNED"
	ErrCodeBookAlreadyAvailable = "BOOK_ALREADY_AVAILABLE"
	ErrCodeBorrowRecordOpen     = "BORROW_RECORD_OPEN"
	ErrCodeMemberHasOpenLoans   = "MEMBER_HAS_OPEN_LOANS"
	ErrCodeBookOnLoan           = "BOOK_ON_LOAN"
	ErrCodeAuthorBooksOnLoan    = "AUTHOR_HAS_BOOKS_ON_LOAN"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// ErrorKind は貸出台帳のエラー種別を表す。
type ErrorKind string

const (
	// KindNotFound は参照先が存在しないことを示す。
	KindNotFound ErrorKind = "not_found"
	// KindInvalidState は現在の書籍/貸出状態では操作できないことを示す。
	KindInvalidState ErrorKind = "invalid_state"
	// KindConflict は同一ペアの貸出が既に存在することを示す。
	KindConflict ErrorKind = "conflict"
	// KindValidation は入力値が不正であることを示す。
	KindValidation ErrorKind = "validation"
)

// Kind はエラーコードからエラー種別を返す。
// 種別の定まらないコードには空文字列を返す。
func (e *APIError) Kind() ErrorKind {
	switch e.Code {
	case ErrCodeAuthorNotFound, ErrCodeBookNotFound, ErrCodeMemberNotFound, ErrCodeBorrowRecordNotFound:
		return KindNotFound
	case ErrCodeBookNotAvailable, ErrCodeAlreadyReturned, ErrCodeBookAlreadyAvailable, ErrCodeBorrowRecordOpen,
		ErrCodeMemberHasOpenLoans, ErrCodeBookOnLoan, ErrCodeAuthorBooksOnLoan:
		return KindInvalidState
	case ErrCodeAlreadyBorrowed, ErrCodeEmailAlreadyExists:
		return KindConflict
	case ErrCodeInvalidRequest, ErrCodeValidationFailed:
		return KindValidation
	default:
		return ""
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "request body could not be parsed",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  detail,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewAuthorNotFoundError は著者未検出エラーを生成する。
func NewAuthorNotFoundError(authorID string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthorNotFound,
		Message:  fmt.Sprintf("author not found: %s", authorID),
		Category: "catalog",
		Action:   "著者IDを確認してください。",
	}
}

// NewBookNotFoundError は書籍未検出エラーを生成する。
func NewBookNotFoundError(bookID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookNotFound,
		Message:  fmt.Sprintf("book not found: %s", bookID),
		Category: "catalog",
		Action:   "書籍IDを確認してください。",
	}
}

// NewMemberNotFoundError は会員未検出エラーを生成する。
func NewMemberNotFoundError(memberID string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("member not found: %s", memberID),
		Category: "catalog",
		Action:   "会員IDを確認してください。",
	}
}

// NewBorrowRecordNotFoundError は貸出履歴未検出エラーを生成する。
func NewBorrowRecordNotFoundError(recordID string) *APIError {
	return &APIError{
		Code:     ErrCodeBorrowRecordNotFound,
		Message:  fmt.Sprintf("borrow record not found: %s", recordID),
		Category: "lending",
		Action:   "貸出履歴IDを確認してください。",
	}
}

// NewEmailAlreadyExistsError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyExistsError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyExists,
		Message:  fmt.Sprintf("a member with this email already exists: %s", email),
		Category: "validation",
		Action:   "別のメールアドレスを指定してください。",
	}
}

// NewBookNotAvailableError は貸出不可の書籍を借りようとした場合のエラーを生成する。
func NewBookNotAvailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBookNotAvailable,
		Message:  "book not available",
		Category: "lending",
		Action:   "返却されるまでお待ちください。",
	}
}

// NewAlreadyBorrowedError は同じ会員が同じ書籍を返却前に再度借りようとした場合のエラーを生成する。
func NewAlreadyBorrowedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyBorrowed,
		Message:  "member already holds this book",
		Category: "lending",
		Action:   "貸出中の履歴を返却してから再度お試しください。",
	}
}

// NewAlreadyReturnedError は返却済みの履歴を再度返却しようとした場合のエラーを生成する。
func NewAlreadyReturnedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyReturned,
		Message:  "book already returned",
		Category: "lending",
		Action:   "貸出履歴の状態を確認してください。",
	}
}

// NewBookAlreadyAvailableError は書籍が既に貸出可能な状態で返却しようとした場合のエラーを生成する。
// 二重返却による状態破壊を防ぐ。
func NewBookAlreadyAvailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBookAlreadyAvailable,
		Message:  "book already marked available: invalid return",
		Category: "lending",
		Action:   "書籍と貸出履歴の状態を確認してください。",
	}
}

// NewBorrowRecordOpenError は貸出中の履歴を削除しようとした場合のエラーを生成する。
func NewBorrowRecordOpenError() *APIError {
	return &APIError{
		Code:     ErrCodeBorrowRecordOpen,
		Message:  "borrow record is still open",
		Category: "lending",
		Action:   "返却処理を行ってから削除してください。",
	}
}

// NewMemberHasOpenLoansError は未返却の貸出がある会員を削除しようとした場合のエラーを生成する。
func NewMemberHasOpenLoansError(memberID string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberHasOpenLoans,
		Message:  fmt.Sprintf("member has open borrow records: %s", memberID),
		Category: "lending",
		Action:   "貸出中の書籍をすべて返却してから削除してください。",
	}
}

// NewBookOnLoanError は貸出中の書籍を削除しようとした場合のエラーを生成する。
func NewBookOnLoanError(bookID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookOnLoan,
		Message:  fmt.Sprintf("book is on loan: %s", bookID),
		Category: "lending",
		Action:   "返却処理を行ってから削除してください。",
	}
}

// NewAuthorBooksOnLoanError は貸出中の書籍を持つ著者を削除しようとした場合のエラーを生成する。
func NewAuthorBooksOnLoanError(authorID string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthorBooksOnLoan,
		Message:  fmt.Sprintf("author has books on loan: %s", authorID),
		Category: "lending",
		Action:   "著者の書籍がすべて返却されてから削除してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "internal server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
