// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/HridoyExe/library-management/internal/model"
)

var (
	// ErrNotFound は更新・削除対象の行が存在しないことを示す。
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEmail は会員のメールアドレスが既に使われていることを示す。
	ErrDuplicateEmail = errors.New("email already exists")

	// ErrAuthorReference は書籍が参照する著者が存在しないことを示す。
	ErrAuthorReference = errors.New("referenced author does not exist")

	// ErrOpenLoans は削除対象が貸出中の履歴に関わっているため削除できないことを示す。
	// 貸出中の履歴を消すとavailability_statusと履歴の整合性が崩れる。
	ErrOpenLoans = errors.New("open borrow records exist")
)

// AuthorRepository は著者データの永続化インターフェース。
type AuthorRepository interface {
	// FindByID は指定IDの著者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Author, error)

	// List は検索条件に一致する著者をname昇順で返す。2番目の戻り値はページング前の総件数。
	// 検索対象: id, name
	List(ctx context.Context, params model.ListParams) ([]*model.Author, int, error)

	// Create は著者を作成する。
	Create(ctx context.Context, author *model.Author) error

	// Update は著者情報を更新する。対象が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, author *model.Author) error

	// Delete は指定IDの著者を削除する。著者の書籍と返却済みの貸出履歴はCASCADE削除される。
	// 著者の書籍が貸出中の場合はErrOpenLoansを返し、何も削除しない。
	Delete(ctx context.Context, id string) error
}

// BookRepository は書籍データの永続化インターフェース。
// availability_status はここでは更新しない。貸出/返却はLendingRepositoryが扱う。
type BookRepository interface {
	// FindByID は指定IDの書籍を著者付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Book, error)

	// List は検索条件に一致する書籍をtitle昇順で返す。
	// 検索対象: title, isbn, category, 著者名
	List(ctx context.Context, params model.BookListParams) ([]*model.Book, int, error)

	// Create は書籍を作成する。著者が存在しない場合はErrAuthorReferenceを返す。
	Create(ctx context.Context, book *model.Book) error

	// Update はtitle, isbn, category, author_idを更新する。
	Update(ctx context.Context, book *model.Book) error

	// Delete は指定IDの書籍と返却済みの貸出履歴を削除する。
	// 貸出中の場合はErrOpenLoansを返し、何も削除しない。
	Delete(ctx context.Context, id string) error
}

// MemberRepository は会員データの永続化インターフェース。
type MemberRepository interface {
	// FindByID は指定IDの会員を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Member, error)

	// List は検索条件に一致する会員をname昇順で返す。
	// 検索対象: id, email
	List(ctx context.Context, params model.ListParams) ([]*model.Member, int, error)

	// Create は会員を作成する。メールアドレス重複時はErrDuplicateEmailを返す。
	Create(ctx context.Context, member *model.Member) error

	// Update は会員情報を更新する。メールアドレス重複時はErrDuplicateEmailを返す。
	Update(ctx context.Context, member *model.Member) error

	// Delete は指定IDの会員と返却済みの貸出履歴を削除する。
	// 返却していない貸出がある場合はErrOpenLoansを返し、何も削除しない。
	Delete(ctx context.Context, id string) error
}

// BorrowRecordRepository は貸出履歴の参照・削除インターフェース。
// 貸出履歴の作成と返却はLendingRepositoryのトランザクション内でのみ行う。
type BorrowRecordRepository interface {
	// FindByID は指定IDの貸出履歴を書籍・会員付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.BorrowRecord, error)

	// List は検索条件に一致する貸出履歴をborrow_date降順で返す。
	// 検索対象: 書籍タイトル, 会員メールアドレス
	List(ctx context.Context, params model.BorrowRecordListParams) ([]*model.BorrowRecord, int, error)

	// DeleteClosed は返却済みの貸出履歴を削除する。
	// 対象が存在しないか貸出中の場合はErrNotFoundを返す。
	DeleteClosed(ctx context.Context, id string) error
}

// LendingRepository は貸出・返却をひとつのトランザクションで実行するインターフェース。
type LendingRepository interface {
	// RunInTx はトランザクションを開始してfnを実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LendingTx) error) error
}

// LendingTx は貸出トランザクション内で利用できる操作。
// Lock系のメソッドは対象行を排他ロックし、コミットまで他の貸出・返却を待たせる。
type LendingTx interface {
	// LockBook は書籍行をロックして取得する。見つからない場合はnilを返す。
	LockBook(ctx context.Context, bookID string) (*model.Book, error)

	// FindMember は会員を取得する。見つからない場合はnilを返す。
	FindMember(ctx context.Context, memberID string) (*model.Member, error)

	// HasOpenRecord は書籍と会員の組み合わせで貸出中の履歴が存在するかを返す。
	HasOpenRecord(ctx context.Context, bookID, memberID string) (bool, error)

	// LockRecord は貸出履歴行をロックして取得する。見つからない場合はnilを返す。
	LockRecord(ctx context.Context, recordID string) (*model.BorrowRecord, error)

	// SetBookAvailability は書籍のavailability_statusを更新する。
	SetBookAvailability(ctx context.Context, bookID string, available bool) error

	// CreateRecord は貸出履歴を作成する。
	CreateRecord(ctx context.Context, record *model.BorrowRecord) error

	// CloseRecord は貸出履歴のreturn_dateを設定する。
	CloseRecord(ctx context.Context, recordID string, returnDate time.Time) error
}

// AvailabilityMismatch はavailability_statusと貸出中履歴の有無が食い違っている書籍。
type AvailabilityMismatch struct {
	BookID             string
	AvailabilityStatus bool
	OpenRecords        int
}

// AuditRepository は貸出状態の整合性監査に必要な読み取り専用クエリ。
type AuditRepository interface {
	// FindAvailabilityMismatches はavailability_statusがtrueなのに貸出中履歴がある書籍、
	// またはfalseなのに貸出中履歴がない書籍を返す。
	FindAvailabilityMismatches(ctx context.Context) ([]AvailabilityMismatch, error)

	// FindDuplicateOpenRecords は貸出中履歴が2件以上ある書籍のIDと件数を返す。
	FindDuplicateOpenRecords(ctx context.Context) (map[string]int, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
