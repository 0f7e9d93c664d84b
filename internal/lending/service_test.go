package lending

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HridoyExe/library-management/internal/metrics"
	"github.com/HridoyExe/library-management/internal/model"
	"github.com/HridoyExe/library-management/internal/repository"
)

var (
	testNow   = time.Date(2024, 6, 10, 14, 30, 0, 0, time.UTC)
	testToday = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
)

// --- テスト用フィクスチャ ---

type fixture struct {
	store   *repository.MemoryStore
	service *Service
	metrics *fakeCollector
	bookID  string
	book2ID string
	m1      string
	m2      string
}

type fakeCollector struct {
	mu      sync.Mutex
	borrows []string
	returns []string
}

func (f *fakeCollector) RecordBorrow(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.borrows = append(f.borrows, result)
}
func (f *fakeCollector) RecordReturn(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.returns = append(f.returns, result)
}
func (f *fakeCollector) RecordHTTPRequest(string, int, time.Duration) {}
func (f *fakeCollector) SetAuditInconsistencies(string, int)          {}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()

	f := &fixture{
		store:   store,
		metrics: &fakeCollector{},
		bookID:  uuid.NewString(),
		book2ID: uuid.NewString(),
		m1:      uuid.NewString(),
		m2:      uuid.NewString(),
	}

	authorID := uuid.NewString()
	if err := store.Authors().Create(ctx, &model.Author{ID: authorID, Name: "Author"}); err != nil {
		t.Fatalf("author create: %v", err)
	}
	for _, id := range []string{f.bookID, f.book2ID} {
		if err := store.Books().Create(ctx, &model.Book{ID: id, Title: "Book " + id, ISBN: "1", AvailabilityStatus: true, AuthorID: authorID}); err != nil {
			t.Fatalf("book create: %v", err)
		}
	}
	for i, id := range []string{f.m1, f.m2} {
		m := &model.Member{ID: id, Name: "Member", Email: id + "@example.com"}
		if err := store.Members().Create(ctx, m); err != nil {
			t.Fatalf("member %d create: %v", i, err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	f.service = NewService(store.Lending(), store.BorrowRecords(), f.metrics, logger)
	f.service.SetClock(func() time.Time { return testNow })
	return f
}

func (f *fixture) available(t *testing.T, bookID string) bool {
	t.Helper()
	b, err := f.store.Books().FindByID(context.Background(), bookID)
	if err != nil || b == nil {
		t.Fatalf("book lookup: %v, %v", b, err)
	}
	return b.AvailabilityStatus
}

func (f *fixture) openRecords(t *testing.T, bookID string) int {
	t.Helper()
	open := true
	_, total, err := f.store.BorrowRecords().List(context.Background(), model.BorrowRecordListParams{BookID: bookID, Open: &open})
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	return total
}

func assertAPIError(t *testing.T, err error, code string, kind model.ErrorKind) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
	if apiErr.Kind() != kind {
		t.Errorf("error kind = %q, want %q", apiErr.Kind(), kind)
	}
}

// --- Borrow ---

// 貸出可能な書籍を借りると、貸出中履歴が1件だけ作られ書籍が貸出不可になる。
func TestBorrow_AvailableBook(t *testing.T) {
	f := newFixture(t)

	rec, err := f.service.Borrow(context.Background(), f.bookID, f.m1)
	if err != nil {
		t.Fatalf("Borrow returned error: %v", err)
	}

	if rec.BookID != f.bookID || rec.MemberID != f.m1 {
		t.Errorf("record = %+v, want book %s member %s", rec, f.bookID, f.m1)
	}
	if !rec.BorrowDate.Equal(testToday) {
		t.Errorf("borrow_date = %v, want %v", rec.BorrowDate, testToday)
	}
	if !rec.IsOpen() {
		t.Error("new record should be open")
	}
	if rec.Book == nil || rec.Member == nil {
		t.Error("returned record should include book and member")
	}
	if f.available(t, f.bookID) {
		t.Error("book should be unavailable after borrow")
	}
	if n := f.openRecords(t, f.bookID); n != 1 {
		t.Errorf("open records = %d, want 1", n)
	}
	if len(f.metrics.borrows) != 1 || f.metrics.borrows[0] != metrics.ResultSuccess {
		t.Errorf("borrow metrics = %v, want [success]", f.metrics.borrows)
	}
}

// 貸出不可の書籍を別の会員が借りるとInvalidStateになり、履歴は作られない。
func TestBorrow_UnavailableBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Borrow(ctx, f.bookID, f.m1); err != nil {
		t.Fatalf("first Borrow returned error: %v", err)
	}

	_, err := f.service.Borrow(ctx, f.bookID, f.m2)
	assertAPIError(t, err, model.ErrCodeBookNotAvailable, model.KindInvalidState)

	if n := f.openRecords(t, f.bookID); n != 1 {
		t.Errorf("open records = %d, want 1", n)
	}
	if f.metrics.borrows[1] != model.ErrCodeBookNotAvailable {
		t.Errorf("borrow metric label = %q", f.metrics.borrows[1])
	}
}

// 同じ会員が同じ書籍を返却前に再度借りるとConflictになる。
func TestBorrow_SamePairTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Borrow(ctx, f.bookID, f.m1); err != nil {
		t.Fatalf("first Borrow returned error: %v", err)
	}

	_, err := f.service.Borrow(ctx, f.bookID, f.m1)
	assertAPIError(t, err, model.ErrCodeAlreadyBorrowed, model.KindConflict)

	if n := f.openRecords(t, f.bookID); n != 1 {
		t.Errorf("open records = %d, want 1", n)
	}
}

func TestBorrow_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		bookID   string
		memberID string
		wantCode string
	}{
		{"存在しない書籍", uuid.NewString(), f.m1, model.ErrCodeBookNotFound},
		{"存在しない会員", f.bookID, uuid.NewString(), model.ErrCodeMemberNotFound},
		{"UUIDでない書籍ID", "not-a-uuid", f.m1, model.ErrCodeBookNotFound},
		{"UUIDでない会員ID", f.bookID, "42", model.ErrCodeMemberNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Borrow(ctx, tt.bookID, tt.memberID)
			assertAPIError(t, err, tt.wantCode, model.KindNotFound)
		})
	}

	if !f.available(t, f.bookID) {
		t.Error("failed borrows must not change availability")
	}
}

// 同じ書籍への同時貸出は1件だけ成功する。
func TestBorrow_ConcurrentSameBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 10
	members := make([]string, n)
	for i := range members {
		members[i] = uuid.NewString()
		if err := f.store.Members().Create(ctx, &model.Member{ID: members[i], Email: members[i] + "@example.com"}); err != nil {
			t.Fatalf("member create: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.Borrow(ctx, f.bookID, members[i])
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assertAPIError(t, err, model.ErrCodeBookNotAvailable, model.KindInvalidState)
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded)
	}
	if open := f.openRecords(t, f.bookID); open != 1 {
		t.Errorf("open records = %d, want 1", open)
	}
}

// --- Return ---

// 貸出中の履歴を返却するとreturn_dateが設定され、書籍が貸出可能に戻る。
func TestReturn_OpenRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	borrowed, err := f.service.Borrow(ctx, f.bookID, f.m1)
	if err != nil {
		t.Fatalf("Borrow returned error: %v", err)
	}

	returned, err := f.service.Return(ctx, borrowed.ID)
	if err != nil {
		t.Fatalf("Return returned error: %v", err)
	}

	if returned.ReturnDate == nil || !returned.ReturnDate.Equal(testToday) {
		t.Errorf("return_date = %v, want %v", returned.ReturnDate, testToday)
	}
	if !f.available(t, f.bookID) {
		t.Error("book should be available after return")
	}
	if n := f.openRecords(t, f.bookID); n != 0 {
		t.Errorf("open records = %d, want 0", n)
	}
}

// 返却済みの履歴を再度返却するとInvalidStateになり、状態は変わらない。
func TestReturn_ClosedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	borrowed, _ := f.service.Borrow(ctx, f.bookID, f.m1)
	if _, err := f.service.Return(ctx, borrowed.ID); err != nil {
		t.Fatalf("first Return returned error: %v", err)
	}

	// 別の会員が借りた後でも、古い履歴の再返却は書籍状態を変えない
	if _, err := f.service.Borrow(ctx, f.bookID, f.m2); err != nil {
		t.Fatalf("second Borrow returned error: %v", err)
	}

	_, err := f.service.Return(ctx, borrowed.ID)
	assertAPIError(t, err, model.ErrCodeAlreadyReturned, model.KindInvalidState)

	if f.available(t, f.bookID) {
		t.Error("re-return must not flip availability")
	}
	rec, _ := f.store.BorrowRecords().FindByID(ctx, borrowed.ID)
	if rec.ReturnDate == nil || !rec.ReturnDate.Equal(testToday) {
		t.Errorf("return_date changed: %v", rec.ReturnDate)
	}
}

// 書籍が既に貸出可能な状態で返却するとInvalidStateになる。
func TestReturn_BookAlreadyAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	borrowed, _ := f.service.Borrow(ctx, f.bookID, f.m1)

	// 台帳外で書籍状態が壊れたケースを再現する
	err := f.store.Lending().RunInTx(ctx, func(ctx context.Context, tx repository.LendingTx) error {
		return tx.SetBookAvailability(ctx, f.bookID, true)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, err = f.service.Return(ctx, borrowed.ID)
	assertAPIError(t, err, model.ErrCodeBookAlreadyAvailable, model.KindInvalidState)

	rec, _ := f.store.BorrowRecords().FindByID(ctx, borrowed.ID)
	if !rec.IsOpen() {
		t.Error("record must stay open after rejected return")
	}
}

func TestReturn_NotFound(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{uuid.NewString(), "bogus"} {
		_, err := f.service.Return(context.Background(), id)
		assertAPIError(t, err, model.ErrCodeBorrowRecordNotFound, model.KindNotFound)
	}
}

// 同じ履歴への同時返却は1件だけ成功する。
func TestReturn_ConcurrentSameRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	borrowed, err := f.service.Borrow(ctx, f.bookID, f.m1)
	if err != nil {
		t.Fatalf("Borrow returned error: %v", err)
	}

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.Return(ctx, borrowed.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded)
	}
}

// 台帳の一連の流れ: 貸出 → 同ペア再貸出(Conflict) → 返却 → 再返却(InvalidState)
func TestLedgerScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r1, err := f.service.Borrow(ctx, f.bookID, f.m1)
	if err != nil {
		t.Fatalf("borrow(B1, M1): %v", err)
	}

	_, err = f.service.Borrow(ctx, f.bookID, f.m1)
	assertAPIError(t, err, model.ErrCodeAlreadyBorrowed, model.KindConflict)

	if _, err := f.service.Return(ctx, r1.ID); err != nil {
		t.Fatalf("return(r1): %v", err)
	}

	_, err = f.service.Return(ctx, r1.ID)
	assertAPIError(t, err, model.ErrCodeAlreadyReturned, model.KindInvalidState)

	// 返却後は同じ会員が再度借りられる
	if _, err := f.service.Borrow(ctx, f.bookID, f.m1); err != nil {
		t.Errorf("borrow after return: %v", err)
	}
}

// --- 永続化エラー ---

type failingLendingRepo struct {
	err error
}

func (r failingLendingRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.LendingTx) error) error {
	return fmt.Errorf("failed to begin transaction: %w", r.err)
}

// トランザクションの失敗はAPIErrorではなく内部エラーとして伝播する。
func TestBorrow_PersistenceFailure(t *testing.T) {
	store := repository.NewMemoryStore()
	collector := &fakeCollector{}
	dbErr := errors.New("connection refused")
	svc := NewService(failingLendingRepo{err: dbErr}, store.BorrowRecords(), collector, nil)

	_, err := svc.Borrow(context.Background(), uuid.NewString(), uuid.NewString())
	if !errors.Is(err, dbErr) {
		t.Fatalf("err = %v, want wrapped %v", err, dbErr)
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("persistence failure should not be an APIError: %v", apiErr)
	}
	if collector.borrows[0] != model.ErrCodeInternal {
		t.Errorf("borrow metric label = %q, want %q", collector.borrows[0], model.ErrCodeInternal)
	}
}

// unreadableRecords はFindByIDだけが失敗する貸出履歴リポジトリ。
type unreadableRecords struct {
	repository.BorrowRecordRepository
	err error
}

func (r unreadableRecords) FindByID(context.Context, string) (*model.BorrowRecord, error) {
	return nil, r.err
}

// コミット後の再取得に失敗しても、貸出・返却は成功として結果を返し警告ログを出す。
func TestBorrowAndReturn_ReloadFailureAfterCommit(t *testing.T) {
	f := newFixture(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	records := unreadableRecords{BorrowRecordRepository: f.store.BorrowRecords(), err: errors.New("read replica lag")}
	svc := NewService(f.store.Lending(), records, f.metrics, logger)
	svc.SetClock(func() time.Time { return testNow })
	ctx := context.Background()

	rec, err := svc.Borrow(ctx, f.bookID, f.m1)
	if err != nil {
		t.Fatalf("Borrow returned error after commit: %v", err)
	}
	if rec.BookID != f.bookID || rec.MemberID != f.m1 || !rec.IsOpen() {
		t.Errorf("borrowed record = %+v", rec)
	}
	if !rec.BorrowDate.Equal(testToday) {
		t.Errorf("borrow_date = %v, want %v", rec.BorrowDate, testToday)
	}
	if f.available(t, f.bookID) || f.openRecords(t, f.bookID) != 1 {
		t.Error("borrow should be committed")
	}

	returned, err := svc.Return(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Return returned error after commit: %v", err)
	}
	if returned.ID != rec.ID || returned.ReturnDate == nil || !returned.ReturnDate.Equal(testToday) {
		t.Errorf("returned record = %+v", returned)
	}
	if !f.available(t, f.bookID) {
		t.Error("return should be committed")
	}

	if got := strings.Count(logs.String(), "failed to reload borrow record after commit"); got != 2 {
		t.Errorf("reload warnings = %d, want 2\n%s", got, logs.String())
	}
	if f.metrics.borrows[0] != metrics.ResultSuccess || f.metrics.returns[0] != metrics.ResultSuccess {
		t.Errorf("metrics = %v / %v, want success", f.metrics.borrows, f.metrics.returns)
	}
}

// --- 貸出履歴の参照・削除 ---

func TestDeleteRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, _ := f.service.Borrow(ctx, f.bookID, f.m1)

	err := f.service.DeleteRecord(ctx, rec.ID)
	assertAPIError(t, err, model.ErrCodeBorrowRecordOpen, model.KindInvalidState)

	if _, err := f.service.Return(ctx, rec.ID); err != nil {
		t.Fatalf("Return returned error: %v", err)
	}
	if err := f.service.DeleteRecord(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteRecord returned error: %v", err)
	}

	_, err = f.service.GetRecord(ctx, rec.ID)
	assertAPIError(t, err, model.ErrCodeBorrowRecordNotFound, model.KindNotFound)
}

func TestListRecords_FiltersByMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Borrow(ctx, f.bookID, f.m1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.Borrow(ctx, f.book2ID, f.m2); err != nil {
		t.Fatal(err)
	}

	records, total, err := f.service.ListRecords(ctx, model.BorrowRecordListParams{MemberID: f.m2})
	if err != nil {
		t.Fatalf("ListRecords returned error: %v", err)
	}
	if total != 1 || records[0].BookID != f.book2ID {
		t.Errorf("records = %v (total %d), want book2 only", records, total)
	}
}
