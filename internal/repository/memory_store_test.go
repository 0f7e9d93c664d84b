package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HridoyExe/library-management/internal/model"
)

// seedStore は著者1名、書籍2冊、会員2名を登録したMemoryStoreを返す。
func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := s.Authors().Create(ctx, &model.Author{ID: "a1", Name: "Ursula Le Guin", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("author create: %v", err)
	}
	books := []*model.Book{
		{ID: "b1", Title: "A Wizard of Earthsea", ISBN: "9780547773742", Category: "fantasy", AvailabilityStatus: true, AuthorID: "a1", CreatedAt: now, UpdatedAt: now},
		{ID: "b2", Title: "The Dispossessed", ISBN: "9780061054884", Category: "sci-fi", AvailabilityStatus: true, AuthorID: "a1", CreatedAt: now, UpdatedAt: now},
	}
	for _, b := range books {
		if err := s.Books().Create(ctx, b); err != nil {
			t.Fatalf("book create: %v", err)
		}
	}
	members := []*model.Member{
		{ID: "m1", Name: "Alice", Email: "alice@example.com", MembershipDate: now},
		{ID: "m2", Name: "Bob", Email: "bob@example.com", MembershipDate: now},
	}
	for _, m := range members {
		if err := s.Members().Create(ctx, m); err != nil {
			t.Fatalf("member create: %v", err)
		}
	}
	return s
}

func borrowInStore(t *testing.T, s *MemoryStore, recordID, bookID, memberID string, borrowDate time.Time) {
	t.Helper()
	err := s.Lending().RunInTx(context.Background(), func(ctx context.Context, tx LendingTx) error {
		if err := tx.SetBookAvailability(ctx, bookID, false); err != nil {
			return err
		}
		return tx.CreateRecord(ctx, &model.BorrowRecord{ID: recordID, BookID: bookID, MemberID: memberID, BorrowDate: borrowDate, CreatedAt: borrowDate})
	})
	if err != nil {
		t.Fatalf("borrow in store: %v", err)
	}
}

func TestMemoryBookRepo_FindByID_IncludesAuthor(t *testing.T) {
	s := seedStore(t)

	book, err := s.Books().FindByID(context.Background(), "b1")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if book == nil || book.Author == nil {
		t.Fatal("expected book with author")
	}
	if book.Author.Name != "Ursula Le Guin" {
		t.Errorf("author name = %q", book.Author.Name)
	}

	missing, err := s.Books().FindByID(context.Background(), "nope")
	if err != nil || missing != nil {
		t.Errorf("FindByID(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestMemoryBookRepo_Create_RequiresAuthor(t *testing.T) {
	s := seedStore(t)

	err := s.Books().Create(context.Background(), &model.Book{ID: "b3", Title: "X", AuthorID: "missing"})
	if !errors.Is(err, ErrAuthorReference) {
		t.Errorf("Create with unknown author: err = %v, want ErrAuthorReference", err)
	}
}

func TestMemoryBookRepo_List_SearchAndFilters(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		params  model.BookListParams
		wantIDs []string
	}{
		{"全件（title昇順）", model.BookListParams{}, []string{"b1", "b2"}},
		{"タイトル検索", model.BookListParams{ListParams: model.ListParams{Search: "earthsea"}}, []string{"b1"}},
		{"著者名検索", model.BookListParams{ListParams: model.ListParams{Search: "le guin"}}, []string{"b1", "b2"}},
		{"ISBN検索", model.BookListParams{ListParams: model.ListParams{Search: "9780061"}}, []string{"b2"}},
		{"カテゴリ絞り込み", model.BookListParams{Category: "sci-fi"}, []string{"b2"}},
		{"ページング", model.BookListParams{ListParams: model.ListParams{Limit: 1, Offset: 1}}, []string{"b2"}},
		{"範囲外オフセット", model.BookListParams{ListParams: model.ListParams{Offset: 10}}, []string{}},
		{"負のオフセット", model.BookListParams{ListParams: model.ListParams{Limit: 1, Offset: -1}}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			books, _, err := s.Books().List(ctx, tt.params)
			if err != nil {
				t.Fatalf("List returned error: %v", err)
			}
			if len(books) != len(tt.wantIDs) {
				t.Fatalf("len(books) = %d, want %d", len(books), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if books[i].ID != id {
					t.Errorf("books[%d].ID = %q, want %q", i, books[i].ID, id)
				}
			}
		})
	}
}

func TestMemoryBookRepo_List_AvailableFilter(t *testing.T) {
	s := seedStore(t)
	borrowInStore(t, s, "r1", "b1", "m1", time.Now())

	available := false
	books, total, err := s.Books().List(context.Background(), model.BookListParams{Available: &available})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 1 || books[0].ID != "b1" {
		t.Errorf("unavailable books = %d (first %v), want only b1", total, books)
	}
}

func TestMemoryBookRepo_Update_KeepsAvailability(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	borrowInStore(t, s, "r1", "b1", "m1", time.Now())

	err := s.Books().Update(ctx, &model.Book{ID: "b1", Title: "Renamed", ISBN: "1", Category: "c", AuthorID: "a1", AvailabilityStatus: true})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	book, _ := s.Books().FindByID(ctx, "b1")
	if book.Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", book.Title)
	}
	if book.AvailabilityStatus {
		t.Error("Update must not change availability_status")
	}

	if err := s.Books().Update(ctx, &model.Book{ID: "missing", AuthorID: "a1"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) err = %v, want ErrNotFound", err)
	}
}

func returnInStore(t *testing.T, s *MemoryStore, recordID, bookID string) {
	t.Helper()
	err := s.Lending().RunInTx(context.Background(), func(ctx context.Context, tx LendingTx) error {
		if err := tx.CloseRecord(ctx, recordID, time.Now()); err != nil {
			return err
		}
		return tx.SetBookAvailability(ctx, bookID, true)
	})
	if err != nil {
		t.Fatalf("return in store: %v", err)
	}
}

func TestMemoryAuthorRepo_Delete_Cascades(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	borrowInStore(t, s, "r1", "b1", "m1", time.Now())

	if err := s.Authors().Delete(ctx, "a1"); !errors.Is(err, ErrOpenLoans) {
		t.Fatalf("Delete with open loan err = %v, want ErrOpenLoans", err)
	}
	if _, total, _ := s.Books().List(ctx, model.BookListParams{}); total != 2 {
		t.Errorf("books remaining after rejected delete = %d, want 2", total)
	}

	returnInStore(t, s, "r1", "b1")

	if err := s.Authors().Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	if _, total, _ := s.Books().List(ctx, model.BookListParams{}); total != 0 {
		t.Errorf("books remaining = %d, want 0", total)
	}
	if rec, _ := s.BorrowRecords().FindByID(ctx, "r1"); rec != nil {
		t.Error("borrow record should be cascade deleted")
	}
	if err := s.Authors().Delete(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

// 貸出中の会員・書籍は削除できず、貸出記録と書籍の貸出状態が残る。
func TestMemoryRepos_Delete_RejectsOpenLoans(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	borrowInStore(t, s, "r1", "b1", "m1", time.Now())

	if err := s.Members().Delete(ctx, "m1"); !errors.Is(err, ErrOpenLoans) {
		t.Errorf("member Delete err = %v, want ErrOpenLoans", err)
	}
	if err := s.Books().Delete(ctx, "b1"); !errors.Is(err, ErrOpenLoans) {
		t.Errorf("book Delete err = %v, want ErrOpenLoans", err)
	}

	rec, _ := s.BorrowRecords().FindByID(ctx, "r1")
	if rec == nil || !rec.IsOpen() {
		t.Fatalf("open record should remain, got %+v", rec)
	}
	b, _ := s.Books().FindByID(ctx, "b1")
	if b == nil || b.AvailabilityStatus {
		t.Errorf("book should remain unavailable, got %+v", b)
	}

	// 貸出の無い会員・書籍は削除できる
	if err := s.Members().Delete(ctx, "m2"); err != nil {
		t.Errorf("member Delete without loans: %v", err)
	}
	if err := s.Books().Delete(ctx, "b2"); err != nil {
		t.Errorf("book Delete without loans: %v", err)
	}

	returnInStore(t, s, "r1", "b1")
	if err := s.Members().Delete(ctx, "m1"); err != nil {
		t.Fatalf("member Delete after return: %v", err)
	}
	if rec, _ := s.BorrowRecords().FindByID(ctx, "r1"); rec != nil {
		t.Error("closed record should be removed with the member")
	}
}

func TestMemoryMemberRepo_DuplicateEmail(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	err := s.Members().Create(ctx, &model.Member{ID: "m3", Name: "Carol", Email: "alice@example.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("Create duplicate err = %v, want ErrDuplicateEmail", err)
	}

	err = s.Members().Update(ctx, &model.Member{ID: "m2", Name: "Bob", Email: "alice@example.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("Update duplicate err = %v, want ErrDuplicateEmail", err)
	}

	// 自分自身のメールアドレスのままの更新は許可される
	if err := s.Members().Update(ctx, &model.Member{ID: "m1", Name: "Alice B", Email: "alice@example.com"}); err != nil {
		t.Errorf("Update own email err = %v", err)
	}
}

func TestMemoryMemberRepo_List_SearchByEmail(t *testing.T) {
	s := seedStore(t)

	members, total, err := s.Members().List(context.Background(), model.ListParams{Search: "BOB@"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 1 || members[0].ID != "m2" {
		t.Errorf("search result = %v (total %d), want m2", members, total)
	}
}

func TestMemoryLendingRepo_RunInTx_RollsBackOnError(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Lending().RunInTx(ctx, func(ctx context.Context, tx LendingTx) error {
		if err := tx.SetBookAvailability(ctx, "b1", false); err != nil {
			return err
		}
		if err := tx.CreateRecord(ctx, &model.BorrowRecord{ID: "r1", BookID: "b1", MemberID: "m1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx err = %v, want boom", err)
	}

	book, _ := s.Books().FindByID(ctx, "b1")
	if !book.AvailabilityStatus {
		t.Error("availability_status should be rolled back to true")
	}
	if rec, _ := s.BorrowRecords().FindByID(ctx, "r1"); rec != nil {
		t.Error("borrow record should be rolled back")
	}
}

func TestMemoryLendingTx_CloseRecordAndHasOpenRecord(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	borrowInStore(t, s, "r1", "b1", "m1", time.Now())
	returned := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)

	err := s.Lending().RunInTx(ctx, func(ctx context.Context, tx LendingTx) error {
		open, err := tx.HasOpenRecord(ctx, "b1", "m1")
		if err != nil {
			return err
		}
		if !open {
			t.Error("expected open record for (b1, m1)")
		}
		if err := tx.CloseRecord(ctx, "r1", returned); err != nil {
			return err
		}
		open, _ = tx.HasOpenRecord(ctx, "b1", "m1")
		if open {
			t.Error("record should be closed")
		}
		// 返却済みの履歴を再度閉じることはできない
		if err := tx.CloseRecord(ctx, "r1", returned); !errors.Is(err, ErrNotFound) {
			t.Errorf("second CloseRecord err = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx returned error: %v", err)
	}

	rec, _ := s.BorrowRecords().FindByID(ctx, "r1")
	if rec.ReturnDate == nil || !rec.ReturnDate.Equal(returned) {
		t.Errorf("return_date = %v, want %v", rec.ReturnDate, returned)
	}
	if rec.Book == nil || rec.Member == nil {
		t.Error("FindByID should populate book and member")
	}
}

func TestMemoryBorrowRecordRepo_ListAndDeleteClosed(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	borrowInStore(t, s, "r1", "b1", "m1", day1)
	borrowInStore(t, s, "r2", "b2", "m2", day2)

	records, total, err := s.BorrowRecords().List(ctx, model.BorrowRecordListParams{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 2 || records[0].ID != "r2" {
		t.Errorf("records should be ordered by borrow_date desc: got %v", records)
	}

	records, _, _ = s.BorrowRecords().List(ctx, model.BorrowRecordListParams{MemberID: "m1"})
	if len(records) != 1 || records[0].ID != "r1" {
		t.Errorf("member filter result = %v, want r1", records)
	}

	records, _, _ = s.BorrowRecords().List(ctx, model.BorrowRecordListParams{ListParams: model.ListParams{Search: "dispossessed"}})
	if len(records) != 1 || records[0].ID != "r2" {
		t.Errorf("title search result = %v, want r2", records)
	}

	if err := s.BorrowRecords().DeleteClosed(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteClosed(open) err = %v, want ErrNotFound", err)
	}

	_ = s.Lending().RunInTx(ctx, func(ctx context.Context, tx LendingTx) error {
		return tx.CloseRecord(ctx, "r1", day2)
	})

	closed := false
	records, _, _ = s.BorrowRecords().List(ctx, model.BorrowRecordListParams{Open: &closed})
	if len(records) != 1 || records[0].ID != "r1" {
		t.Errorf("open=false filter result = %v, want r1", records)
	}

	if err := s.BorrowRecords().DeleteClosed(ctx, "r1"); err != nil {
		t.Errorf("DeleteClosed(closed) err = %v", err)
	}
}

func TestMemoryAuditRepo(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	borrowInStore(t, s, "r1", "b1", "m1", time.Now())

	mismatches, err := s.Audit().FindAvailabilityMismatches(ctx)
	if err != nil {
		t.Fatalf("FindAvailabilityMismatches returned error: %v", err)
	}
	if len(mismatches) != 0 {
		t.Errorf("consistent store reported mismatches: %v", mismatches)
	}

	// 不整合を直接作る: b2は貸出中の履歴があるのにavailableのまま
	s.records["r2"] = model.BorrowRecord{ID: "r2", BookID: "b2", MemberID: "m2"}
	s.records["r3"] = model.BorrowRecord{ID: "r3", BookID: "b2", MemberID: "m1"}

	mismatches, _ = s.Audit().FindAvailabilityMismatches(ctx)
	if len(mismatches) != 1 || mismatches[0].BookID != "b2" || mismatches[0].OpenRecords != 2 {
		t.Errorf("mismatches = %+v, want b2 with 2 open records", mismatches)
	}

	duplicates, _ := s.Audit().FindDuplicateOpenRecords(ctx)
	if len(duplicates) != 1 || duplicates["b2"] != 2 {
		t.Errorf("duplicates = %v, want map[b2:2]", duplicates)
	}
}
