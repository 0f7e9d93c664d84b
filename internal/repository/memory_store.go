package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HridoyExe/library-management/internal/model"
)

// MemoryStore はプロセス内メモリにデータを保持するストア。
// DATABASE_URLなしのローカル起動とテストで使う。
// 全リポジトリが1つのミューテックスを共有し、貸出トランザクションはその排他ロック内で実行される。
type MemoryStore struct {
	mu      sync.RWMutex
	authors map[string]model.Author
	books   map[string]model.Book
	members map[string]model.Member
	records map[string]model.BorrowRecord
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		authors: make(map[string]model.Author),
		books:   make(map[string]model.Book),
		members: make(map[string]model.Member),
		records: make(map[string]model.BorrowRecord),
	}
}

// Authors は著者リポジトリを返す。
func (s *MemoryStore) Authors() *MemoryAuthorRepo { return &MemoryAuthorRepo{s: s} }

// Books は書籍リポジトリを返す。
func (s *MemoryStore) Books() *MemoryBookRepo { return &MemoryBookRepo{s: s} }

// Members は会員リポジトリを返す。
func (s *MemoryStore) Members() *MemoryMemberRepo { return &MemoryMemberRepo{s: s} }

// BorrowRecords は貸出履歴リポジトリを返す。
func (s *MemoryStore) BorrowRecords() *MemoryBorrowRecordRepo { return &MemoryBorrowRecordRepo{s: s} }

// Lending は貸出トランザクション用リポジトリを返す。
func (s *MemoryStore) Lending() *MemoryLendingRepo { return &MemoryLendingRepo{s: s} }

// Audit は監査用リポジトリを返す。
func (s *MemoryStore) Audit() *MemoryAuditRepo { return &MemoryAuditRepo{s: s} }

// PingContext はヘルスチェック用。メモリストアは常に利用可能。
func (s *MemoryStore) PingContext(ctx context.Context) error {
	return ctx.Err()
}

// 以下の関数はロックを取得済みの状態で呼び出すこと。

func (s *MemoryStore) bookWithAuthor(b model.Book) *model.Book {
	if a, ok := s.authors[b.AuthorID]; ok {
		b.Author = &a
	}
	return &b
}

func (s *MemoryStore) recordWithRelations(r model.BorrowRecord) *model.BorrowRecord {
	if r.ReturnDate != nil {
		d := *r.ReturnDate
		r.ReturnDate = &d
	}
	if b, ok := s.books[r.BookID]; ok {
		r.Book = s.bookWithAuthor(b)
	}
	if m, ok := s.members[r.MemberID]; ok {
		r.Member = &m
	}
	return &r
}

func (s *MemoryStore) deleteRecordsWhere(match func(model.BorrowRecord) bool) {
	for id, r := range s.records {
		if match(r) {
			delete(s.records, id)
		}
	}
}

// hasOpenRecord はmatchに一致する貸出中の履歴があるかを返す。
func (s *MemoryStore) hasOpenRecord(match func(model.BorrowRecord) bool) bool {
	for _, r := range s.records {
		if r.IsOpen() && match(r) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) deleteBookCascade(bookID string) {
	delete(s.books, bookID)
	s.deleteRecordsWhere(func(r model.BorrowRecord) bool { return r.BookID == bookID })
}

// containsFold はsearchがいずれかの値に大文字小文字を無視して部分一致するかを返す。
// searchが空の場合は常にtrueを返す。
func containsFold(search string, values ...string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), search) {
			return true
		}
	}
	return false
}

// paginate はlimit/offsetに従ってスライスを切り出す。
// 範囲外のoffsetは空スライスになる。
func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 || offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ============================================================
// 著者
// ============================================================

// MemoryAuthorRepo はMemoryStoreを使用した著者リポジトリ。
type MemoryAuthorRepo struct {
	s *MemoryStore
}

// FindByID は指定IDの著者を取得する。見つからない場合はnilを返す。
func (r *MemoryAuthorRepo) FindByID(_ context.Context, id string) (*model.Author, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.authors[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// List は検索条件に一致する著者をname昇順で返す。
func (r *MemoryAuthorRepo) List(_ context.Context, params model.ListParams) ([]*model.Author, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []*model.Author{}
	for _, a := range r.s.authors {
		if !containsFold(params.Search, a.ID, a.Name) {
			continue
		}
		a := a
		result = append(result, &a)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})

	return paginate(result, params.Limit, params.Offset), len(result), nil
}

// Create は著者を作成する。
func (r *MemoryAuthorRepo) Create(_ context.Context, author *model.Author) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.authors[author.ID] = *author
	return nil
}

// Update は著者情報を更新する。
func (r *MemoryAuthorRepo) Update(_ context.Context, author *model.Author) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.authors[author.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Name = author.Name
	existing.Biography = author.Biography
	existing.UpdatedAt = author.UpdatedAt
	r.s.authors[author.ID] = existing
	return nil
}

// Delete は著者とその書籍・貸出履歴を削除する。著者の書籍が貸出中の場合は削除しない。
func (r *MemoryAuthorRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.authors[id]; !ok {
		return ErrNotFound
	}
	onLoan := r.s.hasOpenRecord(func(rec model.BorrowRecord) bool {
		b, ok := r.s.books[rec.BookID]
		return ok && b.AuthorID == id
	})
	if onLoan {
		return ErrOpenLoans
	}
	delete(r.s.authors, id)
	for bookID, b := range r.s.books {
		if b.AuthorID == id {
			r.s.deleteBookCascade(bookID)
		}
	}
	return nil
}

// ============================================================
// 書籍
// ============================================================

// MemoryBookRepo はMemoryStoreを使用した書籍リポジトリ。
type MemoryBookRepo struct {
	s *MemoryStore
}

// FindByID は指定IDの書籍を著者付きで取得する。見つからない場合はnilを返す。
func (r *MemoryBookRepo) FindByID(_ context.Context, id string) (*model.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	b, ok := r.s.books[id]
	if !ok {
		return nil, nil
	}
	return r.s.bookWithAuthor(b), nil
}

// List は検索条件に一致する書籍をtitle昇順で返す。
func (r *MemoryBookRepo) List(_ context.Context, params model.BookListParams) ([]*model.Book, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []*model.Book{}
	for _, b := range r.s.books {
		book := r.s.bookWithAuthor(b)
		authorName := ""
		if book.Author != nil {
			authorName = book.Author.Name
		}
		if !containsFold(params.Search, book.Title, book.ISBN, book.Category, authorName) {
			continue
		}
		if params.Available != nil && book.AvailabilityStatus != *params.Available {
			continue
		}
		if params.Category != "" && book.Category != params.Category {
			continue
		}
		if params.AuthorID != "" && book.AuthorID != params.AuthorID {
			continue
		}
		result = append(result, book)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Title != result[j].Title {
			return result[i].Title < result[j].Title
		}
		return result[i].ID < result[j].ID
	})

	return paginate(result, params.Limit, params.Offset), len(result), nil
}

// Create は書籍を作成する。著者が存在しない場合はErrAuthorReferenceを返す。
func (r *MemoryBookRepo) Create(_ context.Context, book *model.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.authors[book.AuthorID]; !ok {
		return ErrAuthorReference
	}
	stored := *book
	stored.Author = nil
	r.s.books[book.ID] = stored
	return nil
}

// Update はtitle, isbn, category, author_idを更新する。
func (r *MemoryBookRepo) Update(_ context.Context, book *model.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.books[book.ID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := r.s.authors[book.AuthorID]; !ok {
		return ErrAuthorReference
	}
	existing.Title = book.Title
	existing.ISBN = book.ISBN
	existing.Category = book.Category
	existing.AuthorID = book.AuthorID
	existing.UpdatedAt = book.UpdatedAt
	r.s.books[book.ID] = existing
	return nil
}

// Delete は書籍とその貸出履歴を削除する。貸出中の場合は削除しない。
func (r *MemoryBookRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.books[id]; !ok {
		return ErrNotFound
	}
	if r.s.hasOpenRecord(func(rec model.BorrowRecord) bool { return rec.BookID == id }) {
		return ErrOpenLoans
	}
	r.s.deleteBookCascade(id)
	return nil
}

// ============================================================
// 会員
// ============================================================

// MemoryMemberRepo はMemoryStoreを使用した会員リポジトリ。
type MemoryMemberRepo struct {
	s *MemoryStore
}

// FindByID は指定IDの会員を取得する。見つからない場合はnilを返す。
func (r *MemoryMemberRepo) FindByID(_ context.Context, id string) (*model.Member, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.members[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// List は検索条件に一致する会員をname昇順で返す。
func (r *MemoryMemberRepo) List(_ context.Context, params model.ListParams) ([]*model.Member, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []*model.Member{}
	for _, m := range r.s.members {
		if !containsFold(params.Search, m.ID, m.Email) {
			continue
		}
		m := m
		result = append(result, &m)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})

	return paginate(result, params.Limit, params.Offset), len(result), nil
}

func (r *MemoryMemberRepo) emailTaken(email, exceptID string) bool {
	for id, m := range r.s.members {
		if id != exceptID && m.Email == email {
			return true
		}
	}
	return false
}

// Create は会員を作成する。メールアドレス重複時はErrDuplicateEmailを返す。
func (r *MemoryMemberRepo) Create(_ context.Context, member *model.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.emailTaken(member.Email, "") {
		return ErrDuplicateEmail
	}
	r.s.members[member.ID] = *member
	return nil
}

// Update は会員情報を更新する。メールアドレス重複時はErrDuplicateEmailを返す。
func (r *MemoryMemberRepo) Update(_ context.Context, member *model.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.members[member.ID]
	if !ok {
		return ErrNotFound
	}
	if r.emailTaken(member.Email, member.ID) {
		return ErrDuplicateEmail
	}
	existing.Name = member.Name
	existing.Email = member.Email
	existing.MembershipDate = member.MembershipDate
	existing.UpdatedAt = member.UpdatedAt
	r.s.members[member.ID] = existing
	return nil
}

// Delete は会員とその貸出履歴を削除する。返却していない貸出がある場合は削除しない。
func (r *MemoryMemberRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.members[id]; !ok {
		return ErrNotFound
	}
	if r.s.hasOpenRecord(func(rec model.BorrowRecord) bool { return rec.MemberID == id }) {
		return ErrOpenLoans
	}
	delete(r.s.members, id)
	r.s.deleteRecordsWhere(func(rec model.BorrowRecord) bool { return rec.MemberID == id })
	return nil
}

// ============================================================
// 貸出履歴
// ============================================================

// MemoryBorrowRecordRepo はMemoryStoreを使用した貸出履歴リポジトリ。
type MemoryBorrowRecordRepo struct {
	s *MemoryStore
}

// FindByID は指定IDの貸出履歴を書籍・会員付きで取得する。見つからない場合はnilを返す。
func (r *MemoryBorrowRecordRepo) FindByID(_ context.Context, id string) (*model.BorrowRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.s.records[id]
	if !ok {
		return nil, nil
	}
	return r.s.recordWithRelations(rec), nil
}

// List は検索条件に一致する貸出履歴をborrow_date降順で返す。
func (r *MemoryBorrowRecordRepo) List(_ context.Context, params model.BorrowRecordListParams) ([]*model.BorrowRecord, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []*model.BorrowRecord{}
	for _, rec := range r.s.records {
		if params.BookID != "" && rec.BookID != params.BookID {
			continue
		}
		if params.MemberID != "" && rec.MemberID != params.MemberID {
			continue
		}
		if params.Open != nil && rec.IsOpen() != *params.Open {
			continue
		}
		full := r.s.recordWithRelations(rec)
		title, email := "", ""
		if full.Book != nil {
			title = full.Book.Title
		}
		if full.Member != nil {
			email = full.Member.Email
		}
		if !containsFold(params.Search, title, email) {
			continue
		}
		result = append(result, full)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.BorrowDate.Equal(b.BorrowDate) {
			return a.BorrowDate.After(b.BorrowDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	return paginate(result, params.Limit, params.Offset), len(result), nil
}

// DeleteClosed は返却済みの貸出履歴を削除する。
func (r *MemoryBorrowRecordRepo) DeleteClosed(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.records[id]
	if !ok || rec.IsOpen() {
		return ErrNotFound
	}
	delete(r.s.records, id)
	return nil
}

// ============================================================
// 貸出トランザクション
// ============================================================

// MemoryLendingRepo はMemoryStoreの排他ロック内で貸出・返却を実行する。
type MemoryLendingRepo struct {
	s *MemoryStore
}

// RunInTx は排他ロックを取得してfnを実行する。
// fnがエラーを返した場合はfn内で行った変更を逆順に取り消す。
func (r *MemoryLendingRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx LendingTx) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx := &memoryLendingTx{s: r.s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memoryLendingTx はMemoryStoreに対するLendingTxの実装。
// 呼び出し時点でMemoryStoreの排他ロックを保持している。
type memoryLendingTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memoryLendingTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryLendingTx) LockBook(_ context.Context, bookID string) (*model.Book, error) {
	b, ok := t.s.books[bookID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (t *memoryLendingTx) FindMember(_ context.Context, memberID string) (*model.Member, error) {
	m, ok := t.s.members[memberID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (t *memoryLendingTx) HasOpenRecord(_ context.Context, bookID, memberID string) (bool, error) {
	for _, rec := range t.s.records {
		if rec.BookID == bookID && rec.MemberID == memberID && rec.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryLendingTx) LockRecord(_ context.Context, recordID string) (*model.BorrowRecord, error) {
	rec, ok := t.s.records[recordID]
	if !ok {
		return nil, nil
	}
	if rec.ReturnDate != nil {
		d := *rec.ReturnDate
		rec.ReturnDate = &d
	}
	return &rec, nil
}

func (t *memoryLendingTx) SetBookAvailability(_ context.Context, bookID string, available bool) error {
	prev, ok := t.s.books[bookID]
	if !ok {
		return ErrNotFound
	}
	next := prev
	next.AvailabilityStatus = available
	next.UpdatedAt = time.Now()
	t.s.books[bookID] = next
	t.undo = append(t.undo, func() { t.s.books[bookID] = prev })
	return nil
}

func (t *memoryLendingTx) CreateRecord(_ context.Context, rec *model.BorrowRecord) error {
	stored := *rec
	stored.Book = nil
	stored.Member = nil
	stored.ReturnDate = nil
	t.s.records[rec.ID] = stored
	t.undo = append(t.undo, func() { delete(t.s.records, rec.ID) })
	return nil
}

func (t *memoryLendingTx) CloseRecord(_ context.Context, recordID string, returnDate time.Time) error {
	prev, ok := t.s.records[recordID]
	if !ok || !prev.IsOpen() {
		return ErrNotFound
	}
	next := prev
	d := returnDate
	next.ReturnDate = &d
	next.UpdatedAt = time.Now()
	t.s.records[recordID] = next
	t.undo = append(t.undo, func() { t.s.records[recordID] = prev })
	return nil
}

// ============================================================
// 監査
// ============================================================

// MemoryAuditRepo はMemoryStoreを使用した監査リポジトリ。
type MemoryAuditRepo struct {
	s *MemoryStore
}

func (r *MemoryAuditRepo) openRecordCounts() map[string]int {
	counts := make(map[string]int)
	for _, rec := range r.s.records {
		if rec.IsOpen() {
			counts[rec.BookID]++
		}
	}
	return counts
}

// FindAvailabilityMismatches はavailability_statusと貸出中履歴の有無が食い違う書籍を返す。
func (r *MemoryAuditRepo) FindAvailabilityMismatches(_ context.Context) ([]AvailabilityMismatch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := r.openRecordCounts()
	var mismatches []AvailabilityMismatch
	for id, b := range r.s.books {
		open := counts[id]
		if (b.AvailabilityStatus && open > 0) || (!b.AvailabilityStatus && open == 0) {
			mismatches = append(mismatches, AvailabilityMismatch{
				BookID:             id,
				AvailabilityStatus: b.AvailabilityStatus,
				OpenRecords:        open,
			})
		}
	}
	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].BookID < mismatches[j].BookID })
	return mismatches, nil
}

// FindDuplicateOpenRecords は貸出中履歴が2件以上ある書籍のIDと件数を返す。
func (r *MemoryAuditRepo) FindDuplicateOpenRecords(_ context.Context) (map[string]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	duplicates := make(map[string]int)
	for id, n := range r.openRecordCounts() {
		if n > 1 {
			duplicates[id] = n
		}
	}
	return duplicates, nil
}

// compile-time interface check
var (
	_ AuthorRepository       = (*MemoryAuthorRepo)(nil)
	_ BookRepository         = (*MemoryBookRepo)(nil)
	_ MemberRepository       = (*MemoryMemberRepo)(nil)
	_ BorrowRecordRepository = (*MemoryBorrowRecordRepo)(nil)
	_ LendingRepository      = (*MemoryLendingRepo)(nil)
	_ LendingTx              = (*memoryLendingTx)(nil)
	_ AuditRepository        = (*MemoryAuditRepo)(nil)
)
