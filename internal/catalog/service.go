// Package catalog は著者・書籍・会員の管理ロジックを提供する。
//
// 書籍のavailability_statusはここでは変更しない。貸出状態の変更はlendingパッケージのみが行う。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HridoyExe/library-management/internal/model"
	"github.com/HridoyExe/library-management/internal/repository"
	"github.com/HridoyExe/library-management/internal/security"
)

// AuthorInput は著者の作成・更新内容。
// 更新時にnilのフィールドは既存の値を維持する。
type AuthorInput struct {
	Name      *string
	Biography *string
}

// BookInput は書籍の作成・更新内容。
type BookInput struct {
	Title    *string
	ISBN     *string
	Category *string
	AuthorID *string
}

// MemberInput は会員の作成・更新内容。
// 作成時にMembershipDateがnilの場合は当日になる。
type MemberInput struct {
	Name           *string
	Email          *string
	MembershipDate *time.Time
}

// Service は蔵書カタログと会員のサービス層。
type Service struct {
	authors   repository.AuthorRepository
	books     repository.BookRepository
	members   repository.MemberRepository
	sanitizer security.TextSanitizer
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	authors repository.AuthorRepository,
	books repository.BookRepository,
	members repository.MemberRepository,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
) *Service {
	if sanitizer == nil {
		sanitizer = security.NewBiographySanitizer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		authors:   authors,
		books:     books,
		members:   members,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// SetClock はテスト用に現在時刻の取得関数を差し替える。
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func isValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// requireText は前後の空白を除いた値が空でないことを検証する。
func requireText(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", model.NewValidationError(field + " is required")
	}
	return value, nil
}

// ============================================================
// 著者
// ============================================================

// GetAuthor は指定IDの著者を返す。
func (s *Service) GetAuthor(ctx context.Context, id string) (*model.Author, error) {
	if !isValidID(id) {
		return nil, model.NewAuthorNotFoundError(id)
	}
	author, err := s.authors.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("著者の取得に失敗しました: %w", err)
	}
	if author == nil {
		return nil, model.NewAuthorNotFoundError(id)
	}
	return author, nil
}

// ListAuthors は著者一覧と総件数を返す。
func (s *Service) ListAuthors(ctx context.Context, params model.ListParams) ([]*model.Author, int, error) {
	authors, total, err := s.authors.List(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("著者一覧の取得に失敗しました: %w", err)
	}
	return authors, total, nil
}

// CreateAuthor は著者を作成する。略歴は許可されたマークアップ以外を除去して保存する。
func (s *Service) CreateAuthor(ctx context.Context, in AuthorInput) (*model.Author, error) {
	name, err := requireText("name", deref(in.Name))
	if err != nil {
		return nil, err
	}

	now := s.now()
	author := &model.Author{
		ID:        s.newID(),
		Name:      name,
		Biography: s.sanitizer.Sanitize(deref(in.Biography)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.authors.Create(ctx, author); err != nil {
		return nil, fmt.Errorf("著者の作成に失敗しました: %w", err)
	}

	s.logger.Info("author created", slog.String("author_id", author.ID))
	return author, nil
}

// UpdateAuthor は著者を更新する。
func (s *Service) UpdateAuthor(ctx context.Context, id string, in AuthorInput) (*model.Author, error) {
	author, err := s.GetAuthor(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name, err := requireText("name", *in.Name)
		if err != nil {
			return nil, err
		}
		author.Name = name
	}
	if in.Biography != nil {
		author.Biography = s.sanitizer.Sanitize(*in.Biography)
	}
	author.UpdatedAt = s.now()

	err = s.authors.Update(ctx, author)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewAuthorNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("著者の更新に失敗しました: %w", err)
	}
	return author, nil
}

// DeleteAuthor は著者を削除する。著者の書籍とその貸出履歴も削除される。
// 書籍のいずれかが貸出中の場合はAUTHOR_HAS_BOOKS_ON_LOANとなり、何も削除しない。
func (s *Service) DeleteAuthor(ctx context.Context, id string) error {
	if !isValidID(id) {
		return model.NewAuthorNotFoundError(id)
	}
	err := s.authors.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewAuthorNotFoundError(id)
	}
	if errors.Is(err, repository.ErrOpenLoans) {
		return model.NewAuthorBooksOnLoanError(id)
	}
	if err != nil {
		return fmt.Errorf("著者の削除に失敗しました: %w", err)
	}

	s.logger.Info("author deleted", slog.String("author_id", id))
	return nil
}

// ============================================================
// 書籍
// ============================================================

// GetBook は指定IDの書籍を著者付きで返す。
func (s *Service) GetBook(ctx context.Context, id string) (*model.Book, error) {
	if !isValidID(id) {
		return nil, model.NewBookNotFoundError(id)
	}
	book, err := s.books.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(id)
	}
	return book, nil
}

// ListBooks は書籍一覧と総件数を返す。
// UUID形式でない著者IDで絞り込んだ場合は空の一覧を返す。
func (s *Service) ListBooks(ctx context.Context, params model.BookListParams) ([]*model.Book, int, error) {
	if params.AuthorID != "" && !isValidID(params.AuthorID) {
		return []*model.Book{}, 0, nil
	}
	books, total, err := s.books.List(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("書籍一覧の取得に失敗しました: %w", err)
	}
	return books, total, nil
}

// CreateBook は書籍を作成する。新しい書籍は常に貸出可能な状態で登録される。
func (s *Service) CreateBook(ctx context.Context, in BookInput) (*model.Book, error) {
	title, err := requireText("title", deref(in.Title))
	if err != nil {
		return nil, err
	}
	isbn, err := requireText("isbn", deref(in.ISBN))
	if err != nil {
		return nil, err
	}
	authorID := strings.TrimSpace(deref(in.AuthorID))
	if !isValidID(authorID) {
		return nil, model.NewAuthorNotFoundError(authorID)
	}

	now := s.now()
	book := &model.Book{
		ID:                 s.newID(),
		Title:              title,
		ISBN:               isbn,
		Category:           strings.TrimSpace(deref(in.Category)),
		AvailabilityStatus: true,
		AuthorID:           authorID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.books.Create(ctx, book)
	if errors.Is(err, repository.ErrAuthorReference) {
		return nil, model.NewAuthorNotFoundError(authorID)
	}
	if err != nil {
		return nil, fmt.Errorf("書籍の作成に失敗しました: %w", err)
	}

	s.logger.Info("book created", slog.String("book_id", book.ID), slog.String("author_id", authorID))
	return s.GetBook(ctx, book.ID)
}

// UpdateBook は書籍の書誌情報を更新する。availability_statusは変更しない。
func (s *Service) UpdateBook(ctx context.Context, id string, in BookInput) (*model.Book, error) {
	book, err := s.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		if book.Title, err = requireText("title", *in.Title); err != nil {
			return nil, err
		}
	}
	if in.ISBN != nil {
		if book.ISBN, err = requireText("isbn", *in.ISBN); err != nil {
			return nil, err
		}
	}
	if in.Category != nil {
		book.Category = strings.TrimSpace(*in.Category)
	}
	if in.AuthorID != nil {
		authorID := strings.TrimSpace(*in.AuthorID)
		if !isValidID(authorID) {
			return nil, model.NewAuthorNotFoundError(authorID)
		}
		book.AuthorID = authorID
	}
	book.UpdatedAt = s.now()

	err = s.books.Update(ctx, book)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, model.NewBookNotFoundError(id)
	case errors.Is(err, repository.ErrAuthorReference):
		return nil, model.NewAuthorNotFoundError(book.AuthorID)
	case err != nil:
		return nil, fmt.Errorf("書籍の更新に失敗しました: %w", err)
	}

	return s.GetBook(ctx, id)
}

// DeleteBook は書籍を削除する。返却済みの貸出履歴も削除される。
// 貸出中の書籍はBOOK_ON_LOANとなる。
func (s *Service) DeleteBook(ctx context.Context, id string) error {
	if !isValidID(id) {
		return model.NewBookNotFoundError(id)
	}
	err := s.books.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewBookNotFoundError(id)
	}
	if errors.Is(err, repository.ErrOpenLoans) {
		return model.NewBookOnLoanError(id)
	}
	if err != nil {
		return fmt.Errorf("書籍の削除に失敗しました: %w", err)
	}

	s.logger.Info("book deleted", slog.String("book_id", id))
	return nil
}

// ============================================================
// 会員
// ============================================================

// GetMember は指定IDの会員を返す。
func (s *Service) GetMember(ctx context.Context, id string) (*model.Member, error) {
	if !isValidID(id) {
		return nil, model.NewMemberNotFoundError(id)
	}
	member, err := s.members.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	if member == nil {
		return nil, model.NewMemberNotFoundError(id)
	}
	return member, nil
}

// ListMembers は会員一覧と総件数を返す。
func (s *Service) ListMembers(ctx context.Context, params model.ListParams) ([]*model.Member, int, error) {
	members, total, err := s.members.List(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("会員一覧の取得に失敗しました: %w", err)
	}
	return members, total, nil
}

// CreateMember は会員を作成する。メールアドレスが既に登録されている場合はエラーを返す。
func (s *Service) CreateMember(ctx context.Context, in MemberInput) (*model.Member, error) {
	name, err := requireText("name", deref(in.Name))
	if err != nil {
		return nil, err
	}
	email, err := requireText("email", deref(in.Email))
	if err != nil {
		return nil, err
	}

	now := s.now()
	membershipDate := model.DateOnly(now)
	if in.MembershipDate != nil {
		membershipDate = model.DateOnly(*in.MembershipDate)
	}

	member := &model.Member{
		ID:             s.newID(),
		Name:           name,
		Email:          email,
		MembershipDate: membershipDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.members.Create(ctx, member)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, model.NewEmailAlreadyExistsError(email)
	}
	if err != nil {
		return nil, fmt.Errorf("会員の作成に失敗しました: %w", err)
	}

	s.logger.Info("member created", slog.String("member_id", member.ID))
	return member, nil
}

// UpdateMember は会員情報を更新する。
func (s *Service) UpdateMember(ctx context.Context, id string, in MemberInput) (*model.Member, error) {
	member, err := s.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if member.Name, err = requireText("name", *in.Name); err != nil {
			return nil, err
		}
	}
	if in.Email != nil {
		if member.Email, err = requireText("email", *in.Email); err != nil {
			return nil, err
		}
	}
	if in.MembershipDate != nil {
		member.MembershipDate = model.DateOnly(*in.MembershipDate)
	}
	member.UpdatedAt = s.now()

	err = s.members.Update(ctx, member)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, model.NewMemberNotFoundError(id)
	case errors.Is(err, repository.ErrDuplicateEmail):
		return nil, model.NewEmailAlreadyExistsError(member.Email)
	case err != nil:
		return nil, fmt.Errorf("会員の更新に失敗しました: %w", err)
	}
	return member, nil
}

// DeleteMember は会員を削除する。返却済みの貸出履歴も削除される。
// 未返却の貸出がある会員はMEMBER_HAS_OPEN_LOANSとなり、書籍の貸出状態は変わらない。
func (s *Service) DeleteMember(ctx context.Context, id string) error {
	if !isValidID(id) {
		return model.NewMemberNotFoundError(id)
	}
	err := s.members.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewMemberNotFoundError(id)
	}
	if errors.Is(err, repository.ErrOpenLoans) {
		return model.NewMemberHasOpenLoansError(id)
	}
	if err != nil {
		return fmt.Errorf("会員の削除に失敗しました: %w", err)
	}

	s.logger.Info("member deleted", slog.String("member_id", id))
	return nil
}
