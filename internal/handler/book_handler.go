package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/HridoyExe/library-management/internal/catalog"
	"github.com/HridoyExe/library-management/internal/model"
)

// BookServiceInterface は書籍ハンドラーが必要とするサービスインターフェース。
type BookServiceInterface interface {
	GetBook(ctx context.Context, id string) (*model.Book, error)
	ListBooks(ctx context.Context, params model.BookListParams) ([]*model.Book, int, error)
	CreateBook(ctx context.Context, in catalog.BookInput) (*model.Book, error)
	UpdateBook(ctx context.Context, id string, in catalog.BookInput) (*model.Book, error)
	DeleteBook(ctx context.Context, id string) error
}

// BookHandler は書籍管理のHTTPハンドラー。
type BookHandler struct {
	service BookServiceInterface
	pages   PaginationConfig
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(service BookServiceInterface, pages PaginationConfig) *BookHandler {
	return &BookHandler{service: service, pages: pages}
}

// List は書籍一覧を返す。
// GET /api/books?search=&available=&category=&author_id=&page=&page_size=
func (h *BookHandler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := h.pages.parsePage(r)
	if !ok {
		writeInvalidQuery(w, "page")
		return
	}
	available, ok := parseBoolParam(r, "available")
	if !ok {
		writeInvalidQuery(w, "available")
		return
	}

	q := r.URL.Query()
	books, total, err := h.service.ListBooks(r.Context(), model.BookListParams{
		ListParams: page.listParams(searchTerm(r)),
		Available:  available,
		Category:   strings.TrimSpace(q.Get("category")),
		AuthorID:   strings.TrimSpace(q.Get("author_id")),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newPageResponse(page, total, mapSlice(books, toBookResponse)))
}

// Create は書籍を作成する。新しい書籍は貸出可能な状態で登録される。
// POST /api/books
func (h *BookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req bookCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	book, err := h.service.CreateBook(r.Context(), catalog.BookInput{
		Title:    req.Title,
		ISBN:     req.ISBN,
		Category: req.Category,
		AuthorID: req.AuthorID,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookResponse(book))
}

// Get は書籍詳細を返す。
// GET /api/books/{id}
func (h *BookHandler) Get(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// Replace は書籍の書誌情報を置き換える。availability_statusは変更しない。
// PUT /api/books/{id}
func (h *BookHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var req bookCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	category := ""
	if req.Category != nil {
		category = *req.Category
	}
	h.update(w, r, catalog.BookInput{
		Title:    req.Title,
		ISBN:     req.ISBN,
		Category: &category,
		AuthorID: req.AuthorID,
	})
}

// Patch は指定されたフィールドのみ更新する。
// PATCH /api/books/{id}
func (h *BookHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var req bookPatchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	h.update(w, r, catalog.BookInput{
		Title:    req.Title,
		ISBN:     req.ISBN,
		Category: req.Category,
		AuthorID: req.AuthorID,
	})
}

func (h *BookHandler) update(w http.ResponseWriter, r *http.Request, in catalog.BookInput) {
	book, err := h.service.UpdateBook(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// Delete は書籍を削除する。書籍の貸出履歴も削除される。
// DELETE /api/books/{id}
func (h *BookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBook(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
