package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/HridoyExe/library-management/internal/catalog"
	"github.com/HridoyExe/library-management/internal/model"
)

// AuthorServiceInterface は著者ハンドラーが必要とするサービスインターフェース。
type AuthorServiceInterface interface {
	GetAuthor(ctx context.Context, id string) (*model.Author, error)
	ListAuthors(ctx context.Context, params model.ListParams) ([]*model.Author, int, error)
	CreateAuthor(ctx context.Context, in catalog.AuthorInput) (*model.Author, error)
	UpdateAuthor(ctx context.Context, id string, in catalog.AuthorInput) (*model.Author, error)
	DeleteAuthor(ctx context.Context, id string) error
}

// AuthorHandler は著者管理のHTTPハンドラー。
type AuthorHandler struct {
	service AuthorServiceInterface
	pages   PaginationConfig
}

// NewAuthorHandler はAuthorHandlerを生成する。
func NewAuthorHandler(service AuthorServiceInterface, pages PaginationConfig) *AuthorHandler {
	return &AuthorHandler{service: service, pages: pages}
}

// List は著者一覧を返す。
// GET /api/authors?search=&page=&page_size=
func (h *AuthorHandler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := h.pages.parsePage(r)
	if !ok {
		writeInvalidQuery(w, "page")
		return
	}

	authors, total, err := h.service.ListAuthors(r.Context(), page.listParams(searchTerm(r)))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newPageResponse(page, total, mapSlice(authors, toAuthorResponse)))
}

// Create は著者を作成する。
// POST /api/authors
func (h *AuthorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req authorCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	author, err := h.service.CreateAuthor(r.Context(), catalog.AuthorInput{
		Name:      req.Name,
		Biography: req.Biography,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAuthorResponse(author))
}

// Get は著者詳細を返す。
// GET /api/authors/{id}
func (h *AuthorHandler) Get(w http.ResponseWriter, r *http.Request) {
	author, err := h.service.GetAuthor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthorResponse(author))
}

// Replace は著者を置き換える。省略された略歴は空になる。
// PUT /api/authors/{id}
func (h *AuthorHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var req authorCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	biography := ""
	if req.Biography != nil {
		biography = *req.Biography
	}
	h.update(w, r, catalog.AuthorInput{Name: req.Name, Biography: &biography})
}

// Patch は指定されたフィールドのみ更新する。
// PATCH /api/authors/{id}
func (h *AuthorHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var req authorPatchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	h.update(w, r, catalog.AuthorInput{Name: req.Name, Biography: req.Biography})
}

func (h *AuthorHandler) update(w http.ResponseWriter, r *http.Request, in catalog.AuthorInput) {
	author, err := h.service.UpdateAuthor(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthorResponse(author))
}

// Delete は著者を削除する。著者の書籍も削除される。
// DELETE /api/authors/{id}
func (h *AuthorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAuthor(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
