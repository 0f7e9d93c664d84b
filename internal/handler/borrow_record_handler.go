package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/HridoyExe/library-management/internal/model"
)

// LendingServiceInterface は貸出履歴ハンドラーが必要とするサービスインターフェース。
type LendingServiceInterface interface {
	// Borrow は書籍を会員に貸し出し、作成された貸出履歴を返す。
	Borrow(ctx context.Context, bookID, memberID string) (*model.BorrowRecord, error)
	// Return は貸出履歴を返却済みにし、更新後の貸出履歴を返す。
	Return(ctx context.Context, recordID string) (*model.BorrowRecord, error)
	GetRecord(ctx context.Context, recordID string) (*model.BorrowRecord, error)
	ListRecords(ctx context.Context, params model.BorrowRecordListParams) ([]*model.BorrowRecord, int, error)
	DeleteRecord(ctx context.Context, recordID string) error
}

// BorrowRecordHandler は貸出履歴と貸出・返却のHTTPハンドラー。
type BorrowRecordHandler struct {
	service LendingServiceInterface
	pages   PaginationConfig
}

// NewBorrowRecordHandler はBorrowRecordHandlerを生成する。
func NewBorrowRecordHandler(service LendingServiceInterface, pages PaginationConfig) *BorrowRecordHandler {
	return &BorrowRecordHandler{service: service, pages: pages}
}

// List は貸出履歴一覧を返す。
// GET /api/borrow-records?search=&open=&page=&page_size=
func (h *BorrowRecordHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.BorrowRecordListParams{})
}

// ListForBook は書籍ごとの貸出履歴一覧を返す。
// GET /api/books/{id}/borrow-records
func (h *BorrowRecordHandler) ListForBook(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.BorrowRecordListParams{BookID: chi.URLParam(r, "id")})
}

// ListForMember は会員ごとの貸出履歴一覧を返す。
// GET /api/members/{id}/borrow-records
func (h *BorrowRecordHandler) ListForMember(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.BorrowRecordListParams{MemberID: chi.URLParam(r, "id")})
}

func (h *BorrowRecordHandler) list(w http.ResponseWriter, r *http.Request, params model.BorrowRecordListParams) {
	page, ok := h.pages.parsePage(r)
	if !ok {
		writeInvalidQuery(w, "page")
		return
	}
	open, ok := parseBoolParam(r, "open")
	if !ok {
		writeInvalidQuery(w, "open")
		return
	}

	params.ListParams = page.listParams(searchTerm(r))
	params.Open = open

	records, total, err := h.service.ListRecords(r.Context(), params)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newPageResponse(page, total, mapSlice(records, toBorrowRecordResponse)))
}

// Get は貸出履歴の詳細を返す。
// GET /api/borrow-records/{id}
func (h *BorrowRecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBorrowRecordResponse(rec))
}

// Delete は返却済みの貸出履歴を削除する。
// DELETE /api/borrow-records/{id}
func (h *BorrowRecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BorrowBook は書籍を貸し出す。
// POST /api/borrow-records/borrow_book
func (h *BorrowRecordHandler) BorrowBook(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rec, err := h.service.Borrow(r.Context(), req.BookID, req.MemberID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBorrowRecordResponse(rec))
}

// ReturnBook は貸出中の書籍を返却する。
// POST /api/borrow-records/{id}/return_book
func (h *BorrowRecordHandler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Return(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBorrowRecordResponse(rec))
}
