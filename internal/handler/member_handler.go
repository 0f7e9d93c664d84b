package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/HridoyExe/library-management/internal/catalog"
	"github.com/HridoyExe/library-management/internal/model"
)

// MemberServiceInterface は会員ハンドラーが必要とするサービスインターフェース。
type MemberServiceInterface interface {
	GetMember(ctx context.Context, id string) (*model.Member, error)
	ListMembers(ctx context.Context, params model.ListParams) ([]*model.Member, int, error)
	CreateMember(ctx context.Context, in catalog.MemberInput) (*model.Member, error)
	UpdateMember(ctx context.Context, id string, in catalog.MemberInput) (*model.Member, error)
	DeleteMember(ctx context.Context, id string) error
}

// MemberHandler は会員管理のHTTPハンドラー。
type MemberHandler struct {
	service MemberServiceInterface
	pages   PaginationConfig
}

// NewMemberHandler はMemberHandlerを生成する。
func NewMemberHandler(service MemberServiceInterface, pages PaginationConfig) *MemberHandler {
	return &MemberHandler{service: service, pages: pages}
}

// List は会員一覧を返す。
// GET /api/members?search=&page=&page_size=
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := h.pages.parsePage(r)
	if !ok {
		writeInvalidQuery(w, "page")
		return
	}

	members, total, err := h.service.ListMembers(r.Context(), page.listParams(searchTerm(r)))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newPageResponse(page, total, mapSlice(members, toMemberResponse)))
}

// Create は会員を作成する。membership_date省略時は当日になる。
// POST /api/members
func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req memberCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	in, ok := memberInput(w, req.Name, req.Email, req.MembershipDate)
	if !ok {
		return
	}

	member, err := h.service.CreateMember(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMemberResponse(member))
}

// Get は会員詳細を返す。
// GET /api/members/{id}
func (h *MemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	member, err := h.service.GetMember(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toMemberResponse(member))
}

// Replace は会員情報を置き換える。
// PUT /api/members/{id}
func (h *MemberHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var req memberCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	in, ok := memberInput(w, req.Name, req.Email, req.MembershipDate)
	if !ok {
		return
	}
	h.update(w, r, in)
}

// Patch は指定されたフィールドのみ更新する。
// PATCH /api/members/{id}
func (h *MemberHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var req memberPatchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	in, ok := memberInput(w, req.Name, req.Email, req.MembershipDate)
	if !ok {
		return
	}
	h.update(w, r, in)
}

func (h *MemberHandler) update(w http.ResponseWriter, r *http.Request, in catalog.MemberInput) {
	member, err := h.service.UpdateMember(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toMemberResponse(member))
}

// Delete は会員を削除する。会員の貸出履歴も削除される。
// DELETE /api/members/{id}
func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteMember(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// memberInput はリクエストの値をサービスの入力に変換する。
func memberInput(w http.ResponseWriter, name, email, membershipDate *string) (catalog.MemberInput, bool) {
	date, err := parseDate(membershipDate)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("membership_date: date has wrong format, use YYYY-MM-DD"))
		return catalog.MemberInput{}, false
	}
	return catalog.MemberInput{Name: name, Email: email, MembershipDate: date}, true
}
