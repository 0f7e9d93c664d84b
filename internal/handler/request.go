package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/HridoyExe/library-management/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

// dateLayout はAPIで扱う日付の形式。
const dateLayout = "2006-01-02"

// validate はリクエストDTOの検証に使う共有バリデーター。
// エラーメッセージにはJSONのフィールド名を使う。
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate はJSONボディをdstにデコードし、validateタグで検証する。
// 失敗した場合はエラーレスポンスを書き込みfalseを返す。
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}

	if err := validate.Struct(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(validationMessage(err)))
		return false
	}
	return true
}

// validationMessage は検証エラーを "field: rule" 形式の1行にまとめる。
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s: this field is required", fe.Field()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s: ensure this field has no more than %s characters", fe.Field(), fe.Param()))
		case "email":
			parts = append(parts, fmt.Sprintf("%s: enter a valid email address", fe.Field()))
		case "uuid":
			parts = append(parts, fmt.Sprintf("%s: must be a valid UUID", fe.Field()))
		case "datetime":
			parts = append(parts, fmt.Sprintf("%s: date has wrong format, use YYYY-MM-DD", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s: failed on %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// parseDate はYYYY-MM-DD形式の日付を解析する。nilの場合はnilを返す。
func parseDate(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- 著者 ---

// authorCreateRequest は著者の作成・置換（POST/PUT）リクエストのボディ。
type authorCreateRequest struct {
	Name      *string `json:"name" validate:"required,max=255"`
	Biography *string `json:"biography"`
}

// authorPatchRequest は著者の部分更新（PATCH）リクエストのボディ。
type authorPatchRequest struct {
	Name      *string `json:"name" validate:"omitempty,max=255"`
	Biography *string `json:"biography"`
}

// --- 書籍 ---

// bookCreateRequest は書籍の作成・置換リクエストのボディ。
// availability_statusは受け付けない（貸出・返却でのみ変更される）。
type bookCreateRequest struct {
	Title    *string `json:"title" validate:"required,max=255"`
	ISBN     *string `json:"isbn" validate:"required,max=13"`
	Category *string `json:"category" validate:"omitempty,max=100"`
	AuthorID *string `json:"author_id" validate:"required"`
}

// bookPatchRequest は書籍の部分更新リクエストのボディ。
type bookPatchRequest struct {
	Title    *string `json:"title" validate:"omitempty,max=255"`
	ISBN     *string `json:"isbn" validate:"omitempty,max=13"`
	Category *string `json:"category" validate:"omitempty,max=100"`
	AuthorID *string `json:"author_id"`
}

// --- 会員 ---

// memberCreateRequest は会員の作成・置換リクエストのボディ。
type memberCreateRequest struct {
	Name           *string `json:"name" validate:"required,max=255"`
	Email          *string `json:"email" validate:"required,email,max=254"`
	MembershipDate *string `json:"membership_date" validate:"omitempty,datetime=2006-01-02"`
}

// memberPatchRequest は会員の部分更新リクエストのボディ。
type memberPatchRequest struct {
	Name           *string `json:"name" validate:"omitempty,max=255"`
	Email          *string `json:"email" validate:"omitempty,email,max=254"`
	MembershipDate *string `json:"membership_date" validate:"omitempty,datetime=2006-01-02"`
}

// --- 貸出 ---

// borrowRequest は貸出リクエストのボディ。
type borrowRequest struct {
	BookID   string `json:"book_id" validate:"required"`
	MemberID string `json:"member_id" validate:"required"`
}
