package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/HridoyExe/library-management/internal/middleware"
	"github.com/HridoyExe/library-management/internal/model"
)

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.ErrorContext(r.Context(), "internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
// 貸出・返却の失敗は種別にかかわらず400で返す。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeValidationFailed:
		return http.StatusBadRequest
	case model.ErrCodeAuthorNotFound, model.ErrCodeBookNotFound,
		model.ErrCodeMemberNotFound, model.ErrCodeBorrowRecordNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailAlreadyExists:
		return http.StatusConflict
	case model.ErrCodeBookNotAvailable, model.ErrCodeAlreadyBorrowed,
		model.ErrCodeAlreadyReturned, model.ErrCodeBookAlreadyAvailable,
		model.ErrCodeBorrowRecordOpen, model.ErrCodeMemberHasOpenLoans,
		model.ErrCodeBookOnLoan, model.ErrCodeAuthorBooksOnLoan:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
