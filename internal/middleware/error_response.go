package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/opsdeck/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// requestIdを含め、ログとの突合を可能にする。
type ErrorResponseBody struct {
	Success   bool               `json:"success"`
	Message   string             `json:"message"`
	Errors    []model.FieldError `json:"errors,omitempty"`
	RequestID string             `json:"requestId,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Success:   false,
		Message:   apiErr.Message,
		Errors:    apiErr.Errors,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, http.StatusInternalServerError, &model.APIError{
		Code:    model.ErrCodeInternal,
		Message: "Internal server error",
	})
}
