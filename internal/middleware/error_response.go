package middleware

import (
	"encoding/json"
	"net/http"
)

// ErrorResponseBody は運用エンドポイントのエラーレスポンスのフォーマット。
type ErrorResponseBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// WriteErrorResponse はJSON形式でHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Status:  "error",
		Message: message,
	})
}

// WriteInternalServerError は内部サーバーエラーのレスポンスを書き込む。
// 詳細はログのみに記録する。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, "internal server error")
}
