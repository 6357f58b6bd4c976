// Package respond writes the API's JSON bodies. Every body is a run result
// or a health check, so nothing is cacheable.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorBody is one API error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ErrorResponse is the envelope every error is sent in.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteError sends an error without detail.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	write(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// WriteErrorDetail sends an error with the underlying cause in detail.
func WriteErrorDetail(w http.ResponseWriter, status int, code, message, detail string) {
	write(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message, Detail: detail}})
}

// WriteJSONObject sends v as the body.
func WriteJSONObject(w http.ResponseWriter, status int, v any) {
	write(w, status, v)
}

func write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Writing response failed", "status", status, "error", err)
	}
}
