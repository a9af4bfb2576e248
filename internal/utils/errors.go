package utils

import (
	"encoding/json"
	"net/http"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}

// RespondAppError sends an error response whose status is derived from the
// apperr taxonomy.
func RespondAppError(w http.ResponseWriter, err error) {
	RespondError(w, apperr.HTTPStatus(err), err.Error())
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}
