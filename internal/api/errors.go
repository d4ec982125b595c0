package api

import (
	"encoding/json"
	"net/http"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeInternal   = "internal_error"
	ErrCodeDisabled   = "disabled"
)

var codeForStatus = map[int]string{
	http.StatusBadRequest:          ErrCodeBadRequest,
	http.StatusNotFound:            ErrCodeNotFound,
	http.StatusInternalServerError: ErrCodeInternal,
}

// writeJSON encodes v before touching the response so an encoding
// failure can still become a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(Error{Status: status, Code: ErrCodeInternal, Message: "encoding response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// writeError answers with status and the code that goes with it.
func writeError(w http.ResponseWriter, status int, message string) {
	code, ok := codeForStatus[status]
	if !ok {
		code = ErrCodeInternal
	}
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeDisabled answers for an endpoint whose backing component is off.
func writeDisabled(w http.ResponseWriter, component string) {
	writeJSON(w, http.StatusNotFound, Error{
		Status:  http.StatusNotFound,
		Code:    ErrCodeDisabled,
		Message: component + " is not enabled",
	})
}
