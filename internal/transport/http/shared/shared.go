// Package shared holds the JSON response helpers used by all HTTP handlers.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "eudi-verifier/pkg/domain-errors"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded error onto the JSON error envelope. Internal and
// unavailable errors omit the description so backend detail never reaches
// clients; an uncoded error is treated as internal.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.HasCode(err)
	resp := ErrorResponse{Error: string(code)}

	if code != dErrors.CodeInternal && code != dErrors.CodeUnavailable {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.Description = de.Message
		}
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), resp)
}
