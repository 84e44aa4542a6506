// Package shared centralizes JSON response envelopes so every handler module
// translates domain errors the same way.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "coalesce/pkg/domain-errors"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError translates a domain error into the JSON error envelope. Internal
// messages are not leaked; only client-addressable codes carry their message.
func WriteError(w http.ResponseWriter, err error) {
	code := pkgerrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code)}
	if code == pkgerrors.CodeBadRequest {
		var de *pkgerrors.DomainError
		if errors.As(err, &de) {
			resp.Message = de.Message
		}
	}
	WriteJSON(w, pkgerrors.ToHTTPStatus(code), resp)
}
