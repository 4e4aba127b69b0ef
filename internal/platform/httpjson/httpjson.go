// Package httpjson carries the JSON request/response conventions shared by
// every handler: decode with unknown-field rejection, respond with a status,
// and translate coded domain errors into the error contract body.
package httpjson

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "locations-inside-prison/pkg/domain-errors"
)

// ErrorResponse is the error contract body. ErrorCode carries the stable
// numeric domain code, which is finer grained than the HTTP status.
type ErrorResponse struct {
	Status      int    `json:"status"`
	ErrorCode   int    `json:"errorCode"`
	UserMessage string `json:"userMessage"`
}

// Respond writes v as JSON with the given status.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes the coded error contract body for err.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := dErrors.CodeOf(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError && logger != nil {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	message := err.Error()
	var de *dErrors.Error
	if errors.As(err, &de) {
		message = de.Message
	}
	Respond(w, status, ErrorResponse{Status: status, ErrorCode: int(code), UserMessage: message})
}

// Decode parses the request body into v, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed request body")
	}
	return nil
}
