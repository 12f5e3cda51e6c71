// Package respond holds the JSON helpers shared by the API handlers.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kilianp07/emsdispatch/core/dispatch"
)

type errorBody struct {
	Error string `json:"error"`
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error maps err onto an HTTP status and writes it as {"error": "..."}.
func Error(w http.ResponseWriter, err error) {
	JSON(w, StatusFor(err), errorBody{Error: err.Error()})
}

// BadRequest writes a 400 with msg.
func BadRequest(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// StatusFor returns the HTTP status matching a dispatch error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrNoCandidate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dispatch.ErrInvalidStatus), errors.Is(err, dispatch.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into v. Unknown fields are rejected.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// RequireToken wraps h so that requests must carry "Authorization: Bearer
// <token>". An empty token disables the check.
func RequireToken(token string, h http.Handler) http.Handler {
	if token == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			JSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		h.ServeHTTP(w, r)
	})
}
