package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tmstack/trustplane/internal/http/errors"
)

// WriteJSON: standard JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes JSON leniently (unknown fields are fine), validating the
// Content-Type and capping the body at 1MB. An empty body decodes to the
// zero value so endpoints can default every field.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		errors.WriteError(w, errors.ErrInvalidJSON.WithDetail("Content-Type must be application/json"))
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		errors.WriteError(w, errors.ErrInvalidJSON)
		return false
	}
	return true
}
