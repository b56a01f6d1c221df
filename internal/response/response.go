// Package response writes the JSON envelopes shared by every HTTP handler.
package response

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"go-social/internal/apperr"
)

// ErrorBody is the error envelope. RequestID echoes X-Request-ID.
type ErrorBody struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().
			Int("status", status).
			Str("code", code).
			Str("path", r.URL.Path).
			Msg("api error")
	}
	JSON(w, status, ErrorBody{
		RequestID: w.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// FromError maps err onto the apperr taxonomy. Internal errors are logged
// with their cause and masked in the body.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	JSON(w, status, ErrorBody{
		RequestID: w.Header().Get("X-Request-ID"),
		Code:      apperr.Code(err),
		Message:   apperr.Message(err),
	})
}

// Decode reads a JSON body into v. Malformed bodies are validation errors.
func Decode(r *http.Request, v any) error {
	if r.Body == nil {
		return apperr.Validation("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// MaxPage bounds ?page= so offsets stay small and page cache keys finite.
const MaxPage = 10000

// Pagination reads ?page= and ?limit=, falling back to page 1 and def.
// page is capped at MaxPage and limit at max.
func Pagination(r *http.Request, def, max int) (page, limit int) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	limit, err = strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return page, limit
}
