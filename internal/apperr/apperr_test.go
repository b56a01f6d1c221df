package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"validation", Validation("content is required"), "validation_error", http.StatusBadRequest},
		{"not found", NotFound("message %d not found", 7), "not_found", http.StatusNotFound},
		{"forbidden", Forbidden("nope"), "forbidden", http.StatusForbidden},
		{"conflict", Conflict("already liked"), "conflict", http.StatusConflict},
		{"rate limited", RateLimited("slow down"), "rate_limited", http.StatusTooManyRequests},
		{"wrapped", fmt.Errorf("send: %w", NotFound("user")), "not_found", http.StatusNotFound},
		{"internal", errors.New("connection reset"), "internal_error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, Code(tt.err))
			assert.Equal(t, tt.status, Status(tt.err))
		})
	}
}

func TestMessageMasksInternalErrors(t *testing.T) {
	assert.Equal(t, "internal server error", Message(errors.New("pq: relation does not exist")))
	assert.Equal(t, "message 7 not found", Message(NotFound("message %d not found", 7)))
}
