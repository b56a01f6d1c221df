package notification

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"go-social/internal/apperr"
	"go-social/internal/middleware"
	"go-social/internal/response"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	page, limit := response.Pagination(r, 20, 100)

	items, err := h.Service.List(r.Context(), userID, page, limit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"page":          page,
		"limit":         limit,
	})
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	n, err := h.Service.UnreadCount(r.Context(), userID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, UnreadCount{Count: n})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, r, apperr.Validation("invalid notification id"))
		return
	}
	if err := h.Service.MarkRead(r.Context(), userID, id); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	n, err := h.Service.MarkAllRead(r.Context(), userID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, r, apperr.Validation("invalid notification id"))
		return
	}
	if err := h.Service.Delete(r.Context(), userID, id); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *Handler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	n, err := h.Service.DeleteAll(r.Context(), userID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
