package user

import (
	"context"
	"errors"
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

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := response.Decode(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := response.Decode(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if errors.Is(err, ErrInvalidCredentials) {
		response.Error(w, r, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, users)
}

func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string][]int{"user_ids": h.Service.OnlineUsers()})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	h.writeProfile(w, r, userID)
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	h.writeProfile(w, r, id)
}

func (h *Handler) writeProfile(w http.ResponseWriter, r *http.Request, id int) {
	p, err := h.Service.GetProfile(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	var req UpdateProfileRequest
	if err := response.Decode(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	p, err := h.Service.UpdateProfile(r.Context(), userID, &req)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

func (h *Handler) Follow(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	target, err := pathID(r, "userId")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.Service.Follow(r.Context(), userID, target); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, map[string]int{"following_id": target})
}

func (h *Handler) Unfollow(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	target, err := pathID(r, "userId")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.Service.Unfollow(r.Context(), userID, target); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *Handler) Followers(w http.ResponseWriter, r *http.Request) {
	h.listFollows(w, r, h.Service.Followers)
}

func (h *Handler) Following(w http.ResponseWriter, r *http.Request) {
	h.listFollows(w, r, h.Service.Following)
}

func (h *Handler) listFollows(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, id, page, limit int) ([]Summary, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	page, limit := response.Pagination(r, 20, 100)
	users, err := list(r.Context(), id, page, limit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, users)
}

func pathID(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}
