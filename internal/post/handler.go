package post

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

func pathID(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	var req CreateRequest
	if err := response.Decode(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	p, err := h.Service.Create(r.Context(), userID, &req)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, p)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	p, err := h.Service.Get(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	var req UpdateRequest
	if err := response.Decode(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	p, err := h.Service.Update(r.Context(), userID, id, &req)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.Service.Delete(r.Context(), userID, id); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *Handler) UserPosts(w http.ResponseWriter, r *http.Request) {
	authorID, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	page, limit := response.Pagination(r, 20, 100)
	posts, err := h.Service.UserPosts(r.Context(), authorID, page, limit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, posts)
}

func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	page, limit := response.Pagination(r, 20, 100)
	posts, err := h.Service.Feed(r.Context(), userID, page, limit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, posts)
}

func (h *Handler) Like(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	res, err := h.Service.Like(r.Context(), userID, id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, res)
}

func (h *Handler) Unlike(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	res, err := h.Service.Unlike(r.Context(), userID, id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	var req CommentRequest
	if err := response.Decode(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	c, err := h.Service.AddComment(r.Context(), userID, id, &req)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, c)
}

func (h *Handler) Comments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	page, limit := response.Pagination(r, 50, 200)
	comments, err := h.Service.Comments(r.Context(), id, page, limit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, comments)
}

func (h *Handler) React(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	var req ReactionRequest
	if err := response.Decode(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	re, err := h.Service.React(r.Context(), userID, id, req.Type)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, re)
}

func (h *Handler) Unreact(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.Service.Unreact(r.Context(), userID, id); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *Handler) Reactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	counts, err := h.Service.Reactions(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, counts)
}
