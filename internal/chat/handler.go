package chat

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-social/internal/apperr"
	"go-social/internal/config"
	"go-social/internal/middleware"
	"go-social/internal/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the web client's origin; tokens are checked by the
	// auth middleware before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub     *Hub
	service *Service
	gateway *Gateway
	cfg     config.RealtimeConfig
}

func NewHandler(hub *Hub, service *Service, cfg config.RealtimeConfig) *Handler {
	return &Handler{
		hub:     hub,
		service: service,
		gateway: NewGateway(hub, service),
		cfg:     cfg,
	}
}

// ServeWs upgrades an authenticated request and registers the connection.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	username := middleware.Username(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, userID, username, h.cfg)
	h.hub.Register(client)

	// The request context ends when this handler returns.
	logger := zerolog.Ctx(r.Context()).With().Str("conn_id", client.ID).Logger()
	ctx := logger.WithContext(context.WithoutCancel(r.Context()))

	go client.writePump()
	go client.readPump(ctx, h.gateway)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	var req SendRequest
	if err := response.Decode(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	m, err := h.service.Send(r.Context(), userID, req)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, m)
}

func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	page, limit := response.Pagination(r, 20, 100)
	convs, err := h.service.Conversations(r.Context(), userID, page, limit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, convs)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	n, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, UnreadCount{Count: n})
}

func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	otherID, err := pathID(r, "userId")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	page, limit := response.Pagination(r, 50, 200)
	msgs, err := h.service.History(r.Context(), userID, otherID, page, limit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, msgs)
}

func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	senderID, err := pathID(r, "userId")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	n, err := h.service.MarkConversationRead(r.Context(), userID, senderID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, conversationReadEvent{ReadBy: userID, Count: n})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	id, err := pathID(r, "messageId")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	m, err := h.service.MarkRead(r.Context(), userID, id, 0)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, m)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	id, err := pathID(r, "messageId")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.NoContent(w)
}

func pathID(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}
