package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/geo"
	"github.com/sakif/nearby/internal/middleware"
	"github.com/sakif/nearby/internal/service"
)

// FeedHandler serves the forum and private messages.
type FeedHandler struct {
	feed     *service.FeedService
	messages *service.MessageService
	logger   *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(feed *service.FeedService, messages *service.MessageService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{feed: feed, messages: messages, logger: logger}
}

// HandleListPosts returns the most recent forum posts, newest first.
//
// HTTP: GET /api/forum?limit=10&radius=5
//
// limit defaults to 10 and is capped by the repository; radius is in
// kilometres and omitted or 0 means no distance filter.
func (h *FeedHandler) HandleListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, h.logger, apperror.ValidationFailed("limit", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	radius, err := geo.ParseRadius(q.Get("radius"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	sess, _ := middleware.SessionFromContext(r.Context())
	entries, err := h.feed.Recent(r.Context(), sess, service.FeedQuery{Limit: limit, RadiusKm: radius})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// HandleCreatePost publishes a post tagged with the caller's location.
//
// HTTP: POST /api/forum
func (h *FeedHandler) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	get, err := formValues(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	sess, _ := middleware.SessionFromContext(r.Context())
	post, err := h.feed.Publish(r.Context(), sess, get("content"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, post)
}

// HandleSendMessage sends a private message from the caller.
//
// HTTP: POST /api/messages
func (h *FeedHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	get, err := formValues(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	sess, _ := middleware.SessionFromContext(r.Context())
	msg, err := h.messages.Send(r.Context(), sess, get("receiverId"), get("content"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// HandleConversation returns the messages between the caller and another
// account in both directions, oldest first.
//
// HTTP: GET /api/messages/{otherID}
func (h *FeedHandler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	msgs, err := h.messages.Conversation(r.Context(), sess, chi.URLParam(r, "otherID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}
