package remote

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/repository"
)

// maxBodyBytes bounds request bodies accepted by the store.
const maxBodyBytes = 1 << 20

// Server exposes a repository.Repository as a JSON document store.
type Server struct {
	repo   repository.Repository
	logger *slog.Logger
	apiKey string
	router chi.Router
}

// NewServer builds the store's HTTP handler. When apiKey is non-empty every
// route except /healthz requires "Authorization: Bearer <apiKey>".
func NewServer(repo repository.Repository, apiKey string, logger *slog.Logger) *Server {
	s := &Server{
		repo:   repo,
		logger: logger,
		apiKey: apiKey,
		router: chi.NewRouter(),
	}

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get(pathHealth, s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Post(pathAccounts, s.handleCreateAccount)
		r.Get(pathAccounts, s.handleListAccounts)
		r.Get(pathAccountLookup, s.handleLookupAccount)
		r.Get(pathAccounts+"/{id}", s.handleGetAccount)

		r.Post(pathPosts, s.handleCreatePost)
		r.Get(pathPosts, s.handleListPosts)

		r.Post(pathMessages, s.handleCreateMessage)
		r.Get(pathMessages, s.handleListConversation)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.apiKey)) != 1 {
			s.writeError(w, apperror.Unauthorized("missing or invalid API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{Status: "ok", Backend: s.repo.Backend()})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var a model.Account
	if !s.decode(w, r, &a) {
		return
	}
	if err := s.repo.CreateAccount(r.Context(), &a); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.repo.GetAccountByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleLookupAccount finds by exactly one of ?email= or ?name=. Absence is a
// 404 so that the client can tell it apart from a failed request.
func (s *Server) handleLookupAccount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		a   *model.Account
		err error
	)
	switch {
	case q.Has("email"):
		a, err = s.repo.FindAccountByEmail(r.Context(), q.Get("email"))
	case q.Has("name"):
		a, err = s.repo.FindAccountByName(r.Context(), q.Get("name"))
	default:
		s.writeError(w, apperror.ValidationFailed("email", "email or name query parameter is required"))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if a == nil {
		s.writeError(w, &apperror.AppError{Err: apperror.ErrNotFound, Message: "no matching account"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accounts, err := s.repo.ListAccounts(r.Context(), repository.AccountFilter{
		Kind:      model.Kind(q.Get("kind")),
		ExcludeID: q.Get("exclude"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var p model.Post
	if !s.decode(w, r, &p) {
		return
	}
	if err := s.repo.CreatePost(r.Context(), &p); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, apperror.ValidationFailed("limit", "limit must be an integer"))
			return
		}
		limit = n
	}
	posts, err := s.repo.ListRecentPosts(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var m model.Message
	if !s.decode(w, r, &m) {
		return
	}
	if err := s.repo.CreateMessage(r.Context(), &m); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListConversation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conv, err := s.repo.ListConversation(r.Context(), q.Get("a"), q.Get("b"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, apperror.ValidationFailed("body", "request body must be a JSON object"))
		return false
	}
	return true
}

// writeError maps an error to a status code and the shared error body.
// Unknown errors are logged and reported as a 500 without detail.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := apperror.Kind(err)

	status := http.StatusInternalServerError
	switch kind {
	case "validation_error":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "conflict":
		status = http.StatusConflict
	case "unauthorized":
		status = http.StatusUnauthorized
	case "forbidden":
		status = http.StatusForbidden
	case "backend_unavailable":
		status = http.StatusServiceUnavailable
	}

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		s.logger.Error("document store: internal error", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody{Error: kind, Message: "An internal error occurred"})
		return
	}
	writeJSON(w, status, errorBody{Error: kind, Message: appErr.Message, Field: appErr.Field})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}
