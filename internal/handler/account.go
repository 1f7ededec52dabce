package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/nearby/internal/apperror"
	"github.com/sakif/nearby/internal/geo"
	"github.com/sakif/nearby/internal/middleware"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/service"
	"github.com/sakif/nearby/internal/session"
)

// AccountHandler serves registration, login and account lookups.
type AccountHandler struct {
	accounts     *service.AccountService
	sessions     *session.Resolver
	logger       *slog.Logger
	secureCookie bool
}

// NewAccountHandler creates an AccountHandler. secureCookie marks the session
// cookie Secure; it should be set whenever the API is served over TLS.
func NewAccountHandler(accounts *service.AccountService, sessions *session.Resolver, logger *slog.Logger, secureCookie bool) *AccountHandler {
	return &AccountHandler{
		accounts:     accounts,
		sessions:     sessions,
		logger:       logger,
		secureCookie: secureCookie,
	}
}

// HandleRegister creates an account. It does not log the caller in.
//
// HTTP: POST /api/register
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	get, err := formValues(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	account, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Name:             get("name"),
		Email:            get("email"),
		Password:         get("password"),
		Kind:             get("kind"),
		Latitude:         get("latitude"),
		Longitude:        get("longitude"),
		Bio:              get("bio"),
		BusinessName:     get("businessName"),
		BusinessCategory: get("businessCategory"),
		ProfilePhoto:     get("profilePhoto"),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAccountView(account, true))
}

// HandleLogin checks credentials and sets the session cookie. The token is
// also returned in the body for clients that cannot hold cookies.
//
// HTTP: POST /api/login
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	get, err := formValues(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	sess, err := h.sessions.Login(r.Context(), get("email"), get("password"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	account, err := h.sessions.Current(r.Context(), sess.Token)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if account == nil {
		// Deleted between Login and now.
		writeError(w, h.logger, apperror.Unauthorized("invalid email or password"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		Account:   newAccountView(account, true),
	})
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	Account   AccountView `json:"account"`
}

// HandleLogout ends the caller's session, if any, and clears the cookie.
// It always succeeds.
//
// HTTP: POST /api/logout
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFromContext(r.Context()); token != "" {
		h.sessions.Logout(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the caller's account, or {"account": null} when anonymous.
//
// HTTP: GET /api/me
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	account, err := h.sessions.Current(r.Context(), middleware.TokenFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := meResponse{}
	if account != nil {
		view := newAccountView(account, true)
		resp.Account = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

type meResponse struct {
	Account *AccountView `json:"account"`
}

// HandleProfile returns another account's public profile.
//
// HTTP: GET /api/profile/{id}
func (h *AccountHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	self := false
	if sess, ok := middleware.SessionFromContext(r.Context()); ok {
		self = sess.AccountID == account.ID
	}
	writeJSON(w, http.StatusOK, newAccountView(account, self))
}

// HandleNearbyPeople lists people around the caller, closest first.
//
// HTTP: GET /api/nearby/people?radius=2.5
func (h *AccountHandler) HandleNearbyPeople(w http.ResponseWriter, r *http.Request) {
	h.nearby(w, r, h.accounts.NearbyPeople)
}

// HandleNearbyBusinesses lists businesses around the caller, closest first.
//
// HTTP: GET /api/nearby/businesses?radius=2.5
func (h *AccountHandler) HandleNearbyBusinesses(w http.ResponseWriter, r *http.Request) {
	h.nearby(w, r, h.accounts.NearbyBusinesses)
}

type nearbyFunc func(ctx context.Context, sess *session.Session, radiusKm float64) ([]geo.Result[model.Account], error)

func (h *AccountHandler) nearby(w http.ResponseWriter, r *http.Request, find nearbyFunc) {
	radius, err := geo.ParseRadius(r.URL.Query().Get("radius"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	sess, _ := middleware.SessionFromContext(r.Context())
	results, err := find(r.Context(), sess, radius)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newNearbyViews(results))
}
