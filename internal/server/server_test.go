package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/nearby/internal/auth"
	"github.com/sakif/nearby/internal/backend"
	"github.com/sakif/nearby/internal/config"
	"github.com/sakif/nearby/internal/middleware"
	"github.com/sakif/nearby/internal/repository/memory"
)

func newTestServer(t *testing.T, degraded bool) http.Handler {
	t.Helper()
	tokens, err := auth.NewTokenService("test-secret-at-least-16-bytes")
	require.NoError(t, err)

	cfg := config.Default()
	sel := &backend.Selection{Repo: memory.New(), Requested: config.BackendMemory, Degraded: degraded}
	if degraded {
		sel.Requested = config.BackendRemote
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(*cfg, sel, auth.NewPasswordServiceForTest(bcrypt.MinCost), tokens, logger).Handler()
}

type request struct {
	method string
	path   string
	json   string
	form   url.Values
	token  string
}

func do(t *testing.T, h http.Handler, req request) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	switch {
	case req.json != "":
		r = httptest.NewRequest(req.method, req.path, strings.NewReader(req.json))
		r.Header.Set("Content-Type", "application/json")
	case req.form != nil:
		r = httptest.NewRequest(req.method, req.path, strings.NewReader(req.form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		r = httptest.NewRequest(req.method, req.path, nil)
	}
	if req.token != "" {
		r.AddCookie(&http.Cookie{Name: middleware.CookieName, Value: req.token})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func login(t *testing.T, h http.Handler, email, password string) string {
	t.Helper()
	rec := do(t, h, request{method: http.MethodPost, path: "/api/login",
		json: `{"email":"` + email + `","password":"` + password + `"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[struct {
		Token string `json:"token"`
	}](t, rec).Token
}

func TestEndToEnd(t *testing.T) {
	h := newTestServer(t, false)

	// JSON registration with numeric coordinates.
	rec := do(t, h, request{method: http.MethodPost, path: "/api/register",
		json: `{"name":"joe","email":"joe@x.com","password":"password123","kind":"person","latitude":40.7589,"longitude":-73.9851}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "passwordHash")
	assert.NotContains(t, rec.Body.String(), "$2a$")

	// Form registration.
	rec = do(t, h, request{method: http.MethodPost, path: "/api/register", form: url.Values{
		"name": {"ann"}, "email": {"ann@x.com"}, "password": {"password123"}, "kind": {"person"},
		"latitude": {"40.7505"}, "longitude": {"-73.9934"},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ann := decodeBody[struct {
		ID string `json:"id"`
	}](t, rec)

	// Login sets an HttpOnly cookie carrying the same token as the body.
	rec = do(t, h, request{method: http.MethodPost, path: "/api/login",
		form: url.Values{"email": {"JOE@x.com"}, "password": {"password123"}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	token := cookies[0].Value
	assert.Equal(t, token, decodeBody[struct {
		Token string `json:"token"`
	}](t, rec).Token)

	rec = do(t, h, request{method: http.MethodGet, path: "/api/me", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[struct {
		Account *struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"account"`
	}](t, rec)
	require.NotNil(t, me.Account)
	assert.Equal(t, "joe", me.Account.Name)
	assert.Equal(t, "joe@x.com", me.Account.Email)

	rec = do(t, h, request{method: http.MethodGet, path: "/api/nearby/people?radius=1.5", token: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	near := decodeBody[[]struct {
		Name       string  `json:"name"`
		Email      string  `json:"email"`
		DistanceKm float64 `json:"distanceKm"`
	}](t, rec)
	require.Len(t, near, 1)
	assert.Equal(t, "ann", near[0].Name)
	assert.Empty(t, near[0].Email, "other accounts' emails are not shown")
	assert.InDelta(t, 1.17, near[0].DistanceKm, 0.01)

	// radius=0 reads as no limit, as it does on /api/forum.
	rec = do(t, h, request{method: http.MethodGet, path: "/api/nearby/people?radius=0", token: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody[[]struct {
		Name string `json:"name"`
	}](t, rec), 1)

	rec = do(t, h, request{method: http.MethodPost, path: "/api/forum", token: token,
		json: `{"content":"Best lunch spots near Times Square?"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, request{method: http.MethodGet, path: "/api/forum?limit=5", token: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	feed := decodeBody[[]struct {
		Content string `json:"content"`
		Author  struct {
			Name string `json:"name"`
		} `json:"author"`
		DistanceKm *float64 `json:"distanceKm"`
	}](t, rec)
	require.Len(t, feed, 1)
	assert.Equal(t, "joe", feed[0].Author.Name)
	require.NotNil(t, feed[0].DistanceKm)
	assert.Zero(t, *feed[0].DistanceKm)

	rec = do(t, h, request{method: http.MethodPost, path: "/api/messages", token: token,
		json: `{"receiverId":"` + ann.ID + `","content":"lunch?"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	annToken := login(t, h, "ann@x.com", "password123")
	rec = do(t, h, request{method: http.MethodGet, path: "/api/messages/" + decodeBody[struct {
		SenderID string `json:"senderId"`
	}](t, rec).SenderID, token: annToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	conv := decodeBody[[]struct {
		Content string `json:"content"`
	}](t, rec)
	require.Len(t, conv, 1)
	assert.Equal(t, "lunch?", conv[0].Content)

	// Logout revokes the token immediately.
	rec = do(t, h, request{method: http.MethodPost, path: "/api/logout", token: token})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, request{method: http.MethodGet, path: "/api/me", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"account":null}`, rec.Body.String())

	rec = do(t, h, request{method: http.MethodGet, path: "/api/nearby/people", token: token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorResponses(t *testing.T) {
	h := newTestServer(t, false)
	rec := do(t, h, request{method: http.MethodPost, path: "/api/register",
		json: `{"name":"joe","email":"joe@x.com","password":"password123","kind":"person"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	token := login(t, h, "joe@x.com", "password123")

	tests := []struct {
		name   string
		req    request
		status int
		kind   string
		field  string
	}{
		{"duplicate email", request{method: http.MethodPost, path: "/api/register",
			json: `{"name":"joseph","email":"joe@x.com","password":"password123","kind":"person"}`},
			http.StatusConflict, "conflict", "email"},
		{"malformed json", request{method: http.MethodPost, path: "/api/register", json: `{"name":`},
			http.StatusBadRequest, "validation_error", "body"},
		{"wrong password", request{method: http.MethodPost, path: "/api/login",
			json: `{"email":"joe@x.com","password":"nope-nope"}`},
			http.StatusUnauthorized, "unauthorized", ""},
		{"unknown email", request{method: http.MethodPost, path: "/api/login",
			json: `{"email":"who@x.com","password":"password123"}`},
			http.StatusUnauthorized, "unauthorized", ""},
		{"anonymous forum", request{method: http.MethodGet, path: "/api/forum"},
			http.StatusUnauthorized, "unauthorized", ""},
		{"bad radius", request{method: http.MethodGet, path: "/api/nearby/businesses?radius=-2", token: token},
			http.StatusBadRequest, "validation_error", "radius"},
		{"bad limit", request{method: http.MethodGet, path: "/api/forum?limit=ten", token: token},
			http.StatusBadRequest, "validation_error", "limit"},
		{"empty post", request{method: http.MethodPost, path: "/api/forum", token: token, json: `{"content":"  "}`},
			http.StatusBadRequest, "validation_error", "content"},
		{"unknown receiver", request{method: http.MethodPost, path: "/api/messages", token: token,
			json: `{"receiverId":"nobody","content":"hi"}`},
			http.StatusNotFound, "not_found", ""},
		{"missing profile", request{method: http.MethodGet, path: "/api/profile/nobody"},
			http.StatusNotFound, "not_found", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.req)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			body := decodeBody[map[string]string](t, rec)
			assert.Equal(t, tt.kind, body["error"])
			assert.NotEmpty(t, body["message"])
			if tt.field != "" {
				assert.Equal(t, tt.field, body["field"])
			}
		})
	}
}

func TestWrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	h := newTestServer(t, false)
	do(t, h, request{method: http.MethodPost, path: "/api/register",
		json: `{"name":"joe","email":"joe@x.com","password":"password123","kind":"person"}`})

	wrong := do(t, h, request{method: http.MethodPost, path: "/api/login", json: `{"email":"joe@x.com","password":"password124"}`})
	unknown := do(t, h, request{method: http.MethodPost, path: "/api/login", json: `{"email":"ann@x.com","password":"password123"}`})

	assert.Equal(t, wrong.Code, unknown.Code)
	assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())
	assert.Empty(t, wrong.Result().Cookies())
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, false), request{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","backend":"memory","requested":"memory","degraded":false,"sessions":0}`, rec.Body.String())

	rec = do(t, newTestServer(t, true), request{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","backend":"memory","requested":"remote","degraded":true,"sessions":0}`, rec.Body.String())
}

func TestBusinessProfileFallbacks(t *testing.T) {
	h := newTestServer(t, false)
	rec := do(t, h, request{method: http.MethodPost, path: "/api/register",
		json: `{"name":"corner_shop","email":"shop@x.com","password":"business123","kind":"business"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[struct {
		ID string `json:"id"`
	}](t, rec).ID

	rec = do(t, h, request{method: http.MethodGet, path: "/api/profile/" + id})
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "corner_shop", profile["businessName"])
	assert.Equal(t, "Business", profile["businessCategory"])
	assert.NotContains(t, profile, "email")
}
