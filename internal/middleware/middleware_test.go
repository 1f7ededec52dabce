package middleware

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/nearby/internal/session"
)

type fakeResolver map[string]*session.Session

func (f fakeResolver) Require(token string) (*session.Session, error) {
	if s, ok := f[token]; ok {
		return s, nil
	}
	return nil, errors.New("unauthorized")
}

func whoAmI(w http.ResponseWriter, r *http.Request) {
	if sess, ok := SessionFromContext(r.Context()); ok {
		w.Write([]byte(sess.AccountID))
		return
	}
	w.Write([]byte("anonymous"))
}

func TestSessionFromCookieAndHeader(t *testing.T) {
	resolver := fakeResolver{"good": {AccountID: "joe"}}
	h := Session(resolver)(http.HandlerFunc(whoAmI))

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"no token", func(r *http.Request) {}, "anonymous"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: "good"}) }, "joe"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, "joe"},
		{"bad token is anonymous", func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") }, "anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestRequireSession(t *testing.T) {
	resolver := fakeResolver{"good": {AccountID: "joe"}}
	h := Session(resolver)(RequireSession(http.HandlerFunc(whoAmI)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unauthorized"`)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "good"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "joe", rec.Body.String())
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	for status, level := range map[int]string{200: "INFO", 404: "WARN", 503: "ERROR"} {
		buf.Reset()
		h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte("body"))
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

		out := buf.String()
		require.Contains(t, out, "level="+level, "status %d", status)
		assert.Contains(t, out, "path=/x")
		assert.Contains(t, out, "bytes=4")
	}
}
