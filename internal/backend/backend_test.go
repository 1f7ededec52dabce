package backend

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/nearby/internal/config"
	"github.com/sakif/nearby/internal/repository/memory"
	"github.com/sakif/nearby/internal/repository/remote"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenMemory(t *testing.T) {
	sel, err := Open(context.Background(), config.StorageConfig{Backend: config.BackendMemory}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sel.Repo.Close() })

	assert.Equal(t, "memory", sel.Repo.Backend())
	assert.False(t, sel.Degraded)
}

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "nearby.db")
	sel, err := Open(context.Background(), config.StorageConfig{SQLitePath: path}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sel.Repo.Close() })

	assert.Equal(t, "sqlite", sel.Repo.Backend())
	assert.Equal(t, config.BackendSQLite, sel.Requested)
	assert.False(t, sel.Degraded)
}

func TestOpenRemoteReachable(t *testing.T) {
	store := httptest.NewServer(remote.NewServer(memory.New(), "", quietLogger()))
	t.Cleanup(store.Close)

	sel, err := Open(context.Background(), config.StorageConfig{
		Backend: config.BackendRemote,
		Remote:  config.RemoteConfig{URL: store.URL, Timeout: time.Second, ProbeTimeout: time.Second},
	}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sel.Repo.Close() })

	assert.Equal(t, "remote", sel.Repo.Backend())
	assert.False(t, sel.Degraded)
}

func TestOpenRemoteUnreachableFallsBackToMemory(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	sel, err := Open(context.Background(), config.StorageConfig{
		Backend: config.BackendRemote,
		Remote:  config.RemoteConfig{URL: url, Timeout: 200 * time.Millisecond, ProbeTimeout: 500 * time.Millisecond},
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { sel.Repo.Close() })

	assert.Equal(t, "memory", sel.Repo.Backend())
	assert.Equal(t, config.BackendRemote, sel.Requested)
	assert.True(t, sel.Degraded)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "falling back to in-memory storage")
}

func TestOpenRemoteRejectedCredentialsIsStartupError(t *testing.T) {
	store := httptest.NewServer(remote.NewServer(memory.New(), "right", quietLogger()))
	t.Cleanup(store.Close)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	sel, err := Open(context.Background(), config.StorageConfig{
		Backend: config.BackendRemote,
		Remote: config.RemoteConfig{
			URL:          store.URL,
			APIKey:       "wrong",
			Timeout:      time.Second,
			ProbeTimeout: time.Second,
		},
	}, logger)
	require.Error(t, err)
	assert.Nil(t, sel)
	assert.ErrorIs(t, err, remote.ErrRejectedCredentials)
	assert.NotContains(t, logs.String(), "falling back")
}

func TestOpenRemoteBadURLIsStartupError(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{
		Backend: config.BackendRemote,
		Remote:  config.RemoteConfig{URL: "ftp://nope"},
	}, quietLogger())
	assert.Error(t, err)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: "mongo"}, quietLogger())
	assert.Error(t, err)
}
