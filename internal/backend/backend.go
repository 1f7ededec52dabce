// Package backend chooses the repository implementation once, at startup.
//
// For the remote document store the configured endpoint is checked first. When
// it does not answer, the process runs on the in-memory backend instead and
// says so: a WARN log line for operators and Degraded on the returned value,
// which the operator health endpoint reports. End users are never told. A store
// that answers but rejects the configured credentials is a startup error, not
// a fallback.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/nearby/internal/config"
	"github.com/sakif/nearby/internal/repository"
	"github.com/sakif/nearby/internal/repository/memory"
	"github.com/sakif/nearby/internal/repository/postgres"
	"github.com/sakif/nearby/internal/repository/remote"
	"github.com/sakif/nearby/internal/repository/sqlite"
)

// Selection is the outcome of Open.
type Selection struct {
	Repo repository.Repository

	// Requested is the backend named by configuration; Repo.Backend() is the
	// one actually in use. They differ only when Degraded.
	Requested string
	Degraded  bool
}

// Open builds the configured backend. Only the remote backend falls back;
// a broken sqlite file or postgres URL is a startup error.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Selection, error) {
	requested := cfg.ResolvedBackend()

	switch requested {
	case config.BackendMemory:
		return &Selection{Repo: memory.New(), Requested: requested}, nil

	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("backend: creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Selection{Repo: db, Requested: requested}, nil

	case config.BackendPostgres:
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Selection{Repo: db, Requested: requested}, nil

	case config.BackendRemote:
		return openRemote(ctx, cfg.Remote, logger)
	}

	return nil, fmt.Errorf("backend: unknown storage backend %q", requested)
}

func openRemote(ctx context.Context, cfg config.RemoteConfig, logger *slog.Logger) (*Selection, error) {
	client, err := remote.New(remote.Config{
		BaseURL:      cfg.URL,
		Timeout:      cfg.Timeout,
		APIKey:       cfg.APIKey,
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, logger)
	if err != nil {
		return nil, err
	}

	probeCtx := ctx
	if cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, cfg.ProbeTimeout)
		defer cancel()
	}

	if err := client.Ping(probeCtx); err != nil {
		client.Close()
		if errors.Is(err, remote.ErrRejectedCredentials) {
			return nil, fmt.Errorf("backend: remote document store at %s: %w", cfg.URL, err)
		}
		logger.Warn("remote document store unreachable, falling back to in-memory storage; data will not persist",
			slog.String("url", cfg.URL),
			slog.String("error", err.Error()),
		)
		return &Selection{Repo: memory.New(), Requested: config.BackendRemote, Degraded: true}, nil
	}

	logger.Info("connected to remote document store", slog.String("url", cfg.URL))
	return &Selection{Repo: client, Requested: config.BackendRemote}, nil
}
