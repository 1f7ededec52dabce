package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/sakif/nearby/internal/backend"
	"github.com/sakif/nearby/internal/config"
	"github.com/sakif/nearby/internal/repository/remote"
	"github.com/sakif/nearby/internal/server"
)

var docstoreCmd = &cobra.Command{
	Use:   "docstore",
	Short: "Run the document store behind the remote backend",
	Long: `Serves a memory or sqlite repository over HTTP so that API servers
configured with storage.backend=remote can share it. Set docstore.api_key to
require a bearer token.`,
	RunE: runDocstore,
}

func runDocstore(cmd *cobra.Command, args []string) error {
	ctx, stop := notifyContext(cmd)
	defer stop()

	dc := cfg.Docstore
	selection, err := backend.Open(ctx, config.StorageConfig{
		Backend:    dc.Backend,
		SQLitePath: dc.SQLitePath,
	}, logger)
	if err != nil {
		return fmt.Errorf("opening docstore storage: %w", err)
	}
	defer selection.Repo.Close()

	if dc.APIKey == "" {
		logger.Warn("docstore.api_key not set, the document store accepts unauthenticated requests")
	}

	logger.Info("document store starting",
		slog.String("addr", dc.Addr()),
		slog.String("backend", selection.Repo.Backend()),
	)
	return server.Serve(ctx, logger, &http.Server{
		Addr:    dc.Addr(),
		Handler: remote.NewServer(selection.Repo, dc.APIKey, logger),
	})
}
