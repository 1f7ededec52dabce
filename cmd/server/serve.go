package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/nearby/internal/auth"
	"github.com/sakif/nearby/internal/backend"
	"github.com/sakif/nearby/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := notifyContext(cmd)
	defer stop()

	secret, err := sessionSecret()
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(secret)
	if err != nil {
		return err
	}

	selection, err := backend.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	srv := server.New(*cfg, selection, auth.NewPasswordService(), tokens, logger)
	return srv.Run(ctx)
}

// sessionSecret returns the configured JWT secret, or a random one. A random
// secret is fine for a single process but logs everyone out on restart.
func sessionSecret() (string, error) {
	if cfg.Session.Secret != "" {
		return cfg.Session.Secret, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session secret: %w", err)
	}
	logger.Warn("JWT_SECRET not set, using a random secret; sessions will not survive a restart")
	return hex.EncodeToString(buf), nil
}

// notifyContext returns a context cancelled by SIGINT or SIGTERM.
func notifyContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
