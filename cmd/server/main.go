// Package main is the entry point for the nearby server.
//
// The binary has three subcommands:
//
//	server serve     run the JSON API (the default when no subcommand is given)
//	server docstore  run the remote document store used by the "remote" backend
//	server seed      load the New York demo accounts and posts
//
// Configuration comes from --config (default config.yaml, optional) and the
// environment; see internal/config.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/nearby/internal/config"
)

var (
	configPath string

	// Set by PersistentPreRunE for every subcommand.
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Location-aware social discovery API",
	Long: `Runs the nearby JSON API: accounts, proximity search for people and
businesses, a location-tagged forum and private messages.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		cfg = loaded

		logger, err = newLogger(cmd.ErrOrStderr(), cfg.Log)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(docstoreCmd)
	rootCmd.AddCommand(seedCmd)
}

// newLogger builds the process logger from log.level and log.format.
func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	level, err := lc.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch lc.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", lc.Format)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
