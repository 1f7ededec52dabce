package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/nearby/internal/auth"
	"github.com/sakif/nearby/internal/backend"
	"github.com/sakif/nearby/internal/model"
	"github.com/sakif/nearby/internal/seed"
)

var seedRandom uint64

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the New York demo accounts and forum posts",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().Uint64Var(&seedRandom, "random-seed", 0, "Seed for coordinate jitter and ratings (default: current time)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx, stop := notifyContext(cmd)
	defer stop()

	selection, err := backend.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer selection.Repo.Close()

	if selection.Degraded {
		return errors.New("remote document store unreachable; refusing to seed in-memory storage")
	}

	r := seedRandom
	if !cmd.Flags().Changed("random-seed") {
		r = uint64(time.Now().UnixNano())
	}

	report, err := seed.New(selection.Repo, auth.NewPasswordService(), logger, r).Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, a := range report.Created {
		password := seed.PersonPassword
		if a.Kind == model.KindBusiness {
			password = seed.BusinessPassword
		}
		fmt.Fprintf(out, "created %-16s %-26s password: %s\n", a.Name, a.Email, password)
	}
	for _, email := range report.Skipped {
		fmt.Fprintf(out, "skipped %s (already exists)\n", email)
	}
	fmt.Fprintf(out, "%d accounts and %d forum posts created\n", len(report.Created), report.Posts)
	return nil
}
