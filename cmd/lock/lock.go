// Package lock implements the headless lock command
package lock

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/github/deploylock"
	"github.com/github/deploylock/cmd/internal/setup"
	"github.com/github/deploylock/pkg/local"
)

const (
	long = `
claims the deployment lock of an environment, or of all environments with --global.

The lock is sticky: it is held until it is released with the unlock command.
A lock held by another actor denies the request. The result is printed as JSON and
the command fails, so the steps after the deployment can be skipped.
`

	example = `
# claim the lock of the production environment
deploylock lock production --actor octocat --reason "testing a fix"

# claim the global lock using a lock server
deploylock lock --global --actor octocat --server http://localhost:8000

# show the details of the lock of the staging environment without claiming it
deploylock lock staging --actor octocat --details
`
)

// New creates new cobra command for the lock command.
func New() *cobra.Command { //nolint:funlen
	var (
		actor   string
		ref     string
		reason  string
		global  bool
		details bool
		runID   int64
		server  string
	)

	cmd := &cobra.Command{
		Use:     "lock [environment]",
		Short:   "claim a deployment lock",
		Long:    long,
		Example: example,
		Args:    cobra.MaximumNArgs(1),
		// prevent the usage help to printed to stderr when an error is reported by a subcommand
		SilenceUsage: true,
		// this is needed to prevent cobra to print errors reported by subcommands in the stderr
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := setup.Config(cmd)
			if err != nil {
				return err
			}

			log, err := setup.Logger(conf)
			if err != nil {
				return err
			}

			scope, err := targetScope(args, global, conf.Commands.Environment)
			if err != nil {
				return err
			}

			if actor == "" {
				return errors.New("actor is required")
			}

			srv, err := setup.Service(cmd.Context(), conf, server, local.Options{Log: log})
			if err != nil {
				return fmt.Errorf("creating lock service %w", err)
			}

			origin := setup.Origin(conf)
			origin.RunID = runID

			result, err := srv.Lock(cmd.Context(), deploylock.LockRequest{
				Scope:       scope,
				Actor:       actor,
				Ref:         ref,
				Sticky:      true,
				Reason:      reason,
				DetailsOnly: details,
				Headless:    true,
				Origin:      origin,
			})
			if err != nil {
				return fmt.Errorf("claiming lock %w", err)
			}

			if err = setup.Print(cmd.OutOrStdout(), result); err != nil {
				return err
			}

			if result.Status == deploylock.StatusDenied {
				return deploylock.NewWrappedError(
					deploylock.ErrLockDenied,
					fmt.Errorf("held by %s", result.Record.CreatedBy),
				)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&actor, "actor", "a", os.Getenv("GITHUB_ACTOR"), "actor claiming the lock")
	cmd.Flags().StringVar(&ref, "ref", os.Getenv("GITHUB_REF_NAME"), "branch being deployed")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reason for claiming the lock")
	cmd.Flags().BoolVarP(&global, "global", "g", false, "claim the global lock")
	cmd.Flags().BoolVarP(&details, "details", "d", false, "only show the details of the current lock")
	cmd.Flags().Int64Var(&runID, "run-id", runIDFromEnv(), "id of the workflow run claiming the lock")
	cmd.Flags().StringVarP(&server, "server", "s", "", "url of a lock server. If not set, the lock store is accessed directly")

	return cmd
}

// targetScope returns the scope named by the arguments
func targetScope(args []string, global bool, defaultEnvironment string) (deploylock.Scope, error) {
	if global {
		return deploylock.GlobalScope(), nil
	}
	if len(args) == 0 {
		return deploylock.ParseScope(defaultEnvironment)
	}
	return deploylock.ParseScope(args[0])
}

func runIDFromEnv() int64 {
	var id int64
	_, _ = fmt.Sscan(os.Getenv("GITHUB_RUN_ID"), &id)
	return id
}
