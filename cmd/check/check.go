// Package check implements the check command
package check

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/github/deploylock"
	"github.com/github/deploylock/cmd/internal/setup"
	"github.com/github/deploylock/pkg/local"
)

const (
	long = `
checks if an environment is locked, either by its own lock or by the global lock.

The result is printed as JSON. With --fail the command fails if the environment is locked.
`

	example = `
# check the production environment
deploylock check production

# fail if the staging environment is locked
deploylock check staging --fail
`
)

// New creates new cobra command for the check command.
func New() *cobra.Command {
	var (
		global bool
		fail   bool
		server string
	)

	cmd := &cobra.Command{
		Use:     "check [environment]",
		Short:   "check a deployment lock",
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

			scope := deploylock.GlobalScope()
			if !global {
				name := conf.Commands.Environment
				if len(args) > 0 {
					name = args[0]
				}
				scope, err = deploylock.ParseScope(name)
				if err != nil {
					return err
				}
			}

			srv, err := setup.Service(cmd.Context(), conf, server, local.Options{Log: log})
			if err != nil {
				return fmt.Errorf("creating lock service %w", err)
			}

			result, err := srv.Check(cmd.Context(), scope)
			if err != nil {
				return fmt.Errorf("checking lock %w", err)
			}

			if err = setup.Print(cmd.OutOrStdout(), result); err != nil {
				return err
			}

			if fail && result.Locked {
				return deploylock.NewWrappedError(
					deploylock.ErrLockDenied,
					fmt.Errorf("%s is locked by %s", result.Scope, result.Record.CreatedBy),
				)
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&global, "global", "g", false, "check the global lock")
	cmd.Flags().BoolVar(&fail, "fail", false, "fail if the environment is locked")
	cmd.Flags().StringVarP(&server, "server", "s", "", "url of a lock server. If not set, the lock store is accessed directly")

	return cmd
}
