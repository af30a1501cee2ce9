// Package unlock implements the headless unlock command
package unlock

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/github/deploylock"
	"github.com/github/deploylock/cmd/internal/setup"
	"github.com/github/deploylock/pkg/local"
)

const (
	long = `
releases the deployment lock of an environment, or the global lock with --global.

Releasing an environment that is not locked succeeds.
`

	example = `
# release the lock of the production environment
deploylock unlock production

# release the global lock
deploylock unlock --global
`
)

// New creates new cobra command for the unlock command.
func New() *cobra.Command {
	var (
		global bool
		server string
	)

	cmd := &cobra.Command{
		Use:     "unlock [environment]",
		Short:   "release a deployment lock",
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

			result, err := srv.Unlock(cmd.Context(), deploylock.UnlockRequest{
				Scope:    scope,
				Headless: true,
				Origin:   setup.Origin(conf),
			})
			if err != nil {
				return fmt.Errorf("releasing lock %w", err)
			}

			return setup.Print(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().BoolVarP(&global, "global", "g", false, "release the global lock")
	cmd.Flags().StringVarP(&server, "server", "s", "", "url of a lock server. If not set, the lock store is accessed directly")

	return cmd
}
