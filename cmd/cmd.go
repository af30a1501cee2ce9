// Package cmd offers commands for managing deployment locks
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/github/deploylock/cmd/check"
	"github.com/github/deploylock/cmd/comment"
	"github.com/github/deploylock/cmd/internal/setup"
	"github.com/github/deploylock/cmd/lock"
	"github.com/github/deploylock/cmd/server"
	"github.com/github/deploylock/cmd/unlock"
	"github.com/github/deploylock/pkg/config"
	"github.com/github/deploylock/pkg/version"
)

// New creates a new root command for deploylock
func New() *cobra.Command {
	root := &cobra.Command{
		Use:               "deploylock",
		Short:             "Coordinate deployments with locks.",
		Long:              "Claim, release and check deployment locks for the environments of a repository.",
		Version:           version.Details(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	root.PersistentFlags().StringP(setup.ConfigFlag, "c", "", "config file")
	config.AddFlags(root.PersistentFlags())

	root.AddCommand(lock.New())
	root.AddCommand(unlock.New())
	root.AddCommand(check.New())
	root.AddCommand(comment.New())
	root.AddCommand(server.New())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version.Details())
		},
	})

	return root
}
