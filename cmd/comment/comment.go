// Package comment implements the command that handles lock commands issued as pull request comments
package comment

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/github/deploylock"
	"github.com/github/deploylock/cmd/internal/setup"
	"github.com/github/deploylock/pkg/github"
	"github.com/github/deploylock/pkg/local"
	"github.com/github/deploylock/pkg/locker"
	"github.com/github/deploylock/pkg/report"
	"github.com/github/deploylock/pkg/scope"
)

var ErrPermissionDenied = errors.New("permission denied") //nolint:revive

const (
	long = `
handles a lock command issued as a comment in a pull request.

The comment is acknowledged with a reaction and answered with a comment describing the outcome.
Comments that are not lock commands are ignored. Only users with write permissions in the
repository can issue commands.

The commands are:
  .lock [environment] [--global] [--info] [--reason text]
  .unlock [environment] [--global]
  .wcid [environment] [--global]
`

	example = `
# handle the comment that triggered a workflow
deploylock comment --body "$COMMENT_BODY" --issue 42 --comment-id 1234 --actor octocat
`
)

// New creates new cobra command for the comment command.
func New() *cobra.Command { //nolint:funlen
	var (
		body      string
		actor     string
		ref       string
		issue     int
		commentID int64
	)

	cmd := &cobra.Command{
		Use:     "comment",
		Short:   "handle a lock command issued as a comment",
		Long:    long,
		Example: example,
		// prevent the usage help to printed to stderr when an error is reported by a subcommand
		SilenceUsage: true,
		// this is needed to prevent cobra to print errors reported by subcommands in the stderr
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			conf, err := setup.Config(cmd)
			if err != nil {
				return err
			}

			log, err := setup.Logger(conf)
			if err != nil {
				return err
			}

			gh, err := setup.GitHubClient(conf)
			if err != nil {
				return fmt.Errorf("creating github client %w", err)
			}
			if gh == nil {
				return fmt.Errorf("%w: github token and repository are required", deploylock.ErrInvalidConfig)
			}

			reporter := github.NewReporter(gh, log)
			resolver := scope.NewResolver(conf.Tokens(), reporter, log)

			command, parseErr := resolver.Parse(body)
			if errors.Is(parseErr, scope.ErrNotCommand) {
				log.Debug("comment is not a lock command")
				return nil
			}

			origin := setup.Origin(conf)
			origin.Issue = issue
			origin.CommentID = commentID

			targetID, err := gh.React(ctx, commentID, github.ReactionEyes)
			if err != nil {
				return fmt.Errorf("acknowledging command %w", err)
			}

			if parseErr != nil {
				// reports the valid targets
				_, err = resolver.Resolve(ctx, body, origin, targetID)
				return err
			}

			allowed, err := gh.CanWrite(ctx, actor)
			if err != nil {
				return fmt.Errorf("checking permissions %w", err)
			}
			if !allowed {
				reportErr := reporter.Report(ctx, report.Message{
					Origin:   origin,
					TargetID: targetID,
					Body: fmt.Sprintf(
						"👋 __%s__, seems as if you have not admin/maintain/write permissions in this repo",
						actor,
					),
				})
				if reportErr != nil {
					log.Warn("reporting failed", "error", reportErr)
				}
				return fmt.Errorf("%w: %s", ErrPermissionDenied, actor)
			}

			if ref == "" {
				ref, err = gh.PullRequestHead(ctx, issue)
				if err != nil {
					return fmt.Errorf("retrieving pull request %w", err)
				}
			}

			lockSrv, err := local.NewLocker(ctx, conf, local.Options{Reporter: reporter, Log: log})
			if err != nil {
				return fmt.Errorf("creating lock service %w", err)
			}

			result, err := lockSrv.Run(ctx, locker.CommandRequest{
				Command:  command,
				Actor:    actor,
				Ref:      ref,
				Origin:   origin,
				TargetID: targetID,
			})
			if printErr := setup.Print(cmd.OutOrStdout(), result); printErr != nil {
				return printErr
			}

			return err
		},
	}

	cmd.Flags().StringVarP(&body, "body", "b", os.Getenv("COMMENT_BODY"), "body of the comment")
	cmd.Flags().StringVarP(&actor, "actor", "a", os.Getenv("GITHUB_ACTOR"), "author of the comment")
	cmd.Flags().StringVar(&ref, "ref", "", "branch of the pull request. If not set, it is retrieved from the pull request")
	cmd.Flags().IntVarP(&issue, "issue", "i", envInt("ISSUE_NUMBER"), "number of the pull request")
	cmd.Flags().Int64Var(&commentID, "comment-id", int64(envInt("COMMENT_ID")), "id of the comment")

	return cmd
}

func envInt(name string) int {
	value, _ := strconv.Atoi(os.Getenv(name))
	return value
}
