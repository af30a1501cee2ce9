package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gh "github.com/google/go-github/v66/github"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/report"
)

// reactions added to the command's comment depending on the outcome
const (
	reactionSilent  = "+1"
	reactionSuccess = "rocket"
	reactionFailure = "-1"
)

// Reporter is a report.Reporter that answers a command with a comment and updates its reactions
type Reporter struct {
	client *Client
	log    *slog.Logger
}

// NewReporter returns a reporter on the client's repository
func NewReporter(client *Client, log *slog.Logger) *Reporter {
	if log == nil {
		log = deploylock.DiscardLogger()
	}
	return &Reporter{client: client, log: log}
}

// Report posts the message as a comment in the origin's issue, removes the reaction identified by
// the message's TargetID and adds a reaction for the outcome.
// Messages without an issue or comment in their origin are only logged.
func (r *Reporter) Report(ctx context.Context, msg report.Message) error {
	origin := msg.Origin
	if origin.Issue == 0 || origin.CommentID == 0 {
		r.log.Info(msg.Body, "success", msg.Success)
		return nil
	}

	c := r.client
	errs := []error{}

	if msg.Body != "" {
		_, _, err := c.api.Issues.CreateComment(ctx, c.owner, c.repo, origin.Issue, &gh.IssueComment{
			Body: gh.String(msg.Body),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("posting comment: %w", requestError(err)))
		}
	}

	if msg.TargetID != 0 {
		_, err := c.api.Reactions.DeleteIssueCommentReaction(ctx, c.owner, c.repo, origin.CommentID, msg.TargetID)
		if err != nil {
			errs = append(errs, fmt.Errorf("removing reaction: %w", requestError(err)))
		}
	}

	reaction := reactionFailure
	if msg.Success {
		reaction = reactionSuccess
		if msg.Silent {
			reaction = reactionSilent
		}
	}

	if _, err := c.React(ctx, origin.CommentID, reaction); err != nil {
		errs = append(errs, fmt.Errorf("adding reaction: %w", err))
	}

	return errors.Join(errs...)
}
