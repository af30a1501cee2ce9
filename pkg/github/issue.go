package github

import (
	"context"
	"net/http"
	"slices"
)

// ReactionEyes acknowledges a command while it is processed
const ReactionEyes = "eyes"

// permissions that allow issuing lock commands
var writePermissions = []string{"admin", "maintain", "write"} //nolint:gochecknoglobals

// React adds a reaction to a comment and returns the id of the reaction
func (c *Client) React(ctx context.Context, commentID int64, content string) (int64, error) {
	reaction, _, err := c.api.Reactions.CreateIssueCommentReaction(ctx, c.owner, c.repo, commentID, content)
	if err != nil {
		return 0, requestError(err)
	}
	return reaction.GetID(), nil
}

// PullRequestHead returns the name of the head branch of a pull request
func (c *Client) PullRequestHead(ctx context.Context, number int) (string, error) {
	pr, _, err := c.api.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return "", requestError(err)
	}
	return pr.GetHead().GetRef(), nil
}

// CanWrite returns true if the user has write access to the repository
func (c *Client) CanWrite(ctx context.Context, user string) (bool, error) {
	level, _, err := c.api.Repositories.GetPermissionLevel(ctx, c.owner, c.repo, user)
	if err != nil {
		if status, _ := failure(err); status == http.StatusNotFound {
			return false, nil
		}
		return false, requestError(err)
	}
	return slices.Contains(writePermissions, level.GetPermission()), nil
}
