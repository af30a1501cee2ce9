package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/store"
)

// messages of the GitHub API for ref and content conflicts
const (
	refExistsMessage  = "Reference already exists"
	refMissingMessage = "Reference does not exist"
	shaMissingMessage = `"sha" wasn't supplied`
)

// Store is a RefStore backed by the branches of a GitHub repository.
//
// Lock files in the repository hold plain JSON. The store exchanges them base64 encoded,
// the form lock records are kept in.
type Store struct {
	client *Client
}

// NewStore returns a RefStore on the client's repository
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// BranchExists returns true if the branch exists
func (s *Store) BranchExists(ctx context.Context, name string) (bool, error) {
	c := s.client
	_, _, err := c.api.Repositories.GetBranch(ctx, c.owner, c.repo, name, 0)
	if err == nil {
		return true, nil
	}

	if status, _ := failure(err); status == http.StatusNotFound {
		return false, nil
	}
	return false, requestError(err)
}

// CreateBranch creates a branch pointing to the given commit
func (s *Store) CreateBranch(ctx context.Context, name string, sha string) error {
	if err := store.ValidateName(name); err != nil {
		return deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	c := s.client
	_, _, err := c.api.Git.CreateRef(ctx, c.owner, c.repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + name),
		Object: &gh.GitObject{SHA: gh.String(sha)},
	})
	if err == nil {
		return nil
	}

	status, message := failure(err)
	if status == http.StatusUnprocessableEntity && message == refExistsMessage {
		return fmt.Errorf("%w: branch %q", store.ErrAlreadyExists, name)
	}
	return requestError(err)
}

// DefaultBranchHead returns the commit at the head of the repository's default branch
func (s *Store) DefaultBranchHead(ctx context.Context) (string, error) {
	c := s.client
	repo, _, err := c.api.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return "", requestError(err)
	}

	branch, _, err := c.api.Repositories.GetBranch(ctx, c.owner, c.repo, repo.GetDefaultBranch(), 0)
	if err != nil {
		return "", requestError(err)
	}

	sha := branch.GetCommit().GetSHA()
	if sha == "" {
		return "", deploylock.NewWrappedError(
			deploylock.ErrInvalidResponse,
			fmt.Errorf("branch %q has no commit", repo.GetDefaultBranch()),
		)
	}
	return sha, nil
}

// ReadFile returns the content of the file in the given ref, base64 encoded
func (s *Store) ReadFile(ctx context.Context, path string, ref string) ([]byte, error) {
	c := s.client
	file, _, _, err := c.api.Repositories.GetContents(
		ctx,
		c.owner,
		c.repo,
		path,
		&gh.RepositoryContentGetOptions{Ref: ref},
	)
	if err != nil {
		if status, _ := failure(err); status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: file %q in %q", store.ErrNotFound, path, ref)
		}
		return nil, requestError(err)
	}
	if file == nil {
		return nil, deploylock.NewWrappedError(
			deploylock.ErrInvalidResponse,
			fmt.Errorf("%q in %q is a directory", path, ref),
		)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, deploylock.NewWrappedError(deploylock.ErrInvalidResponse, err)
	}

	return []byte(base64.StdEncoding.EncodeToString([]byte(content))), nil
}

// WriteFile creates the file in the given ref. The content must be base64 encoded.
// The file must not exist: without the sha of an existing file the API refuses to replace it.
func (s *Store) WriteFile(ctx context.Context, path string, ref string, content []byte, message string) error {
	if err := store.ValidateName(path); err != nil {
		return deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	decoded, err := base64.StdEncoding.DecodeString(string(content))
	if err != nil {
		return deploylock.NewWrappedError(deploylock.ErrEncodingRecord, err)
	}

	c := s.client
	_, _, err = c.api.Repositories.CreateFile(ctx, c.owner, c.repo, path, &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: decoded,
		Branch:  gh.String(ref),
	})
	if err == nil {
		return nil
	}

	status, apiMessage := failure(err)
	switch {
	// the branch moved while the file was written
	case status == http.StatusConflict:
		return fmt.Errorf("%w: file %q in %q: %s", store.ErrAlreadyExists, path, ref, apiMessage)
	case status == http.StatusUnprocessableEntity && strings.Contains(apiMessage, shaMissingMessage):
		return fmt.Errorf("%w: file %q in %q", store.ErrAlreadyExists, path, ref)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: branch %q", store.ErrNotFound, ref)
	default:
		return requestError(err)
	}
}

// DeleteRef deletes the branch. Statuses other than success or not found are returned without error.
func (s *Store) DeleteRef(ctx context.Context, name string) (int, error) {
	c := s.client
	resp, err := c.api.Git.DeleteRef(ctx, c.owner, c.repo, "heads/"+name)
	if err == nil {
		return resp.StatusCode, nil
	}

	status, message := failure(err)
	switch {
	case status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity && message == refMissingMessage:
		return 0, fmt.Errorf("%w: branch %q", store.ErrNotFound, name)
	case status != 0:
		return status, nil
	default:
		return 0, requestError(err)
	}
}
