// Package github implements a lock store and a status reporter on top of the GitHub REST API
package github

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"github.com/github/deploylock"
)

// DefaultAPIURL is the url of the public GitHub API
const DefaultAPIURL = "https://api.github.com"

var ErrInvalidConfig = errors.New("invalid configuration") //nolint:revive

// Config defines the configuration for accessing the GitHub API
type Config struct {
	// APIURL of the GitHub API. Defaults to DefaultAPIURL
	APIURL string
	// Token used for authenticating requests
	Token string
	// Repository in owner/name form
	Repository string
	// HTTPClient used for requests. Defaults to a new http.Client
	HTTPClient *http.Client
}

// Client gives access to the GitHub API scoped to a repository
type Client struct {
	api   *gh.Client
	owner string
	repo  string
}

// NewClient returns a GitHub API client
func NewClient(config Config) (*Client, error) {
	apiURL := config.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	baseURL, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
	if err != nil {
		return nil, deploylock.NewWrappedError(ErrInvalidConfig, err)
	}

	owner, repo, found := strings.Cut(config.Repository, "/")
	if !found || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, deploylock.NewWrappedError(
			ErrInvalidConfig,
			fmt.Errorf("repository must be in owner/name form: %q", config.Repository),
		)
	}

	api := gh.NewClient(config.HTTPClient)
	if config.Token != "" {
		api = api.WithAuthToken(config.Token)
	}
	api.BaseURL = baseURL

	return &Client{api: api, owner: owner, repo: repo}, nil
}

// Repository returns the repository of the client in owner/name form
func (c *Client) Repository() string {
	return c.owner + "/" + c.repo
}

// failure returns the status and the message of a call rejected by the API.
// The status is 0 if the call failed without a response.
func failure(err error) (int, string) {
	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode, errResp.Message
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) && rateErr.Response != nil {
		return rateErr.Response.StatusCode, rateErr.Message
	}

	return 0, ""
}

func requestError(err error) error {
	return deploylock.NewWrappedError(deploylock.ErrRequestFailed, err)
}
