// Package client implements a client for a remote lock service
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/api"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration") //nolint:revive
	ErrRequestFailed = errors.New("request failed")        //nolint:revive
)

// LockServiceClientConfig defines the configuration for accessing a remote lock service
type LockServiceClientConfig struct {
	// URL of the lock server
	URL string
	// Authorization credentials passed in the Authorization: <type> <credentials> header
	Authorization string
	// AuthorizationType of the credentials. Defaults to "Bearer"
	AuthorizationType string
	// Headers added to every request
	Headers map[string]string
	// HTTPClient used for requests. Defaults to http.DefaultClient
	HTTPClient *http.Client
}

// LockClient defines a client of a lock service
type LockClient struct {
	srv      *url.URL
	auth     string
	authType string
	headers  map[string]string
	http     *http.Client
}

// NewLockServiceClient returns a new client for a remote lock service
func NewLockServiceClient(config LockServiceClientConfig) (*LockClient, error) {
	srv, err := url.Parse(config.URL)
	if err != nil || srv.Scheme == "" || srv.Host == "" {
		return nil, fmt.Errorf("%w: invalid server url %q", ErrInvalidConfig, config.URL)
	}

	authType := config.AuthorizationType
	if authType == "" {
		authType = "Bearer"
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &LockClient{
		srv:      srv,
		auth:     config.Authorization,
		authType: authType,
		headers:  config.Headers,
		http:     httpClient,
	}, nil
}

// Lock requests claiming a lock to the lock service
func (c *LockClient) Lock(ctx context.Context, req deploylock.LockRequest) (deploylock.LockResult, error) {
	resp := api.LockResponse{}
	if err := c.do(ctx, "lock", api.LockRequest{LockRequest: req}, &resp); err != nil {
		return deploylock.LockResult{}, err
	}

	if resp.Error != nil {
		return deploylock.LockResult{}, resp.Error
	}

	return resp.Result, nil
}

// Unlock requests releasing a lock to the lock service
func (c *LockClient) Unlock(ctx context.Context, req deploylock.UnlockRequest) (deploylock.UnlockResult, error) {
	resp := api.UnlockResponse{}
	if err := c.do(ctx, "unlock", api.UnlockRequest{UnlockRequest: req}, &resp); err != nil {
		return deploylock.UnlockResult{}, err
	}

	if resp.Error != nil {
		return deploylock.UnlockResult{}, resp.Error
	}

	return resp.Result, nil
}

// Check requests checking a lock to the lock service
func (c *LockClient) Check(ctx context.Context, scope deploylock.Scope) (deploylock.CheckResult, error) {
	resp := api.CheckResponse{}
	if err := c.do(ctx, "check", api.CheckRequest{Scope: scope}, &resp); err != nil {
		return deploylock.CheckResult{}, err
	}

	if resp.Error != nil {
		return deploylock.CheckResult{}, resp.Error
	}

	return resp.Result, nil
}

// do posts the request to the given path and decodes the response
func (c *LockClient) do(ctx context.Context, path string, request any, response any) error {
	marshaled := &bytes.Buffer{}
	err := json.NewEncoder(marshaled).Encode(request)
	if err != nil {
		return deploylock.NewWrappedError(ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.srv.JoinPath(path).String(), marshaled)
	if err != nil {
		return deploylock.NewWrappedError(ErrRequestFailed, err)
	}
	req.Header.Add("Content-Type", "application/json")

	if c.auth != "" {
		req.Header.Add("Authorization", fmt.Sprintf("%s %s", c.authType, c.auth))
	}

	for h, v := range c.headers {
		req.Header.Add(h, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return deploylock.NewWrappedError(ErrRequestFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// errors of the service are returned with status OK
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return deploylock.NewWrappedError(ErrRequestFailed, fmt.Errorf("status %s", resp.Status))
	}

	err = json.NewDecoder(resp.Body).Decode(response)
	if err != nil {
		return deploylock.NewWrappedError(ErrRequestFailed, err)
	}

	return nil
}
