// Package api defines the interface to a lock service
package api

import (
	"errors"
	"fmt"

	"github.com/github/deploylock"
)

var (
	ErrInvalidRequest = errors.New("invalid request") //nolint:revive
	ErrLockFailed     = errors.New("lock failed")     //nolint:revive
	ErrUnlockFailed   = errors.New("unlock failed")   //nolint:revive
	ErrCheckFailed    = errors.New("check failed")    //nolint:revive
	ErrUnauthorized   = errors.New("unauthorized")    //nolint:revive
)

// LockRequest defines a request for claiming a lock or querying its details
type LockRequest struct {
	deploylock.LockRequest
}

// String returns a text serialization of the LockRequest
func (r LockRequest) String() string {
	return fmt.Sprintf(
		"scope: %s actor: %s sticky: %t details: %t headless: %t",
		r.Scope, r.Actor, r.Sticky, r.DetailsOnly, r.Headless,
	)
}

// LockResponse defines the response for a LockRequest
type LockResponse struct {
	Error  *deploylock.Error     `json:"error,omitempty"`
	Result deploylock.LockResult `json:"result,omitempty"`
}

// UnlockRequest defines a request for releasing a lock
type UnlockRequest struct {
	deploylock.UnlockRequest
}

// String returns a text serialization of the UnlockRequest
func (r UnlockRequest) String() string {
	return fmt.Sprintf("scope: %s headless: %t", r.Scope, r.Headless)
}

// UnlockResponse defines the response for an UnlockRequest
type UnlockResponse struct {
	Error  *deploylock.Error       `json:"error,omitempty"`
	Result deploylock.UnlockResult `json:"result,omitempty"`
}

// CheckRequest defines a request for checking if a scope is locked
type CheckRequest struct {
	Scope deploylock.Scope `json:"scope"`
}

// CheckResponse defines the response for a CheckRequest
type CheckResponse struct {
	Error  *deploylock.Error      `json:"error,omitempty"`
	Result deploylock.CheckResult `json:"result,omitempty"`
}
