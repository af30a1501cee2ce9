// Package deploylock defines a service for serializing deployments with locks
// scoped per environment or globally
package deploylock

import (
	"context"
	"fmt"
	"strings"
)

const (
	// LockFile is the path of the lock record inside a lock branch
	LockFile = "lock.json"
	// BranchSuffix is appended to the scope name to derive its lock branch
	BranchSuffix = "branch-deploy-lock"
	// GlobalScopeName is the text form of the global scope
	GlobalScopeName = "global"
	// CommitMessage is used when writing lock records
	CommitMessage = "lock [skip ci]"
	// HeadlessBranch replaces the holder branch of locks claimed in headless mode
	HeadlessBranch = "headless mode"
)

// Scope is the target of a lock: a named environment or the global scope.
// The zero value is not a valid scope.
type Scope struct {
	name   string
	global bool
}

// GlobalScope returns the scope that covers all environments
func GlobalScope() Scope {
	return Scope{name: GlobalScopeName, global: true}
}

// EnvironmentScope returns the scope of the named environment
func EnvironmentScope(name string) Scope {
	if name == GlobalScopeName {
		return GlobalScope()
	}
	return Scope{name: name}
}

// ParseScope returns the scope for its text form
func ParseScope(name string) (Scope, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Scope{}, fmt.Errorf("%w: scope cannot be empty", ErrInvalidScope)
	}
	// path separators, whitespace and characters git does not allow in branch names
	if strings.ContainsAny(name, "/ \t\n*?[]\\~^:") {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, name)
	}
	return EnvironmentScope(name), nil
}

// IsGlobal returns true for the global scope
func (s Scope) IsGlobal() bool {
	return s.global
}

// IsZero returns true if the scope was not set
func (s Scope) IsZero() bool {
	return s.name == ""
}

// String returns the environment name or "global"
func (s Scope) String() string {
	return s.name
}

// Branch returns the name of the branch holding the scope's lock
func (s Scope) Branch() string {
	return fmt.Sprintf("%s-%s", s.name, BranchSuffix)
}

// MarshalText implements encoding.TextMarshaler
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Scope) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = Scope{}
		return nil
	}
	scope, err := ParseScope(string(text))
	if err != nil {
		return err
	}
	*s = scope
	return nil
}

// Status is the outcome of a lock request
type Status string

const (
	// StatusClaimed the lock was claimed by the requester
	StatusClaimed Status = "claimed"
	// StatusDenied the lock is held by someone else
	StatusDenied Status = "denied"
	// StatusOwner the requester already holds the lock
	StatusOwner Status = "owner"
	// StatusOwnerHeadless the requester already holds the lock (headless request)
	StatusOwnerHeadless Status = "owner-headless"
	// StatusNoLock there is no lock (details-only requests)
	StatusNoLock Status = "no-lock"
	// StatusDetailsOnly the lock details were returned without claiming it
	StatusDetailsOnly Status = "details-only"
)

// Origin identifies where a request came from. It is used for building links
// and for reporting back to the requester.
type Origin struct {
	// ServerURL of the code host, e.g. https://github.com
	ServerURL string `json:"server_url,omitempty"`
	// Repository in owner/name form
	Repository string `json:"repository,omitempty"`
	// Issue or pull request number the command was issued on
	Issue int `json:"issue,omitempty"`
	// CommentID of the command
	CommentID int64 `json:"comment_id,omitempty"`
	// RunID of the workflow run (headless requests)
	RunID int64 `json:"run_id,omitempty"`
}

// CommentLink returns the url of the comment that issued the request
func (o Origin) CommentLink() string {
	return fmt.Sprintf("%s/%s/pull/%d#issuecomment-%d", o.ServerURL, o.Repository, o.Issue, o.CommentID)
}

// RunLink returns the url of the workflow run that issued the request
func (o Origin) RunLink() string {
	return fmt.Sprintf("%s/%s/actions/runs/%d", o.ServerURL, o.Repository, o.RunID)
}

// LockLink returns the url of the lock file in the given lock branch
func (o Origin) LockLink(branch string) string {
	return fmt.Sprintf("%s/%s/blob/%s/%s", o.ServerURL, o.Repository, branch, LockFile)
}

// LockRequest is a request for claiming a lock or querying its details
type LockRequest struct {
	Scope Scope `json:"scope"`
	// Actor claiming the lock
	Actor string `json:"actor"`
	// Ref is the branch requesting the lock (the deployment's branch)
	Ref         string `json:"ref,omitempty"`
	Sticky      bool   `json:"sticky,omitempty"`
	DetailsOnly bool   `json:"details_only,omitempty"`
	Headless    bool   `json:"headless,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Origin      Origin `json:"origin,omitempty"`
	// TargetID identifies the notification (e.g. reaction) to update when reporting
	TargetID int64 `json:"target_id,omitempty"`
}

// LockResult is the outcome of a LockRequest
type LockResult struct {
	Status Status  `json:"status"`
	Record *Record `json:"record,omitempty"`
	Scope  Scope   `json:"scope"`
	// GlobalFlag is the token used for requesting the global scope
	GlobalFlag string `json:"global_flag,omitempty"`
	// Bypass is set when the request was denied and post-deployment steps must be skipped
	Bypass bool `json:"bypass,omitempty"`
}

// UnlockRequest is a request for releasing a lock
type UnlockRequest struct {
	Scope    Scope  `json:"scope"`
	Headless bool   `json:"headless,omitempty"`
	Origin   Origin `json:"origin,omitempty"`
	TargetID int64  `json:"target_id,omitempty"`
}

// UnlockResult is the outcome of an UnlockRequest
type UnlockResult struct {
	Released bool  `json:"released"`
	Scope    Scope `json:"scope"`
	// Message describes the outcome. Headless requests get a fixed marker.
	Message        string `json:"message,omitempty"`
	GlobalReleased bool   `json:"global_released,omitempty"`
}

// CheckResult is the outcome of a lock check
type CheckResult struct {
	Locked bool `json:"locked"`
	// Scope holding the lock, or the requested scope when not locked
	Scope  Scope   `json:"scope"`
	Record *Record `json:"record,omitempty"`
}

// Service defines the interface of a lock service
type Service interface {
	// Lock claims the lock for the request's scope or returns its details
	Lock(ctx context.Context, req LockRequest) (LockResult, error)
	// Unlock releases the lock of the request's scope. Releasing a scope that is not locked succeeds.
	Unlock(ctx context.Context, req UnlockRequest) (UnlockResult, error)
	// Check reports if the scope is locked, either directly or by a global lock
	Check(ctx context.Context, scope Scope) (CheckResult, error)
}
