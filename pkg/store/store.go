// Package store defines the interface of the versioned store that holds lock branches and records
package store

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrAccessingStore    = errors.New("accessing store")      //nolint:revive
	ErrAlreadyExists     = errors.New("already exists")       //nolint:revive
	ErrInitializingStore = errors.New("initializing store")   //nolint:revive
	ErrInvalidName       = errors.New("invalid name")         //nolint:revive
	ErrNotFound          = errors.New("not found")            //nolint:revive
	ErrWritingStore      = errors.New("writing to the store") //nolint:revive
)

// DefaultBranch is the branch used as base for lock branches when the store does not define one
const DefaultBranch = "main"

// StatusDeleted is the status returned by DeleteRef when the ref was removed
const StatusDeleted = http.StatusNoContent

// RefStore is a store with branch-like references and file-like content.
// Creation is exclusive: creating a branch or a file that already exists fails
// with ErrAlreadyExists, which makes it safe for concurrent claimants.
type RefStore interface {
	// BranchExists returns true if the branch exists
	BranchExists(ctx context.Context, name string) (bool, error)
	// CreateBranch creates a branch pointing to the given commit.
	// Fails with ErrAlreadyExists if the branch exists.
	CreateBranch(ctx context.Context, name string, sha string) error
	// DefaultBranchHead returns the commit at the head of the default branch
	DefaultBranchHead(ctx context.Context) (string, error)
	// ReadFile returns the content of the file in the given ref.
	// Fails with ErrNotFound if the ref or the file do not exist.
	ReadFile(ctx context.Context, path string, ref string) ([]byte, error)
	// WriteFile creates the file in the given ref.
	// Fails with ErrAlreadyExists if the file exists and ErrNotFound if the ref does not.
	WriteFile(ctx context.Context, path string, ref string, content []byte, message string) error
	// DeleteRef deletes the branch and returns the status of the operation (StatusDeleted on success).
	// Fails with ErrNotFound if the branch does not exist.
	DeleteRef(ctx context.Context, name string) (int, error)
}

// ValidateName checks a branch or file name can be used as a key in any backend
func ValidateName(name string) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return errors.New("name cannot contain '..' or start or end with '/'")
	}
	return nil
}
