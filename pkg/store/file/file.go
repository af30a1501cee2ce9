// Package file implements a file-backed ref store
package file

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/store"
)

const (
	refsDir    = "refs"
	stagingDir = "staging"
	trashDir   = "trash"
	treeDir    = "tree"
	headFile   = "HEAD"
)

// Store a RefStore backed by a file system.
//
// Each branch is a directory under refs/ holding its commit in HEAD and its files under tree/.
// Exclusive creation relies on os.Rename and os.Link failing when the target exists, so
// the store is safe for processes sharing the directory.
type Store struct {
	dir           string
	defaultBranch string
}

// NewTempFileStore creates a file ref store in a temporary directory
func NewTempFileStore() (*Store, error) {
	return NewFileStore(filepath.Join(os.TempDir(), "deploylock", "refstore"))
}

// NewFileStore creates a ref store backed by a directory
func NewFileStore(dir string) (*Store, error) {
	for _, d := range []string{refsDir, stagingDir, trashDir} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o750); err != nil {
			return nil, deploylock.NewWrappedError(store.ErrInitializingStore, err)
		}
	}

	s := &Store{
		dir:           dir,
		defaultBranch: store.DefaultBranch,
	}

	// initialize the default branch with a synthetic root commit
	root := fmt.Sprintf("%x", sha1.Sum([]byte(uuid.NewString()))) //nolint:gosec
	err := s.CreateBranch(context.Background(), s.defaultBranch, root)
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return nil, deploylock.NewWrappedError(store.ErrInitializingStore, err)
	}

	return s, nil
}

func (f *Store) branchDir(name string) string {
	return filepath.Join(f.dir, refsDir, filepath.FromSlash(name))
}

// BranchExists returns true if the branch exists
func (f *Store) BranchExists(_ context.Context, name string) (bool, error) {
	if err := store.ValidateName(name); err != nil {
		return false, deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	_, err := os.Stat(filepath.Join(f.branchDir(name), headFile))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, deploylock.NewWrappedError(store.ErrAccessingStore, err)
	}
	return true, nil
}

// CreateBranch creates a branch pointing to the given commit.
// The branch is built with its HEAD under staging/ and renamed into refs/, so it never
// appears half-built. Renaming fails if a branch directory with content is already in place.
func (f *Store) CreateBranch(_ context.Context, name string, sha string) error {
	if err := store.ValidateName(name); err != nil {
		return deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	branchDir := f.branchDir(name)
	if err := os.MkdirAll(filepath.Dir(branchDir), 0o750); err != nil {
		return deploylock.NewWrappedError(store.ErrWritingStore, err)
	}

	staged, err := os.MkdirTemp(filepath.Join(f.dir, stagingDir), "branch-*")
	if err != nil {
		return deploylock.NewWrappedError(store.ErrWritingStore, err)
	}
	defer os.RemoveAll(staged) //nolint:errcheck

	if err = os.WriteFile(filepath.Join(staged, headFile), []byte(sha), 0o600); err != nil {
		return deploylock.NewWrappedError(store.ErrWritingStore, err)
	}

	// an empty directory left by an interrupted create is replaced
	err = os.Rename(staged, branchDir)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: branch %q", store.ErrAlreadyExists, name)
	}
	if err != nil {
		return deploylock.NewWrappedError(store.ErrWritingStore, err)
	}

	return nil
}

// DefaultBranchHead returns the commit at the head of the default branch
func (f *Store) DefaultBranchHead(_ context.Context) (string, error) {
	head, err := os.ReadFile(filepath.Join(f.branchDir(f.defaultBranch), headFile)) //nolint:gosec
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: default branch %q", store.ErrNotFound, f.defaultBranch)
	}
	if err != nil {
		return "", deploylock.NewWrappedError(store.ErrAccessingStore, err)
	}
	return strings.TrimSpace(string(head)), nil
}

// ReadFile returns the content of the file in the given ref
func (f *Store) ReadFile(ctx context.Context, path string, ref string) ([]byte, error) {
	if err := store.ValidateName(path); err != nil {
		return nil, deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	exists, err := f.BranchExists(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: branch %q", store.ErrNotFound, ref)
	}

	content, err := os.ReadFile(filepath.Join(f.branchDir(ref), treeDir, filepath.FromSlash(path))) //nolint:gosec
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: file %q in %q", store.ErrNotFound, path, ref)
	}
	if err != nil {
		return nil, deploylock.NewWrappedError(store.ErrAccessingStore, err)
	}

	return content, nil
}

// WriteFile creates the file in the given ref
func (f *Store) WriteFile(ctx context.Context, path string, ref string, content []byte, _ string) error {
	if err := store.ValidateName(path); err != nil {
		return deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	exists, err := f.BranchExists(ctx, ref)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: branch %q", store.ErrNotFound, ref)
	}

	filePath := filepath.Join(f.branchDir(ref), treeDir, filepath.FromSlash(path))
	if err = os.MkdirAll(filepath.Dir(filePath), 0o750); err != nil {
		return deploylock.NewWrappedError(store.ErrWritingStore, err)
	}

	err = writeExclusive(filepath.Dir(filePath), filepath.Base(filePath), content)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: file %q in %q", store.ErrAlreadyExists, path, ref)
	}
	if err != nil {
		return deploylock.NewWrappedError(store.ErrWritingStore, err)
	}

	return nil
}

// DeleteRef deletes the branch. The branch directory is first moved out of refs/
// so readers never observe a partially deleted branch.
func (f *Store) DeleteRef(_ context.Context, name string) (int, error) {
	if err := store.ValidateName(name); err != nil {
		return 0, deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	tombstone := filepath.Join(f.dir, trashDir, uuid.NewString())
	err := os.Rename(f.branchDir(name), tombstone)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: branch %q", store.ErrNotFound, name)
	}
	if err != nil {
		return 0, deploylock.NewWrappedError(store.ErrWritingStore, err)
	}

	if err = os.RemoveAll(tombstone); err != nil {
		return 0, deploylock.NewWrappedError(store.ErrWritingStore, err)
	}

	return store.StatusDeleted, nil
}

// writeExclusive writes the content to a temporary file and links it into place.
// Linking fails with os.ErrExist if the target exists, and readers never see partial content.
func writeExclusive(dir string, name string, content []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err = tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Link(tmp.Name(), filepath.Join(dir, name))
}
