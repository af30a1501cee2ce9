// Package memory implements a memory backed ref store
package memory

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"fmt"
	"sync"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/store"
)

type branch struct {
	sha   string
	files map[string][]byte
}

// Store is a RefStore that keeps branches and files in memory.
// It is safe for concurrent use.
type Store struct {
	mtx           sync.Mutex
	defaultBranch string
	branches      map[string]*branch
}

// New returns an empty store with a default branch
func New() *Store {
	head := fmt.Sprintf("%x", sha1.Sum([]byte(store.DefaultBranch))) //nolint:gosec
	return &Store{
		defaultBranch: store.DefaultBranch,
		branches: map[string]*branch{
			store.DefaultBranch: {sha: head, files: map[string][]byte{}},
		},
	}
}

// BranchExists returns true if the branch exists
func (s *Store) BranchExists(_ context.Context, name string) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	_, found := s.branches[name]
	return found, nil
}

// CreateBranch creates a branch pointing to the given commit
func (s *Store) CreateBranch(_ context.Context, name string, sha string) error {
	if err := store.ValidateName(name); err != nil {
		return deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, found := s.branches[name]; found {
		return fmt.Errorf("%w: branch %q", store.ErrAlreadyExists, name)
	}

	s.branches[name] = &branch{sha: sha, files: map[string][]byte{}}
	return nil
}

// DefaultBranchHead returns the commit at the head of the default branch
func (s *Store) DefaultBranchHead(_ context.Context) (string, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	b, found := s.branches[s.defaultBranch]
	if !found {
		return "", fmt.Errorf("%w: default branch %q", store.ErrNotFound, s.defaultBranch)
	}
	return b.sha, nil
}

// ReadFile returns the content of the file in the given ref
func (s *Store) ReadFile(_ context.Context, path string, ref string) ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	b, found := s.branches[ref]
	if !found {
		return nil, fmt.Errorf("%w: branch %q", store.ErrNotFound, ref)
	}

	content, found := b.files[path]
	if !found {
		return nil, fmt.Errorf("%w: file %q in %q", store.ErrNotFound, path, ref)
	}

	return append([]byte{}, content...), nil
}

// WriteFile creates the file in the given ref
func (s *Store) WriteFile(_ context.Context, path string, ref string, content []byte, _ string) error {
	if err := store.ValidateName(path); err != nil {
		return deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	b, found := s.branches[ref]
	if !found {
		return fmt.Errorf("%w: branch %q", store.ErrNotFound, ref)
	}

	if _, found = b.files[path]; found {
		return fmt.Errorf("%w: file %q in %q", store.ErrAlreadyExists, path, ref)
	}

	b.files[path] = append([]byte{}, content...)
	return nil
}

// DeleteRef deletes the branch
func (s *Store) DeleteRef(_ context.Context, name string) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, found := s.branches[name]; !found {
		return 0, fmt.Errorf("%w: branch %q", store.ErrNotFound, name)
	}

	delete(s.branches, name)
	return store.StatusDeleted, nil
}
