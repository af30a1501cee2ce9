// Package storetest offers a conformance test suite for RefStore implementations
package storetest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/github/deploylock/pkg/store"
)

// Factory returns a new, empty store for each test
type Factory func(t *testing.T) store.RefStore

// Run executes the conformance suite against stores created by the factory
func Run(t *testing.T, factory Factory) { //nolint:funlen
	t.Helper()

	t.Run("default branch head", func(t *testing.T) {
		s := factory(t)

		head, err := s.DefaultBranchHead(context.TODO())
		if err != nil {
			t.Fatalf("getting head %v", err)
		}
		if head == "" {
			t.Fatalf("expected a commit got empty head")
		}

		again, err := s.DefaultBranchHead(context.TODO())
		if err != nil {
			t.Fatalf("getting head %v", err)
		}
		if again != head {
			t.Fatalf("expected stable head %q got %q", head, again)
		}
	})

	t.Run("create branch", func(t *testing.T) {
		s := factory(t)
		ctx := context.TODO()

		exists, err := s.BranchExists(ctx, "production-branch-deploy-lock")
		if err != nil {
			t.Fatalf("checking branch %v", err)
		}
		if exists {
			t.Fatalf("branch should not exist")
		}

		head, err := s.DefaultBranchHead(ctx)
		if err != nil {
			t.Fatalf("getting head %v", err)
		}

		if err = s.CreateBranch(ctx, "production-branch-deploy-lock", head); err != nil {
			t.Fatalf("creating branch %v", err)
		}

		exists, err = s.BranchExists(ctx, "production-branch-deploy-lock")
		if err != nil {
			t.Fatalf("checking branch %v", err)
		}
		if !exists {
			t.Fatalf("branch should exist")
		}

		err = s.CreateBranch(ctx, "production-branch-deploy-lock", head)
		if !errors.Is(err, store.ErrAlreadyExists) {
			t.Fatalf("expected %v got %v", store.ErrAlreadyExists, err)
		}
	})

	t.Run("write and read file", func(t *testing.T) {
		s := factory(t)
		ctx := context.TODO()

		head, err := s.DefaultBranchHead(ctx)
		if err != nil {
			t.Fatalf("getting head %v", err)
		}

		err = s.WriteFile(ctx, "lock.json", "staging-branch-deploy-lock", []byte("content"), "lock")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("writing to missing branch: expected %v got %v", store.ErrNotFound, err)
		}

		if err = s.CreateBranch(ctx, "staging-branch-deploy-lock", head); err != nil {
			t.Fatalf("creating branch %v", err)
		}

		_, err = s.ReadFile(ctx, "lock.json", "staging-branch-deploy-lock")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("reading missing file: expected %v got %v", store.ErrNotFound, err)
		}

		if err = s.WriteFile(ctx, "lock.json", "staging-branch-deploy-lock", []byte("content"), "lock"); err != nil {
			t.Fatalf("writing file %v", err)
		}

		content, err := s.ReadFile(ctx, "lock.json", "staging-branch-deploy-lock")
		if err != nil {
			t.Fatalf("reading file %v", err)
		}
		if !bytes.Equal(content, []byte("content")) {
			t.Fatalf("expected %q got %q", "content", content)
		}

		err = s.WriteFile(ctx, "lock.json", "staging-branch-deploy-lock", []byte("other"), "lock")
		if !errors.Is(err, store.ErrAlreadyExists) {
			t.Fatalf("overwriting file: expected %v got %v", store.ErrAlreadyExists, err)
		}
	})

	t.Run("read from missing branch", func(t *testing.T) {
		s := factory(t)

		_, err := s.ReadFile(context.TODO(), "lock.json", "missing-branch-deploy-lock")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected %v got %v", store.ErrNotFound, err)
		}
	})

	t.Run("delete ref", func(t *testing.T) {
		s := factory(t)
		ctx := context.TODO()

		_, err := s.DeleteRef(ctx, "global-branch-deploy-lock")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("deleting missing ref: expected %v got %v", store.ErrNotFound, err)
		}

		head, err := s.DefaultBranchHead(ctx)
		if err != nil {
			t.Fatalf("getting head %v", err)
		}
		if err = s.CreateBranch(ctx, "global-branch-deploy-lock", head); err != nil {
			t.Fatalf("creating branch %v", err)
		}
		if err = s.WriteFile(ctx, "lock.json", "global-branch-deploy-lock", []byte("content"), "lock"); err != nil {
			t.Fatalf("writing file %v", err)
		}

		status, err := s.DeleteRef(ctx, "global-branch-deploy-lock")
		if err != nil {
			t.Fatalf("deleting ref %v", err)
		}
		if status != store.StatusDeleted {
			t.Fatalf("expected status %d got %d", store.StatusDeleted, status)
		}

		exists, err := s.BranchExists(ctx, "global-branch-deploy-lock")
		if err != nil {
			t.Fatalf("checking branch %v", err)
		}
		if exists {
			t.Fatalf("branch should not exist after delete")
		}

		// a new branch with the same name starts without files
		if err = s.CreateBranch(ctx, "global-branch-deploy-lock", head); err != nil {
			t.Fatalf("recreating branch %v", err)
		}
		_, err = s.ReadFile(ctx, "lock.json", "global-branch-deploy-lock")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("reading file of recreated branch: expected %v got %v", store.ErrNotFound, err)
		}
	})

	t.Run("concurrent branch creation", func(t *testing.T) {
		s := factory(t)
		ctx := context.TODO()

		head, err := s.DefaultBranchHead(ctx)
		if err != nil {
			t.Fatalf("getting head %v", err)
		}

		const claimants = 8
		errs := make(chan error, claimants)
		wg := sync.WaitGroup{}
		for j := 0; j < claimants; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.CreateBranch(ctx, "race-branch-deploy-lock", head)
			}()
		}
		wg.Wait()
		close(errs)

		created := 0
		for err := range errs {
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrAlreadyExists):
			default:
				t.Fatalf("unexpected error %v", err)
			}
		}

		if created != 1 {
			t.Fatalf("expected exactly one creation got %d", created)
		}
	})
}
