package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/github/deploylock/pkg/store"
	"github.com/github/deploylock/pkg/store/storetest"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return client, mr
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) store.RefStore {
		client, _ := newClient(t)
		s, err := New(Config{Client: client})
		if err != nil {
			t.Fatalf("test setup %v", err)
		}
		return s
	})
}

func TestRedisStoreRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	if !errors.Is(err, store.ErrInitializingStore) {
		t.Fatalf("expected %v got %v", store.ErrInitializingStore, err)
	}
}

func TestRedisStoreDeleteRemovesFiles(t *testing.T) {
	t.Parallel()

	client, mr := newClient(t)
	s, err := New(Config{Client: client, Prefix: "test"})
	if err != nil {
		t.Fatalf("test setup %v", err)
	}

	ctx := context.TODO()
	head, err := s.DefaultBranchHead(ctx)
	if err != nil {
		t.Fatalf("getting head %v", err)
	}
	if err = s.CreateBranch(ctx, "production-branch-deploy-lock", head); err != nil {
		t.Fatalf("creating branch %v", err)
	}
	if err = s.WriteFile(ctx, "lock.json", "production-branch-deploy-lock", []byte("content"), "lock"); err != nil {
		t.Fatalf("writing file %v", err)
	}

	if _, err = s.DeleteRef(ctx, "production-branch-deploy-lock"); err != nil {
		t.Fatalf("deleting ref %v", err)
	}

	// only the default branch remains
	keys := mr.Keys()
	if len(keys) != 1 || keys[0] != "test:refs:main" {
		t.Fatalf("unexpected keys after delete %v", keys)
	}
}

func TestRedisStoreDeletePatternCharacters(t *testing.T) {
	t.Parallel()

	client, mr := newClient(t)
	s, err := New(Config{Client: client, Prefix: "locks[eu]*"})
	if err != nil {
		t.Fatalf("test setup %v", err)
	}

	ctx := context.TODO()
	head, err := s.DefaultBranchHead(ctx)
	if err != nil {
		t.Fatalf("getting head %v", err)
	}
	for _, branch := range []string{"production-branch-deploy-lock", "staging-branch-deploy-lock"} {
		if err = s.CreateBranch(ctx, branch, head); err != nil {
			t.Fatalf("creating branch %v", err)
		}
		if err = s.WriteFile(ctx, "lock.json", branch, []byte("content"), "lock"); err != nil {
			t.Fatalf("writing file %v", err)
		}
	}

	if _, err = s.DeleteRef(ctx, "production-branch-deploy-lock"); err != nil {
		t.Fatalf("deleting ref %v", err)
	}

	// the default branch and the staging branch with its file remain
	if keys := mr.Keys(); len(keys) != 3 {
		t.Fatalf("unexpected keys after delete %v", keys)
	}

	content, err := s.ReadFile(ctx, "lock.json", "staging-branch-deploy-lock")
	if err != nil || string(content) != "content" {
		t.Fatalf("expected staging file got %q %v", content, err)
	}
}

func TestRedisStoreSharedClient(t *testing.T) {
	t.Parallel()

	client, _ := newClient(t)
	first, err := New(Config{Client: client})
	if err != nil {
		t.Fatalf("test setup %v", err)
	}
	second, err := New(Config{Client: client})
	if err != nil {
		t.Fatalf("test setup %v", err)
	}

	ctx := context.TODO()
	head, err := first.DefaultBranchHead(ctx)
	if err != nil {
		t.Fatalf("getting head %v", err)
	}
	secondHead, err := second.DefaultBranchHead(ctx)
	if err != nil {
		t.Fatalf("getting head %v", err)
	}
	if head != secondHead {
		t.Fatalf("expected head %q got %q", head, secondHead)
	}

	if err = first.CreateBranch(ctx, "staging-branch-deploy-lock", head); err != nil {
		t.Fatalf("creating branch %v", err)
	}
	err = second.CreateBranch(ctx, "staging-branch-deploy-lock", head)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected %v got %v", store.ErrAlreadyExists, err)
	}
}
