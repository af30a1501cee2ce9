package locker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/lease"
	"github.com/github/deploylock/pkg/store"
	"github.com/github/deploylock/pkg/store/file"
	redisstore "github.com/github/deploylock/pkg/store/redis"
)

func TestNew(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	testCases := []struct {
		title     string
		config    Config
		expectErr error
	}{
		{
			title:     "missing store",
			config:    Config{},
			expectErr: ErrInitializingLocker,
		},
		{
			title:     "unknown policy",
			config:    Config{Store: f.store, GlobalOwnerPolicy: "first-come"},
			expectErr: deploylock.ErrInvalidConfig,
		},
		{
			title:  "defaults",
			config: Config{Store: f.store},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			t.Parallel()

			_, err := New(context.TODO(), tc.config)
			if !errors.Is(err, tc.expectErr) {
				t.Fatalf("expected %v got %v", tc.expectErr, err)
			}
		})
	}
}

func TestScenarios(t *testing.T) {
	t.Parallel()

	production := deploylock.EnvironmentScope("production")

	t.Run("scope claimed by other", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		claimed, err := f.locker.Lock(context.TODO(), deploylock.LockRequest{
			Scope: production, Actor: "octocat", Sticky: true, Reason: "feature X",
		})
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if claimed.Status != deploylock.StatusClaimed {
			t.Fatalf("expected %s got %s", deploylock.StatusClaimed, claimed.Status)
		}
		record := claimed.Record
		if record.CreatedBy != "octocat" || !record.Sticky || record.Reason != "feature X" ||
			record.Global || record.Environment != "production" {
			t.Fatalf("unexpected record %v", record)
		}

		denied, err := f.locker.Lock(context.TODO(), deploylock.LockRequest{Scope: production, Actor: "monalisa"})
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if denied.Status != deploylock.StatusDenied || denied.Record.CreatedBy != "octocat" {
			t.Fatalf("unexpected result %v", denied)
		}

		// released locks can be claimed again
		if _, err = f.locker.Unlock(context.TODO(), deploylock.UnlockRequest{Scope: production}); err != nil {
			t.Fatalf("unexpected error %v", err)
		}

		claimed, err = f.locker.Lock(context.TODO(), deploylock.LockRequest{Scope: production, Actor: "monalisa"})
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if claimed.Status != deploylock.StatusClaimed || claimed.Record.CreatedBy != "monalisa" {
			t.Fatalf("unexpected result %v", claimed)
		}
	})

	t.Run("global lock covers all scopes", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		_, err := f.locker.Lock(context.TODO(), deploylock.LockRequest{
			Scope: deploylock.GlobalScope(), Actor: "octocat", Sticky: true,
		})
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}

		check, err := f.locker.Check(context.TODO(), production)
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if !check.Locked || !check.Scope.IsGlobal() || check.Record.CreatedBy != "octocat" {
			t.Fatalf("unexpected result %v", check)
		}
	})
}

func TestConcurrentClaims(t *testing.T) { //nolint:funlen
	t.Parallel()

	testCases := []struct {
		title string
		store func(t *testing.T) store.RefStore
		lease lease.Lease
	}{
		{title: "memory store"},
		{title: "memory store with lease", lease: lease.NewMemory()},
		{title: "file store", store: fileStore},
		{title: "file store with lease", store: fileStore, lease: lease.NewMemory()},
		{title: "redis store", store: redisStore},
		{title: "redis store with lease", store: redisStore, lease: lease.NewMemory()},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, func(c *Config) {
				c.Lease = tc.lease
				if tc.store != nil {
					c.Store = tc.store(t)
				}
			})

			const claimants = 10
			results := make(chan deploylock.LockResult, claimants)
			errs := make(chan error, claimants)
			wg := sync.WaitGroup{}
			for i := 0; i < claimants; i++ {
				i := i
				wg.Add(1)
				go func() {
					defer wg.Done()
					result, err := f.locker.Lock(context.TODO(), deploylock.LockRequest{
						Scope: deploylock.EnvironmentScope("production"),
						Actor: fmt.Sprintf("actor-%d", i),
					})
					if err != nil {
						errs <- err
						return
					}
					results <- result
				}()
			}
			wg.Wait()
			close(results)
			close(errs)

			for err := range errs {
				t.Fatalf("unexpected error %v", err)
			}

			owners := map[deploylock.Status]int{}
			var holder string
			for result := range results {
				owners[result.Status]++
				if result.Status == deploylock.StatusClaimed {
					holder = result.Record.CreatedBy
				}
			}
			if owners[deploylock.StatusClaimed] != 1 || owners[deploylock.StatusDenied] != claimants-1 {
				t.Fatalf("unexpected outcomes %v", owners)
			}

			check, err := f.locker.Check(context.TODO(), deploylock.EnvironmentScope("production"))
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if check.Record.CreatedBy != holder {
				t.Fatalf("expected holder %s got %s", holder, check.Record.CreatedBy)
			}
		})
	}
}

func TestInterruptedBranchCreate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	refStore, err := file.NewFileStore(dir)
	if err != nil {
		t.Fatalf("test setup %v", err)
	}

	production := deploylock.EnvironmentScope("production")

	// a claim interrupted after creating the branch directory
	if err = os.Mkdir(filepath.Join(dir, "refs", production.Branch()), 0o750); err != nil {
		t.Fatalf("test setup %v", err)
	}

	f := newFixture(t, func(c *Config) { c.Store = refStore })

	result, err := f.locker.Lock(context.TODO(), deploylock.LockRequest{Scope: production, Actor: "octocat"})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if result.Status != deploylock.StatusClaimed {
		t.Fatalf("expected %s got %s", deploylock.StatusClaimed, result.Status)
	}

	check, err := f.locker.Check(context.TODO(), production)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !check.Locked || check.Record.CreatedBy != "octocat" {
		t.Fatalf("unexpected result %v", check)
	}
}

func fileStore(t *testing.T) store.RefStore {
	t.Helper()

	s, err := file.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("test setup %v", err)
	}
	return s
}

func redisStore(t *testing.T) store.RefStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	s, err := redisstore.New(redisstore.Config{Client: client})
	if err != nil {
		t.Fatalf("test setup %v", err)
	}
	return s
}

func TestLostRace(t *testing.T) { //nolint:funlen
	t.Parallel()

	production := deploylock.EnvironmentScope("production")

	t.Run("branch created concurrently", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.store.beforeCreate = func(string) {
			f.seed(t, production, testRecord("monalisa", production))
		}

		result, err := f.locker.Lock(context.TODO(), deploylock.LockRequest{Scope: production, Actor: "octocat"})
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if result.Status != deploylock.StatusDenied || result.Record.CreatedBy != "monalisa" {
			t.Fatalf("unexpected result %v", result)
		}
		if contended := testutil.ToFloat64(f.locker.metrics.contendedCounter); contended != 1 {
			t.Fatalf("expected 1 contention got %f", contended)
		}
	})

	t.Run("record written concurrently", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.store.beforeWrite = func(path string, ref string) {
			content, err := deploylock.EncodeRecord(testRecord("monalisa", production))
			if err != nil {
				t.Errorf("encoding record %v", err)
				return
			}
			if err = f.store.RefStore.WriteFile(context.TODO(), path, ref, content, deploylock.CommitMessage); err != nil {
				t.Errorf("writing record %v", err)
			}
		}

		result, err := f.locker.Lock(context.TODO(), deploylock.LockRequest{Scope: production, Actor: "octocat"})
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if result.Status != deploylock.StatusDenied || result.Record.CreatedBy != "monalisa" {
			t.Fatalf("unexpected result %v", result)
		}
	})

	t.Run("contended", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.store.writeErr = store.ErrAlreadyExists

		_, err := f.locker.Lock(context.TODO(), deploylock.LockRequest{Scope: production, Actor: "octocat"})
		if !errors.Is(err, deploylock.ErrContended) {
			t.Fatalf("expected %v got %v", deploylock.ErrContended, err)
		}
		if contended := testutil.ToFloat64(f.locker.metrics.contendedCounter); contended != maxAttempts {
			t.Fatalf("expected %d contentions got %f", maxAttempts, contended)
		}
	})
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	f := newFixture(t, func(c *Config) { c.Registerer = registry })

	production := deploylock.EnvironmentScope("production")
	ctx := context.TODO()

	_, _ = f.locker.Lock(ctx, deploylock.LockRequest{Scope: production, Actor: "octocat"})
	_, _ = f.locker.Lock(ctx, deploylock.LockRequest{Scope: production, Actor: "monalisa"})
	_, _ = f.locker.Lock(ctx, deploylock.LockRequest{Actor: "monalisa"})
	_, _ = f.locker.Check(ctx, production)
	_, _ = f.locker.Unlock(ctx, deploylock.UnlockRequest{Scope: production, Headless: true})
	_, _ = f.locker.Unlock(ctx, deploylock.UnlockRequest{Scope: production, Headless: true})

	for _, tc := range []struct {
		collector prometheus.Collector
		expect    float64
	}{
		{f.locker.metrics.lockCounter.WithLabelValues(string(deploylock.StatusClaimed)), 1},
		{f.locker.metrics.lockCounter.WithLabelValues(string(deploylock.StatusDenied)), 1},
		{f.locker.metrics.lockCounter.WithLabelValues("error"), 1},
		{f.locker.metrics.checkCounter.WithLabelValues("locked"), 1},
		{f.locker.metrics.unlockCounter.WithLabelValues("released"), 1},
		{f.locker.metrics.unlockCounter.WithLabelValues("not-locked"), 1},
	} {
		if value := testutil.ToFloat64(tc.collector); value != tc.expect {
			t.Fatalf("expected %f got %f", tc.expect, value)
		}
	}

	count, err := testutil.GatherAndCount(registry, "deploylock_lock_requests_total")
	if err != nil {
		t.Fatalf("gathering metrics %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 series got %d", count)
	}

	// collectors cannot be registered twice
	_, err = New(ctx, Config{Store: f.store, Registerer: registry})
	if !errors.Is(err, ErrInitializingLocker) {
		t.Fatalf("expected %v got %v", ErrInitializingLocker, err)
	}
}
