package locker

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/report"
	"github.com/github/deploylock/pkg/store"
	"github.com/github/deploylock/pkg/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	testNow    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	testOrigin = deploylock.Origin{ //nolint:gochecknoglobals
		ServerURL:  "https://github.com",
		Repository: "octo/app",
		Issue:      42,
		CommentID:  1001,
		RunID:      7,
	}
)

type fixture struct {
	store    *interceptStore
	recorder *report.Recorder
	locker   *Locker
}

func newFixture(t *testing.T, modify ...func(*Config)) fixture {
	t.Helper()

	s := &interceptStore{RefStore: memory.New()}
	recorder := report.NewRecorder(nil)
	config := Config{
		Store:    s,
		Reporter: recorder,
		Now:      func() time.Time { return testNow },
	}
	for _, m := range modify {
		m(&config)
	}

	l, err := New(context.TODO(), config)
	if err != nil {
		t.Fatalf("test setup %v", err)
	}

	return fixture{store: s, recorder: recorder, locker: l}
}

// seed writes a lock record for the scope
func (f fixture) seed(t *testing.T, scope deploylock.Scope, record deploylock.Record) {
	t.Helper()

	f.seedRaw(t, scope, nil)

	content, err := deploylock.EncodeRecord(record)
	if err != nil {
		t.Fatalf("encoding record %v", err)
	}
	err = f.store.RefStore.WriteFile(context.TODO(), deploylock.LockFile, scope.Branch(), content, deploylock.CommitMessage)
	if err != nil {
		t.Fatalf("writing record %v", err)
	}
}

// seedRaw creates the scope's branch and, if content is not nil, writes it as the lock file
func (f fixture) seedRaw(t *testing.T, scope deploylock.Scope, content []byte) {
	t.Helper()

	ctx := context.TODO()
	head, err := f.store.RefStore.DefaultBranchHead(ctx)
	if err != nil {
		t.Fatalf("getting head %v", err)
	}
	if err = f.store.RefStore.CreateBranch(ctx, scope.Branch(), head); err != nil {
		t.Fatalf("creating branch %v", err)
	}
	if content == nil {
		return
	}
	err = f.store.RefStore.WriteFile(ctx, deploylock.LockFile, scope.Branch(), content, deploylock.CommitMessage)
	if err != nil {
		t.Fatalf("writing lock file %v", err)
	}
}

func testRecord(actor string, scope deploylock.Scope) deploylock.Record {
	unlock := ".unlock " + scope.String()
	if scope.IsGlobal() {
		unlock = ".unlock --global"
	}
	return deploylock.Record{
		Reason:        "testing",
		Branch:        "feature",
		CreatedAt:     testNow.Add(-90 * time.Minute),
		CreatedBy:     actor,
		Sticky:        true,
		Environment:   scope.String(),
		Global:        scope.IsGlobal(),
		UnlockCommand: unlock,
		Link:          "https://github.com/octo/app/pull/1#issuecomment-1",
	}
}

// interceptStore allows intercepting the operations of a store
type interceptStore struct {
	store.RefStore

	mtx sync.Mutex
	// called before creating a branch
	beforeCreate func(name string)
	// called before writing a file
	beforeWrite func(path string, ref string)
	// returned by WriteFile, if set
	writeErr error
	// returned by ReadFile, if set
	readErr error
	// returned by DeleteRef, if set
	deleteStatus int
	deleteErr    error
}

func (s *interceptStore) CreateBranch(ctx context.Context, name string, sha string) error {
	s.mtx.Lock()
	hook := s.beforeCreate
	s.beforeCreate = nil
	s.mtx.Unlock()

	if hook != nil {
		hook(name)
	}
	return s.RefStore.CreateBranch(ctx, name, sha)
}

func (s *interceptStore) WriteFile(ctx context.Context, path string, ref string, content []byte, msg string) error {
	s.mtx.Lock()
	hook := s.beforeWrite
	s.beforeWrite = nil
	s.mtx.Unlock()

	if hook != nil {
		hook(path, ref)
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	return s.RefStore.WriteFile(ctx, path, ref, content, msg)
}

func (s *interceptStore) ReadFile(ctx context.Context, path string, ref string) ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.RefStore.ReadFile(ctx, path, ref)
}

func (s *interceptStore) DeleteRef(ctx context.Context, name string) (int, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	if s.deleteStatus != 0 {
		return s.deleteStatus, nil
	}
	return s.RefStore.DeleteRef(ctx, name)
}
