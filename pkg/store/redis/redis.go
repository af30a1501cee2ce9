// Package redis implements a redis-backed ref store
package redis

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/store"
)

// DefaultPrefix is the prefix of the keys used by the store if none is configured
const DefaultPrefix = "deploylock"

const scanBatch = 100

// escapes the characters with a meaning in SCAN match patterns
var globEscaper = strings.NewReplacer( //nolint:gochecknoglobals
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

// deletes the key only if it still holds the expected value
var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Config redis store configuration
type Config struct {
	// Redis client. Required
	Client redis.UniversalClient
	// Prefix for the keys. Defaults to DefaultPrefix
	Prefix string
	// Name of the default branch
	DefaultBranch string
}

// Store a RefStore backed by redis.
//
// Branches are keys holding their commit and a generation id, created with SETNX.
// Files are keyed by the branch generation, so files of a deleted branch are never
// visible to a branch recreated with the same name.
type Store struct {
	client        redis.UniversalClient
	prefix        string
	defaultBranch string
}

type ref struct {
	SHA        string `json:"sha"`
	Generation string `json:"generation"`
}

// New returns a redis backed store
func New(conf Config) (*Store, error) {
	if conf.Client == nil {
		return nil, fmt.Errorf("%w: redis client is required", store.ErrInitializingStore)
	}

	prefix := conf.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	defaultBranch := conf.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = store.DefaultBranch
	}

	return &Store{
		client:        conf.Client,
		prefix:        prefix,
		defaultBranch: defaultBranch,
	}, nil
}

func (s *Store) refKey(name string) string {
	return fmt.Sprintf("%s:refs:%s", s.prefix, name)
}

func (s *Store) treeKey(name string, generation string, path string) string {
	return fmt.Sprintf("%s:tree:%s:%s:%s", s.prefix, name, generation, path)
}

// BranchExists returns true if the branch exists
func (s *Store) BranchExists(ctx context.Context, name string) (bool, error) {
	count, err := s.client.Exists(ctx, s.refKey(name)).Result()
	if err != nil {
		return false, deploylock.NewWrappedError(store.ErrAccessingStore, err)
	}
	return count > 0, nil
}

// CreateBranch creates a branch pointing to the given commit
func (s *Store) CreateBranch(ctx context.Context, name string, sha string) error {
	if err := store.ValidateName(name); err != nil {
		return deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	content, err := json.Marshal(ref{SHA: sha, Generation: uuid.NewString()})
	if err != nil {
		return deploylock.NewWrappedError(store.ErrWritingStore, err)
	}

	created, err := s.client.SetNX(ctx, s.refKey(name), content, 0).Result()
	if err != nil {
		return deploylock.NewWrappedError(store.ErrWritingStore, err)
	}
	if !created {
		return fmt.Errorf("%w: branch %q", store.ErrAlreadyExists, name)
	}
	return nil
}

// DefaultBranchHead returns the commit at the head of the default branch.
// The default branch is initialized with a synthetic root commit the first time it is accessed.
func (s *Store) DefaultBranchHead(ctx context.Context) (string, error) {
	root := fmt.Sprintf("%x", sha1.Sum([]byte(uuid.NewString()))) //nolint:gosec
	err := s.CreateBranch(ctx, s.defaultBranch, root)
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return "", err
	}

	head, _, err := s.getRef(ctx, s.defaultBranch)
	if err != nil {
		return "", err
	}
	return head.SHA, nil
}

// ReadFile returns the content of the file in the given ref
func (s *Store) ReadFile(ctx context.Context, path string, branch string) ([]byte, error) {
	head, _, err := s.getRef(ctx, branch)
	if err != nil {
		return nil, err
	}

	content, err := s.client.Get(ctx, s.treeKey(branch, head.Generation, path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: file %q in %q", store.ErrNotFound, path, branch)
	}
	if err != nil {
		return nil, deploylock.NewWrappedError(store.ErrAccessingStore, err)
	}
	return content, nil
}

// WriteFile creates the file in the given ref
func (s *Store) WriteFile(ctx context.Context, path string, branch string, content []byte, _ string) error {
	if err := store.ValidateName(path); err != nil {
		return deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	head, _, err := s.getRef(ctx, branch)
	if err != nil {
		return err
	}

	created, err := s.client.SetNX(ctx, s.treeKey(branch, head.Generation, path), content, 0).Result()
	if err != nil {
		return deploylock.NewWrappedError(store.ErrWritingStore, err)
	}
	if !created {
		return fmt.Errorf("%w: file %q in %q", store.ErrAlreadyExists, path, branch)
	}
	return nil
}

// DeleteRef deletes the branch and its files
func (s *Store) DeleteRef(ctx context.Context, name string) (int, error) {
	head, raw, err := s.getRef(ctx, name)
	if err != nil {
		return 0, err
	}

	deleted, err := delScript.Run(ctx, s.client, []string{s.refKey(name)}, raw).Int()
	if err != nil {
		return 0, deploylock.NewWrappedError(store.ErrWritingStore, err)
	}
	// deleted or replaced by someone else in the meantime
	if deleted == 0 {
		return 0, fmt.Errorf("%w: branch %q", store.ErrNotFound, name)
	}

	pattern := globEscaper.Replace(s.treeKey(name, head.Generation, "")) + "*"
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	keys := []string{}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err = iter.Err(); err != nil {
		return 0, deploylock.NewWrappedError(store.ErrWritingStore, err)
	}

	if len(keys) > 0 {
		if err = s.client.Del(ctx, keys...).Err(); err != nil {
			return 0, deploylock.NewWrappedError(store.ErrWritingStore, err)
		}
	}

	return store.StatusDeleted, nil
}

// returns the parsed ref and its raw content
func (s *Store) getRef(ctx context.Context, name string) (ref, string, error) {
	raw, err := s.client.Get(ctx, s.refKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return ref{}, "", fmt.Errorf("%w: branch %q", store.ErrNotFound, name)
	}
	if err != nil {
		return ref{}, "", deploylock.NewWrappedError(store.ErrAccessingStore, err)
	}

	head := ref{}
	if err = json.Unmarshal([]byte(raw), &head); err != nil {
		return ref{}, "", deploylock.NewWrappedError(store.ErrAccessingStore, err)
	}
	return head, raw, nil
}
