// Package s3 implements a s3-backed ref store
package s3

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/github/deploylock"
	s3client "github.com/github/deploylock/pkg/s3/client"
	"github.com/github/deploylock/pkg/store"
)

const (
	refsPrefix = "refs/heads"
	treePrefix = "tree"
)

// Config S3 Store configuration
type Config struct {
	// Name of the S3 bucket
	Bucket string
	// S3 Client. If nil, a client is created using Endpoint and Region
	Client *s3.Client
	// AWS endpoint (used for testing)
	Endpoint string
	// AWS Region
	Region string
	// Name of the default branch
	DefaultBranch string
}

// Store a RefStore backed by a S3 bucket.
//
// A branch is an object under refs/heads/ that records its commit and a generation id.
// Files are stored under tree/<branch>/<generation>/ so a deleted and recreated branch never
// sees the files of its previous generation. Objects are created with If-None-Match: *,
// which makes creation exclusive.
type Store struct {
	bucket        string
	client        *s3.Client
	defaultBranch string
}

type ref struct {
	SHA        string `json:"sha"`
	Generation string `json:"generation"`
}

// New creates a ref store backed by a S3 bucket
func New(ctx context.Context, conf Config) (*Store, error) {
	if conf.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket name cannot be empty", store.ErrInitializingStore)
	}

	client := conf.Client
	if client == nil {
		var err error
		client, err = s3client.New(ctx, s3client.Config{
			Region:   conf.Region,
			Endpoint: conf.Endpoint,
		})
		if err != nil {
			return nil, deploylock.NewWrappedError(store.ErrInitializingStore, err)
		}
	}

	defaultBranch := conf.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = store.DefaultBranch
	}

	return &Store{
		client:        client,
		bucket:        conf.Bucket,
		defaultBranch: defaultBranch,
	}, nil
}

func refKey(name string) string {
	return path.Join(refsPrefix, name)
}

func treeKey(branch string, generation string, file string) string {
	return path.Join(treePrefix, branch, generation, file)
}

// BranchExists returns true if the branch exists
func (s *Store) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(refKey(name)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, deploylock.NewWrappedError(store.ErrAccessingStore, err)
	}
	return true, nil
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

	err = s.putExclusive(ctx, refKey(name), content)
	if isConflict(err) {
		return fmt.Errorf("%w: branch %q", store.ErrAlreadyExists, name)
	}
	if err != nil {
		return deploylock.NewWrappedError(store.ErrWritingStore, err)
	}
	return nil
}

// DefaultBranchHead returns the commit at the head of the default branch.
// The default branch is initialized with a synthetic root commit the first time it is accessed.
func (s *Store) DefaultBranchHead(ctx context.Context) (string, error) {
	head, err := s.getRef(ctx, s.defaultBranch)
	if err == nil {
		return head.SHA, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	root := fmt.Sprintf("%x", sha1.Sum([]byte(uuid.NewString()))) //nolint:gosec
	err = s.CreateBranch(ctx, s.defaultBranch, root)
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return "", err
	}

	head, err = s.getRef(ctx, s.defaultBranch)
	if err != nil {
		return "", err
	}
	return head.SHA, nil
}

// ReadFile returns the content of the file in the given ref
func (s *Store) ReadFile(ctx context.Context, file string, branch string) ([]byte, error) {
	head, err := s.getRef(ctx, branch)
	if err != nil {
		return nil, err
	}

	content, err := s.getObject(ctx, treeKey(branch, head.Generation, file))
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: file %q in %q", store.ErrNotFound, file, branch)
	}
	if err != nil {
		return nil, deploylock.NewWrappedError(store.ErrAccessingStore, err)
	}

	return content, nil
}

// WriteFile creates the file in the given ref
func (s *Store) WriteFile(ctx context.Context, file string, branch string, content []byte, _ string) error {
	if err := store.ValidateName(file); err != nil {
		return deploylock.NewWrappedError(store.ErrInvalidName, err)
	}

	head, err := s.getRef(ctx, branch)
	if err != nil {
		return err
	}

	err = s.putExclusive(ctx, treeKey(branch, head.Generation, file), content)
	if isConflict(err) {
		return fmt.Errorf("%w: file %q in %q", store.ErrAlreadyExists, file, branch)
	}
	if err != nil {
		return deploylock.NewWrappedError(store.ErrWritingStore, err)
	}
	return nil
}

// DeleteRef deletes the branch and its files
func (s *Store) DeleteRef(ctx context.Context, name string) (int, error) {
	head, err := s.getRef(ctx, name)
	if err != nil {
		return 0, err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(refKey(name)),
	})
	if err != nil {
		return 0, deploylock.NewWrappedError(store.ErrWritingStore, err)
	}

	// files of the deleted generation are unreachable from now on
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(treeKey(name, head.Generation, "") + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, deploylock.NewWrappedError(store.ErrWritingStore, err)
		}
		for _, object := range page.Contents {
			_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    object.Key,
			})
			if err != nil {
				return 0, deploylock.NewWrappedError(store.ErrWritingStore, err)
			}
		}
	}

	return store.StatusDeleted, nil
}

func (s *Store) getRef(ctx context.Context, name string) (ref, error) {
	content, err := s.getObject(ctx, refKey(name))
	if isNotFound(err) {
		return ref{}, fmt.Errorf("%w: branch %q", store.ErrNotFound, name)
	}
	if err != nil {
		return ref{}, deploylock.NewWrappedError(store.ErrAccessingStore, err)
	}

	head := ref{}
	if err = json.Unmarshal(content, &head); err != nil {
		return ref{}, deploylock.NewWrappedError(store.ErrAccessingStore, err)
	}
	return head, nil
}

func (s *Store) getObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close() //nolint:errcheck

	return io.ReadAll(obj.Body)
}

func (s *Store) putExclusive(ctx context.Context, key string, content []byte) error {
	checksum := sha256.Sum256(content)
	_, err := s.client.PutObject(
		ctx,
		&s3.PutObjectInput{
			Bucket:            aws.String(s.bucket),
			Key:               aws.String(key),
			Body:              bytes.NewReader(content),
			ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
			ChecksumSHA256:    aws.String(base64.StdEncoding.EncodeToString(checksum[:])),
			IfNoneMatch:       aws.String("*"),
		},
	)
	return err
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey"
	}

	return false
}

// isConflict returns true if a conditional write failed because the object exists
func isConflict(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	default:
		return false
	}
}
