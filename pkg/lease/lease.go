// Package lease defines the interface of a lease service used for serializing
// the creation of locks across processes
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConfig  = errors.New("error configuring lease") //nolint:revive
	ErrLeasing = errors.New("error leasing")           //nolint:revive
)

// DefaultLeaseDuration is the time after which an unreleased lease is considered abandoned
const DefaultLeaseDuration = time.Minute

// Lease defines the interface for a lease service
type Lease interface {
	// Lock reserves a lease for the given id and returns a function that will release it.
	// While holding the lease, no other process should be able to reserve the same id.
	// Lock blocks until the lease is obtained or the context is done.
	Lock(ctx context.Context, id string) (func(context.Context) error, error)
}
