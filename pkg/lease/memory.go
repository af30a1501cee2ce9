package lease

import (
	"context"
	"sync"

	"github.com/github/deploylock"
)

// Memory is a lease service for goroutines of the same process
type Memory struct {
	mtx    sync.Mutex
	leases map[string]chan struct{}
}

// NewMemory creates a new Memory lease service
func NewMemory() *Memory {
	return &Memory{leases: map[string]chan struct{}{}}
}

func (l *Memory) slot(id string) chan struct{} {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	slot, found := l.leases[id]
	if !found {
		slot = make(chan struct{}, 1)
		l.leases[id] = slot
	}
	return slot
}

// Lock reserves the lease for the given id and returns a function that will release it
func (l *Memory) Lock(ctx context.Context, id string) (func(context.Context) error, error) {
	slot := l.slot(id)

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, deploylock.NewWrappedError(ErrLeasing, ctx.Err())
	}

	once := sync.Once{}
	return func(_ context.Context) error {
		once.Do(func() { <-slot })
		return nil
	}, nil
}
