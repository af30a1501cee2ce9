// Package locker implements a lock service on top of a ref store
package locker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/lease"
	"github.com/github/deploylock/pkg/report"
	"github.com/github/deploylock/pkg/store"
)

var ErrInitializingLocker = errors.New("initializing locker") //nolint:revive

// GlobalOwnerPolicy defines how a request from the owner of the global lock is handled
type GlobalOwnerPolicy string

const (
	// RecheckScope checks the requested scope's lock after confirming the ownership of the global lock.
	// The request can still be denied if another actor holds the scope's lock.
	RecheckScope GlobalOwnerPolicy = "recheck-scope"
	// GlobalOwnerWins grants ownership of every scope to the owner of the global lock
	GlobalOwnerWins GlobalOwnerPolicy = "global-owner-wins"
)

// ParseGlobalOwnerPolicy parses a policy name. Empty defaults to RecheckScope
func ParseGlobalOwnerPolicy(policy string) (GlobalOwnerPolicy, error) {
	switch GlobalOwnerPolicy(policy) {
	case "", RecheckScope:
		return RecheckScope, nil
	case GlobalOwnerWins:
		return GlobalOwnerWins, nil
	default:
		return "", fmt.Errorf("%w: unknown global owner policy %q", deploylock.ErrInvalidConfig, policy)
	}
}

// maxAttempts bounds the claims retried after losing a race for creating a lock
const maxAttempts = 3

// default tokens used in messages and unlock commands
const (
	DefaultGlobalFlag    = "--global"
	DefaultLockTrigger   = ".lock"
	DefaultUnlockTrigger = ".unlock"
)

// Config defines the configuration of a Locker
type Config struct {
	Store store.RefStore
	// Reporter for interactive requests. Defaults to logging the messages
	Reporter report.Reporter
	// Lease serializes claims of the same scope across processes. Optional
	Lease lease.Lease
	// GlobalFlag is the command flag that requests the global scope
	GlobalFlag string
	// LockTrigger is the command that claims a lock
	LockTrigger string
	// UnlockTrigger is the command that releases a lock
	UnlockTrigger string
	// GlobalOwnerPolicy defaults to RecheckScope
	GlobalOwnerPolicy GlobalOwnerPolicy
	// Now returns the current time. Defaults to time.Now
	Now        func() time.Time
	Log        *slog.Logger
	Registerer prometheus.Registerer
}

// Locker implements the deploylock.Service interface
type Locker struct {
	store         store.RefStore
	reporter      report.Reporter
	lease         lease.Lease
	globalFlag    string
	lockTrigger   string
	unlockTrigger string
	policy        GlobalOwnerPolicy
	now           func() time.Time
	log           *slog.Logger
	metrics       *metrics
}

// New returns a Locker given its configuration
func New(_ context.Context, config Config) (*Locker, error) {
	if config.Store == nil {
		return nil, deploylock.NewWrappedError(ErrInitializingLocker, errors.New("store cannot be nil"))
	}

	policy, err := ParseGlobalOwnerPolicy(string(config.GlobalOwnerPolicy))
	if err != nil {
		return nil, deploylock.NewWrappedError(ErrInitializingLocker, err)
	}

	log := config.Log
	if log == nil {
		log = deploylock.DiscardLogger()
	}

	reporter := config.Reporter
	if reporter == nil {
		reporter = report.NewLog(log)
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	metrics := newMetrics()
	if config.Registerer != nil {
		if err = metrics.register(config.Registerer); err != nil {
			return nil, deploylock.NewWrappedError(ErrInitializingLocker, err)
		}
	}

	return &Locker{
		store:         config.Store,
		reporter:      reporter,
		lease:         config.Lease,
		globalFlag:    valueOr(config.GlobalFlag, DefaultGlobalFlag),
		lockTrigger:   valueOr(config.LockTrigger, DefaultLockTrigger),
		unlockTrigger: valueOr(config.UnlockTrigger, DefaultUnlockTrigger),
		policy:        policy,
		now:           now,
		log:           log,
		metrics:       metrics,
	}, nil
}

func valueOr(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// report sends a message to the origin of an interactive request.
// Reporting failures are logged and never change the outcome of the request.
func (l *Locker) report(ctx context.Context, msg report.Message) {
	if err := l.reporter.Report(ctx, msg); err != nil {
		l.log.Warn("reporting outcome", "error", err)
	}
}

// readRecord reads and decodes the lock record of a branch.
// Returns false if the branch or the record do not exist.
func (l *Locker) readRecord(ctx context.Context, branch string) (deploylock.Record, bool, error) {
	content, err := l.store.ReadFile(ctx, deploylock.LockFile, branch)
	if errors.Is(err, store.ErrNotFound) {
		return deploylock.Record{}, false, nil
	}
	if err != nil {
		return deploylock.Record{}, false, deploylock.NewWrappedError(deploylock.ErrAccessingLock, err)
	}

	record, err := deploylock.DecodeRecord(content)
	if err != nil {
		return deploylock.Record{}, false, err
	}

	return record, true, nil
}

// unlockCommand returns the command that releases the lock of the scope
func (l *Locker) unlockCommand(scope deploylock.Scope) string {
	if scope.IsGlobal() {
		return fmt.Sprintf("%s %s", l.unlockTrigger, l.globalFlag)
	}
	return fmt.Sprintf("%s %s", l.unlockTrigger, scope)
}
