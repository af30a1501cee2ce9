package locker

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/github/deploylock"
)

// Check reports if the scope is locked. A global lock takes precedence over the scope's lock.
// Records that cannot be decoded are reported as not locked.
func (l *Locker) Check(ctx context.Context, scope deploylock.Scope) (result deploylock.CheckResult, checkErr error) {
	timer := prometheus.NewTimer(l.metrics.requestsHistogram.WithLabelValues("check"))
	defer func() {
		timer.ObserveDuration()
		switch {
		case checkErr != nil:
			l.metrics.checkCounter.WithLabelValues("error").Inc()
		case result.Locked:
			l.metrics.checkCounter.WithLabelValues("locked").Inc()
		default:
			l.metrics.checkCounter.WithLabelValues("unlocked").Inc()
		}
	}()

	if scope.IsZero() {
		return deploylock.CheckResult{}, deploylock.NewWrappedError(deploylock.ErrAccessingLock, deploylock.ErrInvalidScope)
	}

	global := deploylock.GlobalScope()
	record, found, err := l.checkRecord(ctx, global)
	if err != nil {
		return deploylock.CheckResult{}, err
	}
	if found {
		return deploylock.CheckResult{Locked: true, Scope: global, Record: &record}, nil
	}

	if scope.IsGlobal() {
		return deploylock.CheckResult{Scope: scope}, nil
	}

	record, found, err = l.checkRecord(ctx, scope)
	if err != nil {
		return deploylock.CheckResult{}, err
	}
	if !found {
		return deploylock.CheckResult{Scope: scope}, nil
	}

	return deploylock.CheckResult{Locked: true, Scope: scope, Record: &record}, nil
}

// checkRecord returns the record of the scope's lock, if its branch and its record exist
func (l *Locker) checkRecord(ctx context.Context, scope deploylock.Scope) (deploylock.Record, bool, error) {
	exists, err := l.store.BranchExists(ctx, scope.Branch())
	if err != nil {
		return deploylock.Record{}, false, deploylock.NewWrappedError(deploylock.ErrAccessingLock, err)
	}
	if !exists {
		return deploylock.Record{}, false, nil
	}

	record, found, err := l.readRecord(ctx, scope.Branch())
	if errors.Is(err, deploylock.ErrDecodingRecord) {
		l.log.Warn(
			"lock file exists, but cannot be decoded - setting locked to false",
			"scope", scope,
			"error", err,
		)
		return deploylock.Record{}, false, nil
	}
	if err != nil {
		return deploylock.Record{}, false, err
	}

	return record, found, nil
}
