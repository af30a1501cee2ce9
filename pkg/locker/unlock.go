package locker

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/report"
	"github.com/github/deploylock/pkg/store"
)

// Unlock releases the lock of the request's scope by deleting its branch.
// Releasing a scope that is not locked succeeds.
func (l *Locker) Unlock(ctx context.Context, req deploylock.UnlockRequest) (result deploylock.UnlockResult, unlockErr error) {
	timer := prometheus.NewTimer(l.metrics.requestsHistogram.WithLabelValues("unlock"))
	defer func() {
		timer.ObserveDuration()
		switch {
		case unlockErr != nil:
			l.metrics.unlockCounter.WithLabelValues("error").Inc()
		case result.Message == msgNoLockSet || result.Message == msgHeadlessNoLock:
			l.metrics.unlockCounter.WithLabelValues("not-locked").Inc()
		default:
			l.metrics.unlockCounter.WithLabelValues("released").Inc()
		}
	}()

	if req.Scope.IsZero() {
		return deploylock.UnlockResult{}, deploylock.NewWrappedError(deploylock.ErrReleasingLock, deploylock.ErrInvalidScope)
	}

	branch := req.Scope.Branch()
	status, err := l.store.DeleteRef(ctx, branch)

	if errors.Is(err, store.ErrNotFound) {
		l.log.Info("no deployment lock currently set", "scope", req.Scope)
		result := deploylock.UnlockResult{Released: true, Scope: req.Scope, Message: msgHeadlessNoLock}
		if !req.Headless {
			result.Message = msgNoLockSet
			l.report(ctx, report.Message{
				Origin:   req.Origin,
				TargetID: req.TargetID,
				Body:     msgNoLockSet,
				Success:  true,
				Silent:   true,
			})
		}
		return result, nil
	}

	if err == nil && status != store.StatusDeleted {
		err = deploylock.NewWrappedError(
			deploylock.ErrUnlockFailed,
			fmt.Errorf("failed to delete lock branch: %s - HTTP: %d", branch, status),
		)
	}

	if err != nil {
		if !errors.Is(err, deploylock.ErrUnlockFailed) {
			err = deploylock.NewWrappedError(deploylock.ErrReleasingLock, err)
		}
		l.log.Info("releasing lock failed", "scope", req.Scope, "error", err)
		if !req.Headless {
			l.report(ctx, report.Message{
				Origin:   req.Origin,
				TargetID: req.TargetID,
				Body:     err.Error(),
			})
		}
		return deploylock.UnlockResult{}, err
	}

	l.log.Info("successfully removed lock", "scope", req.Scope)

	result = deploylock.UnlockResult{
		Released:       true,
		Scope:          req.Scope,
		Message:        msgHeadlessRemoved,
		GlobalReleased: req.Scope.IsGlobal(),
	}
	if !req.Headless {
		result.Message = removedMessage(req.Scope)
		l.report(ctx, report.Message{
			Origin:   req.Origin,
			TargetID: req.TargetID,
			Body:     result.Message,
			Success:  true,
			Silent:   true,
		})
	}

	return result, nil
}
