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

// default reason of locks claimed by deployments
const deploymentReason = "deployment"

// errLostRace signals a concurrent request created the lock first
var errLostRace = errors.New("lost lock creation race")

// Lock claims the lock of the request's scope, or returns its details if DetailsOnly is set.
//
// A lock held by another actor denies the request: the result has status StatusDenied and Bypass
// set, and the error is nil. The global lock takes precedence over any scope's lock.
func (l *Locker) Lock(ctx context.Context, req deploylock.LockRequest) (result deploylock.LockResult, lockErr error) {
	timer := prometheus.NewTimer(l.metrics.requestsHistogram.WithLabelValues("lock"))
	defer func() {
		timer.ObserveDuration()
		status := string(result.Status)
		if lockErr != nil {
			status = "error"
		}
		l.metrics.lockCounter.WithLabelValues(status).Inc()
	}()

	if req.Scope.IsZero() {
		return deploylock.LockResult{}, deploylock.NewWrappedError(deploylock.ErrClaimingLock, deploylock.ErrInvalidScope)
	}
	if req.Actor == "" {
		return deploylock.LockResult{}, deploylock.NewWrappedError(
			deploylock.ErrClaimingLock,
			errors.New("actor cannot be empty"),
		)
	}

	switch {
	case req.Headless:
		req.Sticky = true
	case !req.Sticky:
		req.Reason = deploymentReason
	}

	l.log.Debug(
		"lock request",
		"scope", req.Scope,
		"branch", req.Scope.Branch(),
		"actor", req.Actor,
		"details", req.DetailsOnly,
		"headless", req.Headless,
	)

	if l.lease != nil && !req.DetailsOnly {
		release, err := l.lease.Lock(ctx, req.Scope.Branch())
		if err != nil {
			return deploylock.LockResult{}, deploylock.NewWrappedError(deploylock.ErrClaimingLock, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				l.log.Warn("releasing lease", "scope", req.Scope, "error", err)
			}
		}()
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, err := l.lock(ctx, req)
		if !errors.Is(err, errLostRace) {
			return res, err
		}

		l.metrics.contendedCounter.Inc()
		l.log.Info("lock created concurrently, checking again", "scope", req.Scope)
	}

	return deploylock.LockResult{}, deploylock.NewWrappedError(
		deploylock.ErrClaimingLock,
		fmt.Errorf("%w: %s", deploylock.ErrContended, req.Scope),
	)
}

func (l *Locker) lock(ctx context.Context, req deploylock.LockRequest) (deploylock.LockResult, error) {
	result := deploylock.LockResult{Scope: req.Scope, GlobalFlag: l.globalFlag}

	global, found, err := l.readRecord(ctx, deploylock.GlobalScope().Branch())
	if err != nil {
		return result, err
	}

	switch {
	case found && req.DetailsOnly:
		result.Status = deploylock.StatusDetailsOnly
		result.Record = &global
		return result, nil
	case !found && req.DetailsOnly && req.Scope.IsGlobal():
		result.Status = deploylock.StatusNoLock
		return result, nil
	case found && global.CreatedBy != req.Actor:
		return l.deny(ctx, req, global), nil
	case found:
		l.log.Info("requester owns the global lock", "actor", req.Actor)
		l.notifyOwner(ctx, req, global)
		if req.Scope.IsGlobal() || l.policy == GlobalOwnerWins {
			return l.owner(req, global), nil
		}
	}

	branch := req.Scope.Branch()
	exists, err := l.store.BranchExists(ctx, branch)
	if err != nil {
		return result, deploylock.NewWrappedError(deploylock.ErrAccessingLock, err)
	}

	if !exists {
		if req.DetailsOnly {
			result.Status = deploylock.StatusNoLock
			return result, nil
		}

		if err = l.createBranch(ctx, branch); err != nil {
			return result, err
		}

		return l.claim(ctx, req)
	}

	record, found, err := l.readRecord(ctx, branch)
	if err != nil {
		return result, err
	}

	switch {
	case !found && req.DetailsOnly:
		result.Status = deploylock.StatusNoLock
		return result, nil
	case !found:
		return l.claim(ctx, req)
	case req.DetailsOnly:
		result.Status = deploylock.StatusDetailsOnly
		result.Record = &record
		return result, nil
	case record.CreatedBy == req.Actor:
		l.log.Info("requester owns the lock", "actor", req.Actor, "scope", req.Scope)
		l.notifyOwner(ctx, req, record)
		return l.owner(req, record), nil
	default:
		return l.deny(ctx, req, record), nil
	}
}

func (l *Locker) createBranch(ctx context.Context, branch string) error {
	head, err := l.store.DefaultBranchHead(ctx)
	if err != nil {
		return deploylock.NewWrappedError(deploylock.ErrClaimingLock, err)
	}

	err = l.store.CreateBranch(ctx, branch, head)
	if errors.Is(err, store.ErrAlreadyExists) {
		return errLostRace
	}
	if err != nil {
		return deploylock.NewWrappedError(deploylock.ErrClaimingLock, err)
	}

	l.log.Info("created lock branch", "branch", branch)
	return nil
}

// claim writes the lock record in the scope's branch
func (l *Locker) claim(ctx context.Context, req deploylock.LockRequest) (deploylock.LockResult, error) {
	record := deploylock.Record{
		Reason:        req.Reason,
		Branch:        req.Ref,
		CreatedAt:     l.now().UTC(),
		CreatedBy:     req.Actor,
		Sticky:        req.Sticky,
		Environment:   req.Scope.String(),
		Global:        req.Scope.IsGlobal(),
		UnlockCommand: l.unlockCommand(req.Scope),
		Link:          req.Origin.CommentLink(),
	}
	if req.Headless {
		record.Branch = deploylock.HeadlessBranch
		record.Link = req.Origin.RunLink()
	}

	content, err := deploylock.EncodeRecord(record)
	if err != nil {
		return deploylock.LockResult{}, err
	}

	err = l.store.WriteFile(ctx, deploylock.LockFile, req.Scope.Branch(), content, deploylock.CommitMessage)
	// the record was written by a concurrent claim, or the branch was deleted meanwhile
	if errors.Is(err, store.ErrAlreadyExists) || errors.Is(err, store.ErrNotFound) {
		return deploylock.LockResult{}, errLostRace
	}
	if err != nil {
		return deploylock.LockResult{}, deploylock.NewWrappedError(deploylock.ErrClaimingLock, err)
	}

	l.log.Info("deployment lock obtained", "scope", req.Scope, "actor", req.Actor)

	if record.Sticky {
		msg := claimedMessage(l.unlockTrigger)
		if req.Headless {
			l.log.Info(msg)
		} else {
			l.report(ctx, report.Message{
				Origin:   req.Origin,
				TargetID: req.TargetID,
				Body:     msg,
				Success:  true,
				Silent:   true,
			})
		}
	}

	return deploylock.LockResult{
		Status:     deploylock.StatusClaimed,
		Record:     &record,
		Scope:      req.Scope,
		GlobalFlag: l.globalFlag,
	}, nil
}

func (l *Locker) owner(req deploylock.LockRequest, record deploylock.Record) deploylock.LockResult {
	status := deploylock.StatusOwner
	if req.Headless {
		status = deploylock.StatusOwnerHeadless
	}

	return deploylock.LockResult{
		Status:     status,
		Record:     &record,
		Scope:      req.Scope,
		GlobalFlag: l.globalFlag,
	}
}

// notifyOwner reminds the owner of a sticky request the lock is already theirs
func (l *Locker) notifyOwner(ctx context.Context, req deploylock.LockRequest, record deploylock.Record) {
	if !req.Sticky || req.Headless {
		return
	}

	l.report(ctx, report.Message{
		Origin:   req.Origin,
		TargetID: req.TargetID,
		Body:     ownerMessage(req.Actor, record, l.now()),
		Success:  true,
		Silent:   true,
	})
}

// deny reports the lock that denies the request
func (l *Locker) deny(ctx context.Context, req deploylock.LockRequest, record deploylock.Record) deploylock.LockResult {
	l.log.Info(
		"deployment lock denied",
		"scope", req.Scope,
		"actor", req.Actor,
		"owner", record.CreatedBy,
		"global", record.Global,
	)

	if !req.Headless {
		l.report(ctx, report.Message{
			Origin:   req.Origin,
			TargetID: req.TargetID,
			Body:     denialMessage(req, record, l.now()),
		})
	}

	return deploylock.LockResult{
		Status:     deploylock.StatusDenied,
		Record:     &record,
		Scope:      req.Scope,
		GlobalFlag: l.globalFlag,
		Bypass:     true,
	}
}
