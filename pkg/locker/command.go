package locker

import (
	"context"
	"fmt"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/report"
	"github.com/github/deploylock/pkg/scope"
)

// CommandRequest is a command issued interactively, e.g. as a comment in a pull request
type CommandRequest struct {
	Command scope.Command
	Actor   string
	// Ref is the branch of the pull request the command was issued on
	Ref      string
	Origin   deploylock.Origin
	TargetID int64
}

// CommandResult is the outcome of a command. Only the field matching the command's kind is set.
type CommandResult struct {
	Kind   scope.Kind               `json:"kind"`
	Lock   *deploylock.LockResult   `json:"lock,omitempty"`
	Unlock *deploylock.UnlockResult `json:"unlock,omitempty"`
}

// Run executes an interactive command and reports its outcome to its origin.
// A denied lock returns the result along with ErrLockDenied.
func (l *Locker) Run(ctx context.Context, req CommandRequest) (CommandResult, error) {
	cmd := req.Command
	result := CommandResult{Kind: cmd.Kind}

	switch cmd.Kind {
	case scope.KindInfo:
		lock, err := l.Lock(ctx, deploylock.LockRequest{
			Scope:       cmd.Scope,
			Actor:       req.Actor,
			DetailsOnly: true,
			Origin:      req.Origin,
			TargetID:    req.TargetID,
		})
		if err != nil {
			l.reportError(ctx, req, err)
			return result, err
		}
		result.Lock = &lock
		l.reportDetails(ctx, req, lock)
		return result, nil

	case scope.KindLock:
		lock, err := l.Lock(ctx, deploylock.LockRequest{
			Scope:    cmd.Scope,
			Actor:    req.Actor,
			Ref:      req.Ref,
			Sticky:   true,
			Reason:   cmd.Reason,
			Origin:   req.Origin,
			TargetID: req.TargetID,
		})
		if err != nil {
			l.reportError(ctx, req, err)
			return result, err
		}
		result.Lock = &lock
		if lock.Status == deploylock.StatusDenied {
			return result, deploylock.NewWrappedError(
				deploylock.ErrLockDenied,
				fmt.Errorf("held by %s", lock.Record.CreatedBy),
			)
		}
		return result, nil

	case scope.KindUnlock:
		// unlock reports its own failures
		unlock, err := l.Unlock(ctx, deploylock.UnlockRequest{
			Scope:    cmd.Scope,
			Origin:   req.Origin,
			TargetID: req.TargetID,
		})
		if err != nil {
			return result, err
		}
		result.Unlock = &unlock
		return result, nil

	default:
		return result, fmt.Errorf("%w: unknown command %q", scope.ErrNotCommand, cmd.Kind)
	}
}

func (l *Locker) reportDetails(ctx context.Context, req CommandRequest, lock deploylock.LockResult) {
	var body string
	if lock.Record != nil {
		body = detailsMessage(req.Origin, *lock.Record, l.now())
		l.log.Info("the deployment lock is currently claimed", "owner", lock.Record.CreatedBy)
	} else {
		body = noLockMessage(req.Origin, lock.Scope, l.lockTrigger)
		l.log.Info("no active deployment locks found", "scope", lock.Scope)
	}

	l.report(ctx, report.Message{
		Origin:   req.Origin,
		TargetID: req.TargetID,
		Body:     body,
		Success:  true,
		Silent:   true,
	})
}

func (l *Locker) reportError(ctx context.Context, req CommandRequest, err error) {
	l.report(ctx, report.Message{
		Origin:   req.Origin,
		TargetID: req.TargetID,
		Body:     err.Error(),
	})
}
