package locker

import (
	"fmt"
	"strings"
	"time"

	"github.com/github/deploylock"
)

const (
	msgClaimed = "### 🔒 Deployment Lock Claimed\n\n" +
		"You are now the only user that can trigger deployments until the deployment lock is removed\n\n" +
		"> This lock is _sticky_ and will persist until someone runs `%s`"

	msgRemoved = "### 🔓 Deployment Lock Removed\n\n" +
		"The %s deployment lock has been successfully removed"

	msgNoLockSet = "🔓 There is currently no deployment lock set"

	msgHeadlessRemoved = "removed lock - headless"
	msgHeadlessNoLock  = "no deployment lock currently set - headless"
)

// lockLink returns the link to the lock file of the record
func lockLink(origin deploylock.Origin, record deploylock.Record) string {
	return origin.LockLink(record.Scope().Branch())
}

// describe returns "global" or "`env` environment"
func describe(record deploylock.Record) string {
	if record.Global {
		return "global"
	}
	return fmt.Sprintf("`%s` environment", record.Environment)
}

func claimedMessage(unlockTrigger string) string {
	return fmt.Sprintf(msgClaimed, unlockTrigger)
}

func removedMessage(scope deploylock.Scope) string {
	if scope.IsGlobal() {
		return fmt.Sprintf(msgRemoved, "`global`")
	}
	return fmt.Sprintf(msgRemoved, fmt.Sprintf("`%s` environment", scope))
}

func ownerMessage(actor string, record deploylock.Record, now time.Time) string {
	return fmt.Sprintf(
		"### 🔒 Deployment Lock Information\n\n"+
			"__%s__, you are already the owner of the current %s deployment lock\n\n"+
			"The current lock has been active for `%s`\n\n"+
			"> If you need to release the lock, please comment `%s`",
		actor,
		describe(record),
		record.Age(now),
		record.UnlockCommand,
	)
}

// denialMessage renders the details of the lock that denied a request
func denialMessage(req deploylock.LockRequest, record deploylock.Record, now time.Time) string {
	header := "proceed with deployment"
	if req.Sticky {
		header = "claim deployment lock"
	}

	var lockText string
	if record.Global {
		lockText = fmt.Sprintf(
			"the `global` deployment lock is currently claimed by __%s__\n\n"+
				"A `global` deployment lock prevents all other users from deploying to any environment "+
				"except for the owner of the lock",
			record.CreatedBy,
		)
	} else {
		lockText = fmt.Sprintf(
			"the `%s` environment deployment lock is currently claimed by __%s__",
			record.Environment,
			record.CreatedBy,
		)
	}

	details := []string{}
	if record.Reason != "" {
		details = append(details, fmt.Sprintf("- __Reason__: `%s`", record.Reason))
	}
	if !record.Global {
		details = append(details, fmt.Sprintf("- __Environment__: `%s`", record.Environment))
	}
	details = append(details,
		fmt.Sprintf("- __Branch__: `%s`", record.Branch),
		fmt.Sprintf("- __Created At__: `%s`", record.CreatedAt.UTC().Format(time.RFC3339)),
		fmt.Sprintf("- __Created By__: `%s`", record.CreatedBy),
		fmt.Sprintf("- __Sticky__: `%t`", record.Sticky),
		fmt.Sprintf("- __Global__: `%t`", record.Global),
		fmt.Sprintf("- __Comment Link__: [click here](%s)", record.Link),
		fmt.Sprintf("- __Lock Link__: [click here](%s)", lockLink(req.Origin, record)),
	)

	return fmt.Sprintf(
		"### ⚠️ Cannot %s\n\n"+
			"Sorry __%s__, %s\n\n"+
			"#### Lock Details 🔒\n\n"+
			"%s\n\n"+
			"The current lock has been active for `%s`\n\n"+
			"> If you need to release the lock, please comment `%s`",
		header,
		req.Actor,
		lockText,
		strings.Join(details, "\n"),
		record.Age(now),
		record.UnlockCommand,
	)
}

// detailsMessage renders the details of a lock for an info request
func detailsMessage(origin deploylock.Origin, record deploylock.Record, now time.Time) string {
	reason := record.Reason
	if reason == "" {
		reason = "none"
	}

	return fmt.Sprintf(
		"### Lock Details 🔒\n\n"+
			"The %s deployment lock is currently claimed by __%s__\n\n"+
			"- __Reason__: `%s`\n"+
			"- __Branch__: `%s`\n"+
			"- __Created At__: `%s`\n"+
			"- __Created By__: `%s`\n"+
			"- __Sticky__: `%t`\n"+
			"- __Global__: `%t`\n"+
			"- __Lock Set Link__: [click here](%s)\n"+
			"- __Lock Link__: [click here](%s)\n\n"+
			"The current lock has been active for `%s`\n\n"+
			"> If you need to release the lock, please comment `%s`",
		describe(record),
		record.CreatedBy,
		reason,
		record.Branch,
		record.CreatedAt.UTC().Format(time.RFC3339),
		record.CreatedBy,
		record.Sticky,
		record.Global,
		record.Link,
		lockLink(origin, record),
		record.Age(now),
		record.UnlockCommand,
	)
}

// noLockMessage is the answer to an info request when no lock applies
func noLockMessage(origin deploylock.Origin, scope deploylock.Scope, lockTrigger string) string {
	target := fmt.Sprintf("the `%s` environment", scope)
	if scope.IsGlobal() {
		target = "the `global` scope"
	}

	return fmt.Sprintf(
		"### Lock Details 🔒\n\n"+
			"No active deployment locks found for %s in the `%s` repository\n\n"+
			"> If you need to create a lock, please comment `%s`",
		target,
		origin.Repository,
		lockTrigger,
	)
}
