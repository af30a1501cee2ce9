// Package scope resolves the target scope of lock commands
package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/report"
)

var (
	ErrNoTarget   = errors.New("no matching environment target") //nolint:revive
	ErrNotCommand = errors.New("not a lock command")             //nolint:revive
)

// ReasonFlag introduces the reason of a lock. It consumes the rest of the line.
const ReasonFlag = "--reason"

// DefaultInfoFlags are the flags that turn a command into a details request
var DefaultInfoFlags = []string{"--info", "--i", "-i", "-d", "--details", "--d"} //nolint:gochecknoglobals

// Kind of command
type Kind string

const (
	// KindLock claims a lock
	KindLock Kind = "lock"
	// KindUnlock releases a lock
	KindUnlock Kind = "unlock"
	// KindInfo queries the details of a lock
	KindInfo Kind = "info"
)

// Tokens configures the vocabulary of lock commands
type Tokens struct {
	LockTrigger   string
	UnlockTrigger string
	InfoAlias     string
	GlobalFlag    string
	InfoFlags     []string
	// DefaultEnvironment is used when the command names no environment
	DefaultEnvironment string
	// Environments are the valid environment targets
	Environments []string
}

// DefaultTokens returns the default command vocabulary
func DefaultTokens() Tokens {
	return Tokens{
		LockTrigger:        ".lock",
		UnlockTrigger:      ".unlock",
		InfoAlias:          ".wcid",
		GlobalFlag:         "--global",
		InfoFlags:          DefaultInfoFlags,
		DefaultEnvironment: "production",
		Environments:       []string{"production"},
	}
}

// Validate checks the tokens are usable
func (t Tokens) Validate() error {
	for name, value := range map[string]string{
		"lock trigger":        t.LockTrigger,
		"unlock trigger":      t.UnlockTrigger,
		"info alias":          t.InfoAlias,
		"global flag":         t.GlobalFlag,
		"default environment": t.DefaultEnvironment,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s cannot be empty", deploylock.ErrInvalidConfig, name)
		}
		if strings.ContainsFunc(strings.TrimSpace(value), unicode.IsSpace) {
			return fmt.Errorf("%w: %s cannot contain spaces: %q", deploylock.ErrInvalidConfig, name, value)
		}
	}

	for _, env := range t.Environments {
		if _, err := deploylock.ParseScope(env); err != nil {
			return fmt.Errorf("%w: environment %w", deploylock.ErrInvalidConfig, err)
		}
	}

	return nil
}

// Command is a parsed lock command
type Command struct {
	Kind  Kind
	Scope deploylock.Scope
	// Details is set when only the lock details are requested
	Details bool
	// Reason given with --reason, if any
	Reason string
}

// Resolver parses commands and resolves their scope
type Resolver struct {
	tokens   Tokens
	reporter report.Reporter
	log      *slog.Logger
}

// NewResolver returns a resolver for the given vocabulary. A nil reporter or logger discards messages.
func NewResolver(tokens Tokens, reporter report.Reporter, log *slog.Logger) *Resolver {
	if log == nil {
		log = deploylock.DiscardLogger()
	}
	if reporter == nil {
		reporter = report.NewLog(log)
	}
	if len(tokens.InfoFlags) == 0 {
		tokens.InfoFlags = DefaultInfoFlags
	}
	return &Resolver{tokens: tokens, reporter: reporter, log: log}
}

// Resolve parses the command. If it names no valid environment, a diagnostic listing the valid
// targets is reported to the origin and ErrNoTarget is returned.
func (r *Resolver) Resolve(ctx context.Context, body string, origin deploylock.Origin, targetID int64) (Command, error) {
	cmd, err := r.Parse(body)
	if !errors.Is(err, ErrNoTarget) {
		return cmd, err
	}

	targets := strings.Join(r.tokens.Environments, ",")
	message := fmt.Sprintf(
		"No matching environment target found. Please check your command and try again.\n\n"+
			"> The following environment targets are available: `%s`",
		targets,
	)
	r.log.Warn(message)

	reportErr := r.reporter.Report(ctx, report.Message{
		Origin:   origin,
		TargetID: targetID,
		Body:     "### ⚠️ Cannot proceed with lock/unlock request\n\n" + message,
	})
	if reportErr != nil {
		r.log.Warn("reporting failed", "error", reportErr)
	}

	return cmd, err
}

// Parse parses a command with the grammar
//
//	TRIGGER [ENVIRONMENT] [FLAG...] [--reason REST OF LINE]
//
// where the flags are the info flags and the global flag, in any position after the trigger.
// The global flag selects the global scope regardless of other arguments.
func (r *Resolver) Parse(body string) (Command, error) {
	head, reason := splitReason(strings.TrimSpace(body))
	fields := strings.Fields(head)
	if len(fields) == 0 {
		return Command{}, ErrNotCommand
	}

	cmd := Command{Reason: reason}
	switch fields[0] {
	case r.tokens.LockTrigger:
		cmd.Kind = KindLock
	case r.tokens.UnlockTrigger:
		cmd.Kind = KindUnlock
	case r.tokens.InfoAlias:
		cmd.Kind = KindInfo
		cmd.Details = true
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrNotCommand, fields[0])
	}

	args := []string{}
	global := false
	for _, arg := range fields[1:] {
		switch {
		case arg == r.tokens.GlobalFlag:
			global = true
		case slices.Contains(r.tokens.InfoFlags, arg):
			cmd.Details = true
		default:
			args = append(args, arg)
		}
	}

	if cmd.Details {
		cmd.Kind = KindInfo
	}

	switch {
	case global:
		r.log.Debug("global lock flag found in command")
		cmd.Scope = deploylock.GlobalScope()
	case len(args) == 0:
		r.log.Debug("using default environment", "kind", cmd.Kind)
		cmd.Scope = deploylock.EnvironmentScope(r.tokens.DefaultEnvironment)
	case len(args) == 1 && slices.Contains(r.tokens.Environments, args[0]):
		r.log.Debug("found environment target", "kind", cmd.Kind, "environment", args[0])
		cmd.Scope = deploylock.EnvironmentScope(args[0])
	default:
		return cmd, fmt.Errorf("%w: %q", ErrNoTarget, strings.Join(args, " "))
	}

	return cmd, nil
}

// splitReason splits the body at the first --reason flag
func splitReason(body string) (string, string) {
	offset := 0
	rest := body
	for {
		idx := strings.Index(rest, ReasonFlag)
		if idx < 0 {
			return body, ""
		}

		start := offset + idx
		end := start + len(ReasonFlag)
		// the flag must be a token on its own
		before := start == 0 || unicode.IsSpace(rune(body[start-1]))
		after := end == len(body) || unicode.IsSpace(rune(body[end]))
		if before && after {
			return body[:start], strings.TrimSpace(body[end:])
		}

		offset = end
		rest = body[end:]
	}
}
