package scope

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/report"
)

func testTokens() Tokens {
	tokens := DefaultTokens()
	tokens.Environments = []string{"production", "development", "staging"}
	return tokens
}

func TestParse(t *testing.T) { //nolint:funlen
	t.Parallel()

	production := deploylock.EnvironmentScope("production")
	development := deploylock.EnvironmentScope("development")

	testCases := []struct {
		title     string
		body      string
		expect    Command
		expectErr error
	}{
		{
			title:  "lock default environment",
			body:   ".lock",
			expect: Command{Kind: KindLock, Scope: production},
		},
		{
			title:  "unlock default environment",
			body:   ".unlock",
			expect: Command{Kind: KindUnlock, Scope: production},
		},
		{
			title:  "info alias default environment",
			body:   ".wcid",
			expect: Command{Kind: KindInfo, Scope: production, Details: true},
		},
		{
			title:  "lock explicit environment",
			body:   ".lock production",
			expect: Command{Kind: KindLock, Scope: production},
		},
		{
			title:  "unlock explicit environment",
			body:   ".unlock development",
			expect: Command{Kind: KindUnlock, Scope: development},
		},
		{
			title:  "info alias explicit environment",
			body:   ".wcid development",
			expect: Command{Kind: KindInfo, Scope: development, Details: true},
		},
		{
			title:  "info flag",
			body:   ".lock --info development",
			expect: Command{Kind: KindInfo, Scope: development, Details: true},
		},
		{
			title:  "short details flag",
			body:   ".lock -d development",
			expect: Command{Kind: KindInfo, Scope: development, Details: true},
		},
		{
			title:  "info flag global",
			body:   ".lock --info --global",
			expect: Command{Kind: KindInfo, Scope: deploylock.GlobalScope(), Details: true},
		},
		{
			title:  "global flag short circuits environments",
			body:   ".lock potato --global",
			expect: Command{Kind: KindLock, Scope: deploylock.GlobalScope()},
		},
		{
			title:  "unlock global",
			body:   ".unlock --global",
			expect: Command{Kind: KindUnlock, Scope: deploylock.GlobalScope()},
		},
		{
			title:  "reason",
			body:   ".lock staging --reason testing a  feature --global",
			expect: Command{Kind: KindLock, Scope: deploylock.EnvironmentScope("staging"), Reason: "testing a  feature --global"},
		},
		{
			title:  "empty reason",
			body:   ".lock --reason   ",
			expect: Command{Kind: KindLock, Scope: production},
		},
		{
			title:     "reason flag must be a token",
			body:      ".lock --reasonable",
			expect:    Command{Kind: KindLock},
			expectErr: ErrNoTarget,
		},
		{
			title:     "unknown environment",
			body:      ".lock -d potato",
			expect:    Command{Kind: KindInfo, Details: true},
			expectErr: ErrNoTarget,
		},
		{
			title:     "too many environments",
			body:      ".lock production staging",
			expect:    Command{Kind: KindLock},
			expectErr: ErrNoTarget,
		},
		{
			title:     "not a command",
			body:      ".deploy production",
			expectErr: ErrNotCommand,
		},
		{
			title:     "empty",
			body:      "   ",
			expectErr: ErrNotCommand,
		},
	}

	resolver := NewResolver(testTokens(), nil, nil)

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			t.Parallel()

			cmd, err := resolver.Parse(tc.body)
			if !errors.Is(err, tc.expectErr) {
				t.Fatalf("expected %v got %v", tc.expectErr, err)
			}

			if diff := cmp.Diff(tc.expect, cmd, cmp.AllowUnexported(deploylock.Scope{})); diff != "" {
				t.Fatalf("unexpected command (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveReportsDiagnostic(t *testing.T) {
	t.Parallel()

	recorder := report.NewRecorder(nil)
	resolver := NewResolver(testTokens(), recorder, nil)
	origin := deploylock.Origin{Repository: "octo/app", Issue: 1, CommentID: 2}

	_, err := resolver.Resolve(context.TODO(), ".lock -d potato", origin, 3)
	if !errors.Is(err, ErrNoTarget) {
		t.Fatalf("expected %v got %v", ErrNoTarget, err)
	}

	msg, found := recorder.Last()
	if !found {
		t.Fatalf("expected a diagnostic")
	}
	if msg.Success || msg.TargetID != 3 || msg.Origin != origin {
		t.Fatalf("unexpected message %v", msg)
	}
	for _, s := range []string{"No matching environment target found", "`production,development,staging`"} {
		if !strings.Contains(msg.Body, s) {
			t.Fatalf("expected %q in %q", s, msg.Body)
		}
	}
}

func TestResolveDoesNotReportValidCommands(t *testing.T) {
	t.Parallel()

	recorder := report.NewRecorder(nil)
	resolver := NewResolver(testTokens(), recorder, nil)

	for _, body := range []string{".lock staging", ".deploy"} {
		_, _ = resolver.Resolve(context.TODO(), body, deploylock.Origin{}, 0)
	}

	if len(recorder.Messages()) != 0 {
		t.Fatalf("unexpected messages %v", recorder.Messages())
	}
}

func TestValidateTokens(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		title     string
		modify    func(*Tokens)
		expectErr error
	}{
		{title: "defaults", modify: func(*Tokens) {}},
		{title: "empty trigger", modify: func(t *Tokens) { t.LockTrigger = "" }, expectErr: deploylock.ErrInvalidConfig},
		{title: "spaced flag", modify: func(t *Tokens) { t.GlobalFlag = "--all envs" }, expectErr: deploylock.ErrInvalidConfig},
		{
			title:     "invalid environment",
			modify:    func(t *Tokens) { t.Environments = []string{"prod/eu"} },
			expectErr: deploylock.ErrInvalidConfig,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			t.Parallel()

			tokens := DefaultTokens()
			tc.modify(&tokens)

			err := tokens.Validate()
			if !errors.Is(err, tc.expectErr) {
				t.Fatalf("expected %v got %v", tc.expectErr, err)
			}
		})
	}
}
