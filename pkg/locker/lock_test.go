package locker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/report"
)

var scopeOpt = cmp.AllowUnexported(deploylock.Scope{}) //nolint:gochecknoglobals

func TestLockClaims(t *testing.T) { //nolint:funlen
	t.Parallel()

	production := deploylock.EnvironmentScope("production")
	global := deploylock.GlobalScope()

	testCases := []struct {
		title        string
		req          deploylock.LockRequest
		expect       deploylock.Record
		expectReport bool
	}{
		{
			title: "sticky claim",
			req: deploylock.LockRequest{
				Scope: production, Actor: "octocat", Ref: "feature-x", Sticky: true, Reason: "feature X", Origin: testOrigin,
			},
			expect: deploylock.Record{
				Reason:        "feature X",
				Branch:        "feature-x",
				CreatedAt:     testNow,
				CreatedBy:     "octocat",
				Sticky:        true,
				Environment:   "production",
				UnlockCommand: ".unlock production",
				Link:          "https://github.com/octo/app/pull/42#issuecomment-1001",
			},
			expectReport: true,
		},
		{
			title: "deployment claim",
			req: deploylock.LockRequest{
				Scope: production, Actor: "octocat", Ref: "feature-x", Reason: "ignored", Origin: testOrigin,
			},
			expect: deploylock.Record{
				Reason:        "deployment",
				Branch:        "feature-x",
				CreatedAt:     testNow,
				CreatedBy:     "octocat",
				Environment:   "production",
				UnlockCommand: ".unlock production",
				Link:          "https://github.com/octo/app/pull/42#issuecomment-1001",
			},
		},
		{
			title: "headless claim",
			req: deploylock.LockRequest{
				Scope: production, Actor: "octocat", Ref: "feature-x", Headless: true, Reason: "release", Origin: testOrigin,
			},
			expect: deploylock.Record{
				Reason:        "release",
				Branch:        deploylock.HeadlessBranch,
				CreatedAt:     testNow,
				CreatedBy:     "octocat",
				Sticky:        true,
				Environment:   "production",
				UnlockCommand: ".unlock production",
				Link:          "https://github.com/octo/app/actions/runs/7",
			},
		},
		{
			title: "global claim",
			req: deploylock.LockRequest{
				Scope: global, Actor: "octocat", Ref: "feature-x", Sticky: true, Origin: testOrigin,
			},
			expect: deploylock.Record{
				Branch:        "feature-x",
				CreatedAt:     testNow,
				CreatedBy:     "octocat",
				Sticky:        true,
				Environment:   "global",
				Global:        true,
				UnlockCommand: ".unlock --global",
				Link:          "https://github.com/octo/app/pull/42#issuecomment-1001",
			},
			expectReport: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)

			result, err := f.locker.Lock(context.TODO(), tc.req)
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}

			if result.Status != deploylock.StatusClaimed {
				t.Fatalf("expected %s got %s", deploylock.StatusClaimed, result.Status)
			}
			if diff := cmp.Diff(&tc.expect, result.Record); diff != "" {
				t.Fatalf("unexpected result record (-want +got):\n%s", diff)
			}

			// the record is persisted
			content, err := f.store.ReadFile(context.TODO(), deploylock.LockFile, tc.req.Scope.Branch())
			if err != nil {
				t.Fatalf("reading record %v", err)
			}
			stored, err := deploylock.DecodeRecord(content)
			if err != nil {
				t.Fatalf("decoding record %v", err)
			}
			if diff := cmp.Diff(tc.expect, stored); diff != "" {
				t.Fatalf("unexpected stored record (-want +got):\n%s", diff)
			}

			msg, reported := f.recorder.Last()
			if reported != tc.expectReport {
				t.Fatalf("expected report %t got %t", tc.expectReport, reported)
			}
			if reported && (!msg.Success || !msg.Silent || !strings.Contains(msg.Body, "Deployment Lock Claimed")) {
				t.Fatalf("unexpected message %v", msg)
			}
		})
	}
}

func TestLockOutcomes(t *testing.T) { //nolint:funlen,maintidx
	t.Parallel()

	production := deploylock.EnvironmentScope("production")
	staging := deploylock.EnvironmentScope("staging")
	global := deploylock.GlobalScope()

	testCases := []struct {
		title        string
		seed         map[deploylock.Scope]string
		policy       GlobalOwnerPolicy
		req          deploylock.LockRequest
		expect       deploylock.Status
		expectRecord *deploylock.Record
		expectBypass bool
		expectReport []string
	}{
		{
			title:        "owner of scope lock",
			seed:         map[deploylock.Scope]string{production: "octocat"},
			req:          deploylock.LockRequest{Scope: production, Actor: "octocat"},
			expect:       deploylock.StatusOwner,
			expectRecord: ptr(testRecord("octocat", production)),
		},
		{
			title:        "sticky owner of scope lock is notified",
			seed:         map[deploylock.Scope]string{production: "octocat"},
			req:          deploylock.LockRequest{Scope: production, Actor: "octocat", Sticky: true},
			expect:       deploylock.StatusOwner,
			expectRecord: ptr(testRecord("octocat", production)),
			expectReport: []string{"you are already the owner of the current `production` environment deployment lock", "1h:30m:0s"},
		},
		{
			title:        "headless owner",
			seed:         map[deploylock.Scope]string{production: "octocat"},
			req:          deploylock.LockRequest{Scope: production, Actor: "octocat", Headless: true},
			expect:       deploylock.StatusOwnerHeadless,
			expectRecord: ptr(testRecord("octocat", production)),
		},
		{
			title:        "scope held by other",
			seed:         map[deploylock.Scope]string{production: "monalisa"},
			req:          deploylock.LockRequest{Scope: production, Actor: "octocat", Sticky: true, Origin: testOrigin},
			expect:       deploylock.StatusDenied,
			expectRecord: ptr(testRecord("monalisa", production)),
			expectBypass: true,
			expectReport: []string{
				"### ⚠️ Cannot claim deployment lock",
				"Sorry __octocat__, the `production` environment deployment lock is currently claimed by __monalisa__",
				"- __Reason__: `testing`",
				"- __Environment__: `production`",
				"- __Branch__: `feature`",
				"- __Created At__: `2024-05-01T10:30:00Z`",
				"- __Sticky__: `true`",
				"- __Global__: `false`",
				"- __Lock Link__: [click here](https://github.com/octo/app/blob/production-branch-deploy-lock/lock.json)",
				"The current lock has been active for `0d:1h:30m:0s`",
				"please comment `.unlock production`",
			},
		},
		{
			title:        "deployment denied by scope lock",
			seed:         map[deploylock.Scope]string{production: "monalisa"},
			req:          deploylock.LockRequest{Scope: production, Actor: "octocat"},
			expect:       deploylock.StatusDenied,
			expectRecord: ptr(testRecord("monalisa", production)),
			expectBypass: true,
			expectReport: []string{"### ⚠️ Cannot proceed with deployment"},
		},
		{
			title:        "headless denial is not reported",
			seed:         map[deploylock.Scope]string{production: "monalisa"},
			req:          deploylock.LockRequest{Scope: production, Actor: "octocat", Headless: true},
			expect:       deploylock.StatusDenied,
			expectRecord: ptr(testRecord("monalisa", production)),
			expectBypass: true,
		},
		{
			title:        "global lock denies other scopes",
			seed:         map[deploylock.Scope]string{global: "monalisa"},
			req:          deploylock.LockRequest{Scope: staging, Actor: "octocat", Sticky: true, Origin: testOrigin},
			expect:       deploylock.StatusDenied,
			expectRecord: ptr(testRecord("monalisa", global)),
			expectBypass: true,
			expectReport: []string{
				"the `global` deployment lock is currently claimed by __monalisa__",
				"- __Global__: `true`",
				"blob/global-branch-deploy-lock/lock.json",
				"please comment `.unlock --global`",
			},
		},
		{
			title:        "global lock denies global",
			seed:         map[deploylock.Scope]string{global: "monalisa"},
			req:          deploylock.LockRequest{Scope: global, Actor: "octocat", Sticky: true},
			expect:       deploylock.StatusDenied,
			expectRecord: ptr(testRecord("monalisa", global)),
			expectBypass: true,
			expectReport: []string{"Cannot claim deployment lock"},
		},
		{
			title:        "global owner requesting global",
			seed:         map[deploylock.Scope]string{global: "octocat"},
			req:          deploylock.LockRequest{Scope: global, Actor: "octocat"},
			expect:       deploylock.StatusOwner,
			expectRecord: ptr(testRecord("octocat", global)),
		},
		{
			title:        "global owner rechecks scope",
			seed:         map[deploylock.Scope]string{global: "octocat", production: "monalisa"},
			req:          deploylock.LockRequest{Scope: production, Actor: "octocat"},
			expect:       deploylock.StatusDenied,
			expectRecord: ptr(testRecord("monalisa", production)),
			expectBypass: true,
			expectReport: []string{"Cannot proceed with deployment"},
		},
		{
			title:        "global owner wins",
			seed:         map[deploylock.Scope]string{global: "octocat", production: "monalisa"},
			policy:       GlobalOwnerWins,
			req:          deploylock.LockRequest{Scope: production, Actor: "octocat"},
			expect:       deploylock.StatusOwner,
			expectRecord: ptr(testRecord("octocat", global)),
		},
		{
			title:        "global owner owns scope",
			seed:         map[deploylock.Scope]string{global: "octocat", production: "octocat"},
			req:          deploylock.LockRequest{Scope: production, Actor: "octocat"},
			expect:       deploylock.StatusOwner,
			expectRecord: ptr(testRecord("octocat", production)),
		},
		{
			title:  "details without locks",
			req:    deploylock.LockRequest{Scope: production, Actor: "octocat", DetailsOnly: true},
			expect: deploylock.StatusNoLock,
		},
		{
			title:  "global details without locks",
			req:    deploylock.LockRequest{Scope: global, Actor: "octocat", DetailsOnly: true},
			expect: deploylock.StatusNoLock,
		},
		{
			title:        "details of scope lock",
			seed:         map[deploylock.Scope]string{production: "monalisa"},
			req:          deploylock.LockRequest{Scope: production, Actor: "octocat", DetailsOnly: true},
			expect:       deploylock.StatusDetailsOnly,
			expectRecord: ptr(testRecord("monalisa", production)),
		},
		{
			title:        "details of global lock for any scope",
			seed:         map[deploylock.Scope]string{global: "monalisa", production: "hubot"},
			req:          deploylock.LockRequest{Scope: production, Actor: "octocat", DetailsOnly: true},
			expect:       deploylock.StatusDetailsOnly,
			expectRecord: ptr(testRecord("monalisa", global)),
		},
		{
			title:  "details of other scope",
			seed:   map[deploylock.Scope]string{staging: "monalisa"},
			req:    deploylock.LockRequest{Scope: production, Actor: "octocat", DetailsOnly: true},
			expect: deploylock.StatusNoLock,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, func(c *Config) { c.GlobalOwnerPolicy = tc.policy })
			for scope, owner := range tc.seed {
				f.seed(t, scope, testRecord(owner, scope))
			}

			result, err := f.locker.Lock(context.TODO(), tc.req)
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}

			expect := deploylock.LockResult{
				Status:     tc.expect,
				Record:     tc.expectRecord,
				Scope:      tc.req.Scope,
				GlobalFlag: DefaultGlobalFlag,
				Bypass:     tc.expectBypass,
			}
			if diff := cmp.Diff(expect, result, scopeOpt); diff != "" {
				t.Fatalf("unexpected result (-want +got):\n%s", diff)
			}

			messages := f.recorder.Messages()
			if len(tc.expectReport) == 0 {
				if len(messages) != 0 {
					t.Fatalf("unexpected messages %v", messages)
				}
				return
			}

			if len(messages) != 1 {
				t.Fatalf("expected one message got %v", messages)
			}
			for _, s := range tc.expectReport {
				if !strings.Contains(messages[0].Body, s) {
					t.Fatalf("expected %q in\n%s", s, messages[0].Body)
				}
			}
		})
	}
}

func TestLockBranchWithoutRecord(t *testing.T) {
	t.Parallel()

	production := deploylock.EnvironmentScope("production")

	t.Run("details", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.seedRaw(t, production, nil)

		result, err := f.locker.Lock(context.TODO(), deploylock.LockRequest{Scope: production, Actor: "octocat", DetailsOnly: true})
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if result.Status != deploylock.StatusNoLock {
			t.Fatalf("expected %s got %s", deploylock.StatusNoLock, result.Status)
		}
	})

	t.Run("claim", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.seedRaw(t, production, nil)

		result, err := f.locker.Lock(context.TODO(), deploylock.LockRequest{Scope: production, Actor: "octocat"})
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if result.Status != deploylock.StatusClaimed {
			t.Fatalf("expected %s got %s", deploylock.StatusClaimed, result.Status)
		}
	})
}

func TestLockErrors(t *testing.T) {
	t.Parallel()

	production := deploylock.EnvironmentScope("production")
	failure := errors.New("connection refused")

	testCases := []struct {
		title     string
		setup     func(t *testing.T, f fixture)
		req       deploylock.LockRequest
		expectErr error
	}{
		{
			title:     "missing scope",
			req:       deploylock.LockRequest{Actor: "octocat"},
			expectErr: deploylock.ErrInvalidScope,
		},
		{
			title:     "missing actor",
			req:       deploylock.LockRequest{Scope: production},
			expectErr: deploylock.ErrClaimingLock,
		},
		{
			title: "corrupted record",
			setup: func(t *testing.T, f fixture) {
				t.Helper()
				f.seedRaw(t, production, []byte("not a record"))
			},
			req:       deploylock.LockRequest{Scope: production, Actor: "octocat"},
			expectErr: deploylock.ErrDecodingRecord,
		},
		{
			title: "store failure",
			setup: func(_ *testing.T, f fixture) {
				f.store.readErr = failure
			},
			req:       deploylock.LockRequest{Scope: production, Actor: "octocat"},
			expectErr: failure,
		},
		{
			title: "write failure",
			setup: func(_ *testing.T, f fixture) {
				f.store.writeErr = failure
			},
			req:       deploylock.LockRequest{Scope: production, Actor: "octocat"},
			expectErr: deploylock.ErrClaimingLock,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(t, f)
			}

			_, err := f.locker.Lock(context.TODO(), tc.req)
			if !errors.Is(err, tc.expectErr) {
				t.Fatalf("expected %v got %v", tc.expectErr, err)
			}
		})
	}
}

func TestReporterFailureDoesNotChangeOutcome(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) {
		c.Reporter = report.NewRecorder(errors.New("reporter unavailable"))
	})

	result, err := f.locker.Lock(context.TODO(), deploylock.LockRequest{
		Scope:  deploylock.EnvironmentScope("production"),
		Actor:  "octocat",
		Sticky: true,
	})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if result.Status != deploylock.StatusClaimed {
		t.Fatalf("expected %s got %s", deploylock.StatusClaimed, result.Status)
	}
}

func ptr[T any](v T) *T {
	return &v
}
