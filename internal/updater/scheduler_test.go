package updater

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeChecker struct {
	mu           sync.Mutex
	localChecks  int
	bundleChecks int

	localResult  func() *Request
	bundleResult func() *Request
}

func (f *fakeChecker) CheckForUpdatesToLocalContent(ctx context.Context) *Request {
	f.mu.Lock()
	f.localChecks++
	f.mu.Unlock()
	return f.localResult()
}

func (f *fakeChecker) CheckForBundle(ctx context.Context, buildTimestamp int64) *Request {
	f.mu.Lock()
	f.bundleChecks++
	f.mu.Unlock()
	return f.bundleResult()
}

func completedTestRequest(kind Kind) *Request {
	req := newRequest(kind, 0, 0)
	req.tracker.publish(completed())
	return req
}

func TestSchedulerConfig_Normalized(t *testing.T) {
	cases := []struct {
		name string
		in   SchedulerConfig
		want SchedulerConfig
	}{
		{
			"interval below minimum",
			SchedulerConfig{Interval: time.Minute},
			SchedulerConfig{Interval: MinSchedulerInterval, Budget: DefaultBackgroundBudget},
		},
		{
			"interval above maximum",
			SchedulerConfig{Interval: 48 * time.Hour, Budget: time.Minute},
			SchedulerConfig{Interval: MaxSchedulerInterval, Budget: time.Minute},
		},
		{
			"in range",
			SchedulerConfig{Interval: 6 * time.Hour, Budget: 9 * time.Minute},
			SchedulerConfig{Interval: 6 * time.Hour, Budget: 9 * time.Minute},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.normalized(); got != tc.want {
				t.Errorf("normalized() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestScheduler_Backoff(t *testing.T) {
	s := NewScheduler(&fakeChecker{}, SchedulerConfig{Interval: time.Hour}, testLogger())

	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 2 * time.Hour},
		{2, 4 * time.Hour},
		{3, 8 * time.Hour},
		{4, 16 * time.Hour},
		{5, 16 * time.Hour},
		{10, 16 * time.Hour},
	}
	for _, tc := range cases {
		if got := s.backoff(tc.failures); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	checker := &fakeChecker{
		localResult: func() *Request { return completedTestRequest(KindDeltaUpdate) },
	}
	s := NewScheduler(checker, SchedulerConfig{Interval: time.Hour}, testLogger())

	if err := s.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce returned error: %v", err)
	}
	if checker.localChecks != 1 || checker.bundleChecks != 0 {
		t.Errorf("calls = %d local / %d bundle, want 1/0", checker.localChecks, checker.bundleChecks)
	}
}

func TestScheduler_RunOnceFallsBackToFullBundle(t *testing.T) {
	checker := &fakeChecker{
		localResult:  func() *Request { return FailedRequest(KindDeltaUpdate, ErrNoLocalContent) },
		bundleResult: func() *Request { return completedTestRequest(KindFullBundle) },
	}
	s := NewScheduler(checker, SchedulerConfig{Interval: time.Hour}, testLogger())

	if err := s.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce returned error: %v", err)
	}
	if checker.bundleChecks != 1 {
		t.Errorf("bundle checks = %d, want fallback to run once", checker.bundleChecks)
	}
}

func TestScheduler_RunOnceEnforcesBudget(t *testing.T) {
	checker := &fakeChecker{
		// Request never terminates; the cycle must hit its budget.
		localResult: func() *Request { return newRequest(KindDeltaUpdate, 0, 0) },
	}
	s := NewScheduler(checker, SchedulerConfig{Interval: time.Hour, Budget: 20 * time.Millisecond}, testLogger())

	err := s.runOnce(context.Background())
	if err == nil {
		t.Fatal("runOnce returned nil for a cycle exceeding its budget")
	}
	if !strings.Contains(err.Error(), "budget") {
		t.Errorf("error = %v, want budget exhaustion", err)
	}
}

func TestScheduler_RunStopsOnContextCancel(t *testing.T) {
	checker := &fakeChecker{
		localResult: func() *Request { return completedTestRequest(KindDeltaUpdate) },
	}
	s := NewScheduler(checker, SchedulerConfig{Interval: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
	// First cycle only fires after a full interval; none should have run.
	if checker.localChecks != 0 {
		t.Errorf("local checks = %d, want 0 before the first interval", checker.localChecks)
	}
}
