package updater

import (
	"context"
	"errors"
	"testing"
)

// countingManager records which operations reached the inner manager.
type countingManager struct {
	checks    int
	downloads int
	cancels   int
}

func (c *countingManager) completedRequest(kind Kind) *Request {
	req := newRequest(kind, 0, 0)
	req.tracker.publish(completed())
	return req
}

func (c *countingManager) CheckForBundle(ctx context.Context, buildTimestamp int64) *Request {
	c.checks++
	return c.completedRequest(KindFullBundle)
}

func (c *countingManager) CheckForUpdates(ctx context.Context, since int64) *Request {
	c.checks++
	return c.completedRequest(KindDeltaUpdate)
}

func (c *countingManager) CheckForUpdatesToLocalContent(ctx context.Context) *Request {
	c.checks++
	return c.completedRequest(KindDeltaUpdate)
}

func (c *countingManager) DownloadUpdates(ctx context.Context, endpoint string) *Request {
	c.downloads++
	return c.completedRequest(KindDirectDownload)
}

func (c *countingManager) CancelPendingRequests() { c.cancels++ }

func (c *countingManager) ScheduleBackgroundUpdates(ctx context.Context) error { return nil }

func (c *countingManager) Updates() <-chan *Request { return nil }

func TestPolicyManager_RefusesWithoutInnerCalls(t *testing.T) {
	inner := &countingManager{}
	p := NewPolicyManager(inner, NetworkPolicyFunc(func() bool { return false }), testLogger())

	ctx := context.Background()
	requests := []*Request{
		p.CheckForBundle(ctx, 0),
		p.CheckForUpdates(ctx, 100),
		p.CheckForUpdatesToLocalContent(ctx),
		p.DownloadUpdates(ctx, "https://cdn.example.com/x.tar.gz"),
	}

	for _, req := range requests {
		if err := req.Wait(ctx); !errors.Is(err, ErrPolicyViolation) {
			t.Errorf("%s: Wait = %v, want ErrPolicyViolation", req.Kind, err)
		}
	}
	if inner.checks != 0 || inner.downloads != 0 {
		t.Errorf("inner manager reached despite policy refusal: %+v", inner)
	}
}

func TestPolicyManager_DelegatesWhenAllowed(t *testing.T) {
	inner := &countingManager{}
	p := NewPolicyManager(inner, AllowAll, testLogger())

	ctx := context.Background()
	if err := p.CheckForUpdates(ctx, 100).Wait(ctx); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
	if err := p.DownloadUpdates(ctx, "https://cdn.example.com/x.tar.gz").Wait(ctx); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
	if inner.checks != 1 || inner.downloads != 1 {
		t.Errorf("inner calls = %+v, want one check and one download", inner)
	}

	p.CancelPendingRequests()
	if inner.cancels != 1 {
		t.Error("CancelPendingRequests was not delegated")
	}
}

func TestPolicyManager_EvaluatesPerRequest(t *testing.T) {
	inner := &countingManager{}
	allowed := false
	p := NewPolicyManager(inner, NetworkPolicyFunc(func() bool { return allowed }), testLogger())

	ctx := context.Background()
	if err := p.CheckForUpdates(ctx, 100).Wait(ctx); !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("Wait = %v, want refusal while disallowed", err)
	}

	allowed = true
	if err := p.CheckForUpdates(ctx, 100).Wait(ctx); err != nil {
		t.Fatalf("Wait = %v, want success once allowed", err)
	}
	if inner.checks != 1 {
		t.Errorf("inner checks = %d, want 1", inner.checks)
	}
}

func TestUnmeteredOnly(t *testing.T) {
	cases := []struct {
		name    string
		metered bool
		err     error
		want    bool
	}{
		{"unmetered", false, nil, true},
		{"metered", true, nil, false},
		{"probe error counts as unmetered", false, errors.New("no signal"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policy := UnmeteredOnly(func() (bool, error) { return tc.metered, tc.err })
			if got := policy.CanUpdate(); got != tc.want {
				t.Errorf("CanUpdate = %v, want %v", got, tc.want)
			}
		})
	}
}
