package updater

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTracker_ReplaysLatestToLateSubscribers(t *testing.T) {
	tr := newTracker()
	tr.publish(waiting())
	tr.publish(checking())
	tr.publish(downloading(10, 100))

	ch := tr.subscribe()
	select {
	case p := <-ch:
		if p.Phase != PhaseDownloading || p.Bytes != 10 || p.BytesTotal != 100 {
			t.Errorf("replayed event = %+v, want downloading 10/100", p)
		}
	default:
		t.Fatal("late subscriber got no replayed event")
	}
}

func TestTracker_ClosesOnTerminal(t *testing.T) {
	tr := newTracker()
	ch := tr.subscribe()

	tr.publish(checking())
	tr.publish(completed())
	tr.publish(downloading(1, 1)) // after terminal; must be discarded

	var phases []Phase
	for p := range ch {
		phases = append(phases, p.Phase)
	}
	if len(phases) != 2 || phases[0] != PhaseChecking || phases[1] != PhaseCompleted {
		t.Errorf("phases = %v, want [checking completed]", phases)
	}

	if p, ok := tr.snapshot(); !ok || p.Phase != PhaseCompleted {
		t.Errorf("snapshot after terminal = %+v, want completed", p)
	}
}

func TestTracker_SubscribeAfterTerminal(t *testing.T) {
	tr := newTracker()
	tr.publish(failed(errors.New("boom")))

	ch := tr.subscribe()
	p, ok := <-ch
	if !ok || p.Phase != PhaseFailed {
		t.Fatalf("first event = %+v (ok=%v), want replayed failure", p, ok)
	}
	if _, ok := <-ch; ok {
		t.Error("channel not closed after replaying terminal event")
	}
}

func TestRequest_Wait(t *testing.T) {
	req := newRequest(KindDeltaUpdate, 0, 0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		req.tracker.publish(completed())
	}()
	if err := req.Wait(context.Background()); err != nil {
		t.Errorf("Wait = %v, want nil for completed request", err)
	}
	if !req.Done() {
		t.Error("Done = false after terminal event")
	}
}

func TestRequest_WaitReturnsFailure(t *testing.T) {
	cause := errors.New("no space left")
	req := newRequest(KindFullBundle, 0, 0)
	req.tracker.publish(failed(cause))

	if err := req.Wait(context.Background()); !errors.Is(err, cause) {
		t.Errorf("Wait = %v, want %v", err, cause)
	}
}

func TestRequest_WaitHonorsContext(t *testing.T) {
	req := newRequest(KindDeltaUpdate, 0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := req.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want deadline exceeded", err)
	}
}

func TestFailedRequest(t *testing.T) {
	req := FailedRequest(KindDirectDownload, ErrPolicyViolation)
	if !req.Done() {
		t.Fatal("FailedRequest is not terminal")
	}
	if err := req.Wait(context.Background()); !errors.Is(err, ErrPolicyViolation) {
		t.Errorf("Wait = %v, want ErrPolicyViolation", err)
	}
}

func TestPhase_Terminal(t *testing.T) {
	for _, p := range []Phase{PhaseWaiting, PhaseChecking, PhaseDownloading, PhaseVerifying, PhaseDeploying} {
		if p.Terminal() {
			t.Errorf("%v.Terminal() = true", p)
		}
	}
	for _, p := range []Phase{PhaseCompleted, PhaseFailed} {
		if !p.Terminal() {
			t.Errorf("%v.Terminal() = false", p)
		}
	}
}
