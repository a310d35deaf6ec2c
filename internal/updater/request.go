package updater

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies what a sync request does.
type Kind string

const (
	KindFullBundle     Kind = "full_bundle"
	KindDeltaUpdate    Kind = "delta_update"
	KindDirectDownload Kind = "direct_download"
)

// Request is one synchronization attempt. Exactly one Kind is active per
// request; BuildTimestamp and SinceTimestamp are 0 when unset. Progress is
// observed through Subscribe, Latest or Wait.
type Request struct {
	ID             string
	Kind           Kind
	BuildTimestamp int64
	SinceTimestamp int64
	CreatedAt      time.Time

	tracker *tracker
}

func newRequest(kind Kind, buildTimestamp, sinceTimestamp int64) *Request {
	return &Request{
		ID:             ulid.Make().String(),
		Kind:           kind,
		BuildTimestamp: buildTimestamp,
		SinceTimestamp: sinceTimestamp,
		CreatedAt:      time.Now().UTC(),
		tracker:        newTracker(),
	}
}

// FailedRequest returns a request that is already in its terminal Failed
// state. Policy decorators use it to refuse work without any I/O.
func FailedRequest(kind Kind, err error) *Request {
	r := newRequest(kind, 0, 0)
	r.tracker.publish(failed(err))
	return r
}

// Subscribe returns a stream of progress events beginning with the most
// recent one. The channel closes after the terminal event.
func (r *Request) Subscribe() <-chan Progress {
	return r.tracker.subscribe()
}

// Latest returns the most recently published event, if any.
func (r *Request) Latest() (Progress, bool) {
	return r.tracker.snapshot()
}

// Done reports whether the request reached a terminal phase.
func (r *Request) Done() bool {
	p, ok := r.Latest()
	return ok && p.Phase.Terminal()
}

// Wait blocks until the request terminates or ctx is done. It returns nil
// for a completed request and the failure reason for a failed one.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.tracker.done:
	}
	p, _ := r.Latest()
	if p.Phase == PhaseFailed {
		return p.Err
	}
	return nil
}
