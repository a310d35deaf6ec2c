// Package updater contains the bundle synchronization core: the update
// manager API, the check/download/verify/deploy pipeline, the policy and
// single-flight decorators, the background scheduler and the push handler.
package updater

import (
	"context"
	"log/slog"
	"sync"
)

// Manager is the public surface of the synchronization engine. Decorators
// (policy enforcement, single-flight) wrap a Manager and are composed by the
// caller; every implementation returns a Request whose progress stream
// terminates in Completed or Failed.
type Manager interface {
	// CheckForBundle checks for the latest full bundle, forwarding a
	// non-zero buildTimestamp for server-side landmark compatibility.
	CheckForBundle(ctx context.Context, buildTimestamp int64) *Request

	// CheckForUpdates checks for a delta bundle containing files changed
	// since the given manifest timestamp (0 means no delta base).
	CheckForUpdates(ctx context.Context, since int64) *Request

	// CheckForUpdatesToLocalContent derives the delta base from the live
	// manifest. The request fails with ErrNoLocalContent when none exists.
	CheckForUpdatesToLocalContent(ctx context.Context) *Request

	// DownloadUpdates skips the check and downloads the archive at endpoint
	// directly, as done for push-provided URLs.
	DownloadUpdates(ctx context.Context, endpoint string) *Request

	// CancelPendingRequests cancels any in-flight transport operation.
	// Affected requests fail with ErrCancelled and staging is cleaned up.
	CancelPendingRequests()

	// ScheduleBackgroundUpdates starts periodic non-interactive content
	// checks, running until ctx is cancelled. Managers without a scheduling
	// capability return ErrScheduleNotSupported.
	ScheduleBackgroundUpdates(ctx context.Context) error

	// Updates returns a diagnostic stream of every Request this manager
	// creates, in creation order.
	Updates() <-chan *Request
}

// Listeners carries optional session-wide callbacks, mirroring the host-app
// hooks of the original SDK. Any field may be nil.
type Listeners struct {
	// OnCheckFinished fires after a check, with whether a download started.
	OnCheckFinished func(updating bool)
	// OnCheckFailed fires when a check could not reach a usable response.
	OnCheckFailed func(err error)
	// OnUpdateDownloaded fires after a bundle was deployed successfully.
	OnUpdateDownloaded func()
}

// requestStreamBuffer bounds each Updates subscriber channel.
const requestStreamBuffer = 16

// requestBroadcaster fans created requests out to Updates subscribers.
// Delivery is fire-and-forget: subscribers that fall behind miss requests
// rather than blocking request creation.
type requestBroadcaster struct {
	mu   sync.Mutex
	subs []chan *Request
	log  *slog.Logger
}

func (b *requestBroadcaster) subscribe() <-chan *Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *Request, requestStreamBuffer)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *requestBroadcaster) publish(r *Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- r:
		default:
			if b.log != nil {
				b.log.Warn("dropping request event for slow diagnostics subscriber",
					"component", "updater",
					"action", "request_event_dropped",
					"request_id", r.ID,
				)
			}
		}
	}
}
