package updater

import "sync"

// Phase is the lifecycle stage of a sync request. Phases only ever advance;
// after a terminal phase (Completed or Failed) no further events are emitted.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseWaiting
	PhaseChecking
	PhaseDownloading
	PhaseVerifying
	PhaseDeploying
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseChecking:
		return "checking"
	case PhaseDownloading:
		return "downloading"
	case PhaseVerifying:
		return "verifying"
	case PhaseDeploying:
		return "deploying"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends a request.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Progress is a single event on a request's progress stream. Bytes and
// BytesTotal are only meaningful during PhaseDownloading; BytesTotal is
// advisory and may be 0 when the server omits a content length. Err is set
// only for PhaseFailed.
type Progress struct {
	Phase      Phase
	Bytes      int64
	BytesTotal int64
	Err        error
}

func waiting() Progress  { return Progress{Phase: PhaseWaiting} }
func checking() Progress { return Progress{Phase: PhaseChecking} }
func downloading(bytes, total int64) Progress {
	return Progress{Phase: PhaseDownloading, Bytes: bytes, BytesTotal: total}
}
func verifying() Progress { return Progress{Phase: PhaseVerifying} }
func deploying() Progress { return Progress{Phase: PhaseDeploying} }
func completed() Progress { return Progress{Phase: PhaseCompleted} }
func failed(err error) Progress {
	return Progress{Phase: PhaseFailed, Err: err}
}

// subscriberBuffer bounds each subscriber channel. Download progress events
// beyond the buffer are dropped for slow subscribers; terminal events are
// always observable through Wait and Latest.
const subscriberBuffer = 64

// tracker is the progress stream behind a Request. It replays the most
// recent event to late subscribers and closes all subscriber channels once a
// terminal event is published.
type tracker struct {
	mu       sync.Mutex
	latest   Progress
	seen     bool
	terminal bool
	subs     []chan Progress
	done     chan struct{}
}

func newTracker() *tracker {
	return &tracker{done: make(chan struct{})}
}

// publish records and fans out an event. Events after a terminal one are
// discarded, preserving the no-emission-after-terminal guarantee.
func (t *tracker) publish(p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminal {
		return
	}
	t.latest = p
	t.seen = true

	for _, sub := range t.subs {
		select {
		case sub <- p:
		default:
			// Slow subscriber; progress events are advisory.
		}
	}

	if p.Phase.Terminal() {
		t.terminal = true
		for _, sub := range t.subs {
			close(sub)
		}
		t.subs = nil
		close(t.done)
	}
}

// subscribe returns a channel of events starting with the most recent one,
// mirroring the replay-latest semantics callers rely on for progress UI.
// The channel is closed after the terminal event.
func (t *tracker) subscribe() <-chan Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Progress, subscriberBuffer)
	if t.seen {
		ch <- t.latest
	}
	if t.terminal {
		close(ch)
		return ch
	}
	t.subs = append(t.subs, ch)
	return ch
}

// snapshot returns the most recent event and whether one was published.
func (t *tracker) snapshot() (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.seen
}
