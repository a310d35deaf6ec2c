package updater

import (
	"context"
	"log/slog"
	"sync"
)

// SingleFlightManager wraps a Manager so that at most one request executes
// against the live directory at a time. A new background request replaces
// any still-queued background request; explicit requests queue after the
// currently running one, so user actions are never silently dropped.
type SingleFlightManager struct {
	inner Manager
	sched SchedulerConfig
	log   *slog.Logger

	updates requestBroadcaster

	mu        sync.Mutex
	queue     []*flightJob
	executing bool
	scheduled bool
}

type flightJob struct {
	ctx        context.Context
	background bool
	proxy      *Request
	run        func(ctx context.Context) *Request
}

// NewSingleFlightManager decorates inner. sched configures the background
// scheduler started by ScheduleBackgroundUpdates. A nil logger falls back
// to slog.Default.
func NewSingleFlightManager(inner Manager, sched SchedulerConfig, log *slog.Logger) *SingleFlightManager {
	if log == nil {
		log = slog.Default()
	}
	s := &SingleFlightManager{inner: inner, sched: sched, log: log}
	s.updates.log = log
	return s
}

func (s *SingleFlightManager) CheckForBundle(ctx context.Context, buildTimestamp int64) *Request {
	return s.enqueue(ctx, KindFullBundle, buildTimestamp, 0, false, func(ctx context.Context) *Request {
		return s.inner.CheckForBundle(ctx, buildTimestamp)
	})
}

func (s *SingleFlightManager) CheckForUpdates(ctx context.Context, since int64) *Request {
	return s.enqueue(ctx, KindDeltaUpdate, 0, since, false, func(ctx context.Context) *Request {
		return s.inner.CheckForUpdates(ctx, since)
	})
}

func (s *SingleFlightManager) CheckForUpdatesToLocalContent(ctx context.Context) *Request {
	return s.enqueue(ctx, KindDeltaUpdate, 0, 0, false, func(ctx context.Context) *Request {
		return s.inner.CheckForUpdatesToLocalContent(ctx)
	})
}

func (s *SingleFlightManager) DownloadUpdates(ctx context.Context, endpoint string) *Request {
	return s.enqueue(ctx, KindDirectDownload, 0, 0, false, func(ctx context.Context) *Request {
		return s.inner.DownloadUpdates(ctx, endpoint)
	})
}

// CancelPendingRequests drops every queued request and cancels whatever the
// inner manager has in flight.
func (s *SingleFlightManager) CancelPendingRequests() {
	s.mu.Lock()
	dropped := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, j := range dropped {
		j.proxy.tracker.publish(failed(ErrCancelled))
	}
	s.inner.CancelPendingRequests()
}

// ScheduleBackgroundUpdates starts the periodic background check loop. It
// returns immediately; the loop runs until ctx is cancelled. Calling it
// again while a loop is active is a no-op.
func (s *SingleFlightManager) ScheduleBackgroundUpdates(ctx context.Context) error {
	s.mu.Lock()
	if s.scheduled {
		s.mu.Unlock()
		return nil
	}
	s.scheduled = true
	s.mu.Unlock()

	sched := NewScheduler(backgroundAdapter{s}, s.sched, s.log)
	go func() {
		sched.Run(ctx)
		s.mu.Lock()
		s.scheduled = false
		s.mu.Unlock()
	}()
	return nil
}

// Updates streams the caller-visible requests in creation order, including
// ones still waiting in the queue.
func (s *SingleFlightManager) Updates() <-chan *Request {
	return s.updates.subscribe()
}

// backgroundAdapter routes the scheduler's requests through the background
// queue slot, where a newer cycle replaces an unstarted older one.
type backgroundAdapter struct {
	s *SingleFlightManager
}

func (a backgroundAdapter) CheckForUpdatesToLocalContent(ctx context.Context) *Request {
	return a.s.enqueue(ctx, KindDeltaUpdate, 0, 0, true, func(ctx context.Context) *Request {
		return a.s.inner.CheckForUpdatesToLocalContent(ctx)
	})
}

func (a backgroundAdapter) CheckForBundle(ctx context.Context, buildTimestamp int64) *Request {
	return a.s.enqueue(ctx, KindFullBundle, buildTimestamp, 0, true, func(ctx context.Context) *Request {
		return a.s.inner.CheckForBundle(ctx, buildTimestamp)
	})
}

// enqueue creates the caller-visible proxy request and queues the work. The
// proxy mirrors the inner request's progress once the job starts executing.
func (s *SingleFlightManager) enqueue(ctx context.Context, kind Kind, build, since int64, background bool, run func(ctx context.Context) *Request) *Request {
	proxy := newRequest(kind, build, since)
	job := &flightJob{ctx: ctx, background: background, proxy: proxy, run: run}

	s.updates.publish(proxy)
	proxy.tracker.publish(waiting())

	s.mu.Lock()
	if background {
		kept := s.queue[:0]
		for _, queued := range s.queue {
			if queued.background {
				queued.proxy.tracker.publish(failed(ErrSuperseded))
				continue
			}
			kept = append(kept, queued)
		}
		s.queue = kept
	}
	s.queue = append(s.queue, job)
	startDrain := !s.executing
	if startDrain {
		s.executing = true
	}
	s.mu.Unlock()

	if startDrain {
		go s.drain()
	}
	return proxy
}

// drain executes queued jobs one at a time until the queue empties.
func (s *SingleFlightManager) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.executing = false
			s.mu.Unlock()
			return
		}
		job := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := job.ctx.Err(); err != nil {
			job.proxy.tracker.publish(failed(ErrCancelled))
			continue
		}

		inner := job.run(job.ctx)
		forwardProgress(inner, job.proxy)
	}
}

// forwardProgress republishes inner's events onto the proxy until inner
// terminates. Waiting events are skipped; the proxy entered that phase when
// it was queued.
func forwardProgress(inner, proxy *Request) {
	for p := range inner.Subscribe() {
		if p.Phase == PhaseWaiting {
			continue
		}
		proxy.tracker.publish(p)
	}
	// Subscribe's channel only closes on a terminal event, which the loop
	// above republished; nothing more to do.
}
