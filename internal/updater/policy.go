package updater

import (
	"context"
	"fmt"
	"log/slog"
)

// NetworkPolicy decides whether a sync may use the current network. It is
// evaluated at request time, never cached: connectivity may change between
// requests.
type NetworkPolicy interface {
	CanUpdate() bool
}

// NetworkPolicyFunc adapts a function to the NetworkPolicy interface.
type NetworkPolicyFunc func() bool

func (f NetworkPolicyFunc) CanUpdate() bool { return f() }

// AllowAll permits every request; the default when no constraint is set.
var AllowAll = NetworkPolicyFunc(func() bool { return true })

// UnmeteredOnly refuses updates when the metered probe reports a metered
// connection. A probe error counts as unmetered: the check is advisory and
// should not strand a device that cannot classify its network.
func UnmeteredOnly(metered func() (bool, error)) NetworkPolicy {
	return NetworkPolicyFunc(func() bool {
		isMetered, err := metered()
		if err != nil {
			return true
		}
		return !isMetered
	})
}

// PolicyManager wraps a Manager and refuses requests that violate the
// network policy, returning an already-failed request without any I/O.
type PolicyManager struct {
	inner  Manager
	policy NetworkPolicy
	log    *slog.Logger
}

// NewPolicyManager decorates inner with the given policy. A nil logger
// falls back to slog.Default.
func NewPolicyManager(inner Manager, policy NetworkPolicy, log *slog.Logger) *PolicyManager {
	if log == nil {
		log = slog.Default()
	}
	return &PolicyManager{inner: inner, policy: policy, log: log}
}

func (p *PolicyManager) refuse(kind Kind) *Request {
	p.log.Info("sync refused by network policy",
		"component", "updater",
		"action", "policy_refused",
		"kind", string(kind),
	)
	return FailedRequest(kind, fmt.Errorf("%w", ErrPolicyViolation))
}

func (p *PolicyManager) CheckForBundle(ctx context.Context, buildTimestamp int64) *Request {
	if !p.policy.CanUpdate() {
		return p.refuse(KindFullBundle)
	}
	return p.inner.CheckForBundle(ctx, buildTimestamp)
}

func (p *PolicyManager) CheckForUpdates(ctx context.Context, since int64) *Request {
	if !p.policy.CanUpdate() {
		return p.refuse(KindDeltaUpdate)
	}
	return p.inner.CheckForUpdates(ctx, since)
}

func (p *PolicyManager) CheckForUpdatesToLocalContent(ctx context.Context) *Request {
	if !p.policy.CanUpdate() {
		return p.refuse(KindDeltaUpdate)
	}
	return p.inner.CheckForUpdatesToLocalContent(ctx)
}

func (p *PolicyManager) DownloadUpdates(ctx context.Context, endpoint string) *Request {
	if !p.policy.CanUpdate() {
		return p.refuse(KindDirectDownload)
	}
	return p.inner.DownloadUpdates(ctx, endpoint)
}

func (p *PolicyManager) CancelPendingRequests() {
	p.inner.CancelPendingRequests()
}

func (p *PolicyManager) ScheduleBackgroundUpdates(ctx context.Context) error {
	return p.inner.ScheduleBackgroundUpdates(ctx)
}

func (p *PolicyManager) Updates() <-chan *Request {
	return p.inner.Updates()
}
