package updater

import "errors"

var (
	// ErrNoLocalContent is returned when a delta-from-local-content request
	// is made but no local manifest exists. Callers should fall back to a
	// full bundle request.
	ErrNoLocalContent = errors.New("no local content to update")

	// ErrPolicyViolation reports a request refused by a policy decorator
	// before any I/O was attempted.
	ErrPolicyViolation = errors.New("update refused by network policy")

	// ErrCancelled reports a request cancelled by CancelPendingRequests or
	// context cancellation.
	ErrCancelled = errors.New("update cancelled")

	// ErrSuperseded reports a queued background request replaced by a newer
	// equivalent one before it started executing.
	ErrSuperseded = errors.New("update superseded by a newer request")

	// ErrVerificationFailed reports a downloaded bundle that failed its
	// integrity check and was discarded.
	ErrVerificationFailed = errors.New("downloaded bundle failed verification")

	// ErrScheduleNotSupported is returned by managers that cannot schedule
	// background execution themselves.
	ErrScheduleNotSupported = errors.New("background scheduling not supported by this manager")
)
