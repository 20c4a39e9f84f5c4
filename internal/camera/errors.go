package camera

import "fmt"

// OpenError reports a failure to acquire a device: absent, busy, or the
// backend refused the index.
type OpenError struct {
	Backend string
	Index   int
	Err     error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open device %d (%s): %v", e.Index, e.Backend, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// NegotiationError reports that a requested mode was unreachable after every
// strategy. LastObserved is whatever the device reported after the final
// attempt, which is also the mode the handle was left streaming in.
type NegotiationError struct {
	Requested    ResolutionMode
	LastObserved ResolvedMode
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("mode negotiation failed: requested %s, device reports %dx%d@%.3gfps %s",
		e.Requested, e.LastObserved.Width, e.LastObserved.Height,
		e.LastObserved.AchievedFPS, e.LastObserved.Format)
}

// PropertyError reports one failed property get or set. During a scan these
// are classification evidence and never surface; one-shot operations report
// them with the backend's raw detail attached.
type PropertyError struct {
	ID  PropID
	Op  string // "get" or "set"
	Err error
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("property %d %s: %v", e.ID, e.Op, e.Err)
}

func (e *PropertyError) Unwrap() error { return e.Err }

// RecoveryFailure reports an exhausted recovery attempt.
type RecoveryFailure struct {
	Attempt RecoveryAttempt
	Err     error
}

func (e *RecoveryFailure) Error() string {
	return fmt.Sprintf("recovery failed (trigger=%s hard_reset=%v): %v",
		e.Attempt.Trigger, e.Attempt.HardReset, e.Err)
}

func (e *RecoveryFailure) Unwrap() error { return e.Err }

// FrameReadError reports that the consecutive frame read failure budget was
// exhausted. Individual read failures are transient and swallowed; only the
// exhausted budget reaches the caller.
type FrameReadError struct {
	Consecutive int
	Err         error
}

func (e *FrameReadError) Error() string {
	return fmt.Sprintf("%d consecutive frame read failures, last: %v", e.Consecutive, e.Err)
}

func (e *FrameReadError) Unwrap() error { return e.Err }
