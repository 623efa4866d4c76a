// Package coreerr defines the error kinds surfaced to the executable query
// plan lifecycle (spec §7). Every failure observed by the execution core
// classifies into exactly one of these kinds, which in turn determines the
// EQP state transition the query manager applies.
package coreerr

import "errors"

// Sentinel kinds. Wrap them with fmt.Errorf("...: %w", ErrX) at the call
// site and test with errors.Is, the same way the rest of this module wraps
// errors.
var (
	// ErrResourceExhausted covers buffer-pool and join-memory exhaustion.
	// Fatal to the owning EQP: it transitions to ErrorState.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrInvalidPlan covers schema mismatches and unknown operators found
	// during registration. The EQP never leaves Created.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrSourceFailure covers source I/O or parse errors. The source emits
	// a Failure end-of-stream and the EQP transitions to ErrorState after
	// drain.
	ErrSourceFailure = errors.New("source failure")

	// ErrPipelineFailure covers a runtime error raised inside a compiled
	// pipeline stage. The owning worker posts a failure reconfiguration
	// message and the EQP transitions to ErrorState.
	ErrPipelineFailure = errors.New("pipeline failure")

	// ErrSinkFailure covers a sink write error. Handled identically to
	// ErrPipelineFailure.
	ErrSinkFailure = errors.New("sink failure")

	// ErrTimeout covers a graceful stop that did not complete in time.
	// Escalates to a hard stop; final EQP state is Stopped, not ErrorState.
	ErrTimeout = errors.New("graceful stop timed out")
)

// Kind identifies which of the sentinels above an error carries, so
// lifecycle code can switch on it without repeating errors.Is chains.
type Kind int

const (
	KindUnknown Kind = iota
	KindResourceExhausted
	KindInvalidPlan
	KindSourceFailure
	KindPipelineFailure
	KindSinkFailure
	KindTimeout
)

// Classify maps an error produced anywhere in the core back to the Kind the
// EQP lifecycle should act on. It walks the wrap chain with errors.Is, so
// fmt.Errorf("...: %w", ErrPipelineFailure) classifies the same as the bare
// sentinel.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrInvalidPlan):
		return KindInvalidPlan
	case errors.Is(err, ErrSourceFailure):
		return KindSourceFailure
	case errors.Is(err, ErrPipelineFailure):
		return KindPipelineFailure
	case errors.Is(err, ErrSinkFailure):
		return KindSinkFailure
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		return KindUnknown
	}
}

// Fatal reports whether a Kind always forces the owning EQP out of Running
// (as opposed to flow-control conditions like backpressure, which are never
// represented as errors at all — see spec §7).
func (k Kind) Fatal() bool {
	switch k {
	case KindResourceExhausted, KindSourceFailure, KindPipelineFailure, KindSinkFailure:
		return true
	default:
		return false
	}
}
