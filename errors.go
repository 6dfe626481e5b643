package lanalyzer

import "fmt"

// BadConfigError reports a structural configuration problem: a missing
// required channel role, a duplicate role-to-channel mapping, an
// out-of-range option, or a zero sample rate. It is always surfaced to the
// caller before a run starts, never retried.
//
// ref: spec.md §7
type BadConfigError struct {
	// Decoder is the protocol ID the configuration was rejected for.
	Decoder string
	// Reason names the specific constraint that was violated.
	Reason string
}

func (e *BadConfigError) Error() string {
	return fmt.Sprintf("lanalyzer: bad config for decoder %q: %s", e.Decoder, e.Reason)
}

// endOfSamples is the internal termination signal used by Wait. It is never
// surfaced to a decoder's caller: decoder main loops consume it and stop.
//
// ref: spec.md §7
type endOfSamples struct{}

func (endOfSamples) Error() string { return "lanalyzer: end of samples" }

// ErrEndOfSamples is returned by Waiter.Wait when no condition can be
// satisfied before the sample source is exhausted.
var ErrEndOfSamples error = endOfSamples{}

// BusyError is returned by StreamingExecutor.StreamingDecode when a decode is already
// running on that executor instance.
type BusyError struct{}

func (BusyError) Error() string { return "lanalyzer: executor is busy" }

// ErrBusy is the sentinel value for BusyError.
var ErrBusy error = BusyError{}

// CancelledError is returned when a streaming decode is stopped by a
// cooperative cancellation request. Whatever annotations were flushed before
// the cut remain valid; annotations for any event still in progress at the
// cut are discarded.
type CancelledError struct{}

func (CancelledError) Error() string { return "lanalyzer: cancelled" }

// ErrCancelled is the sentinel value for CancelledError.
var ErrCancelled error = CancelledError{}
