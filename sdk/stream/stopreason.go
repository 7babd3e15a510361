package stream

import "fmt"

// StopReason is the canonical classification of why a model turn ended.
// Every provider-specific terminal status maps onto exactly one of these.
type StopReason string

const (
	// StopReasonStop is a normal end of turn.
	StopReasonStop StopReason = "stop"
	// StopReasonLength means the output hit the max-token limit.
	StopReasonLength StopReason = "length"
	// StopReasonToolUse means the model stopped to call one or more tools.
	StopReasonToolUse StopReason = "toolUse"
	// StopReasonSafety means the provider refused or filtered the output.
	StopReasonSafety StopReason = "safety"
	// StopReasonError means the turn ended because of a failure.
	StopReasonError StopReason = "error"
	// StopReasonAborted means the caller cancelled the invocation.
	StopReasonAborted StopReason = "aborted"
)

// UnmappedStopReason panics. An unknown provider finish reason means the
// normalization table is incomplete, which is a programming error: silently
// reporting it as a normal stop would hide safety refusals and length cutoffs
// from the caller.
func UnmappedStopReason(provider, value string) StopReason {
	panic(fmt.Sprintf("stream: unmapped %s stop reason %q", provider, value))
}
