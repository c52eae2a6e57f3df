package models

import "time"

// ErrorKind classifies how a task or invocation failed.
type ErrorKind string

const (
	// ErrorKindNone means the task succeeded.
	ErrorKindNone ErrorKind = ""
	// ErrorKindContentTooLarge means bisection reached a singleton batch
	// that still exceeded the provider's context window.
	ErrorKindContentTooLarge ErrorKind = "content_too_large"
	// ErrorKindProviderUnavailable means transient provider errors
	// persisted past the retry ceiling.
	ErrorKindProviderUnavailable ErrorKind = "provider_unavailable"
	// ErrorKindContextOverflow is the provider's overflow signal. It is
	// transient at the batch level: the engine splits and resubmits.
	ErrorKindContextOverflow ErrorKind = "context_overflow"
	// ErrorKindRateLimited is a transient provider throttle response.
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindTimeout is a transient invocation timeout.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindTransport is a transient network failure.
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindUnauthorized is fatal and aborts the whole run.
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	// ErrorKindCancelled means the run was cancelled before the task
	// could be admitted.
	ErrorKindCancelled ErrorKind = "cancelled"
)

// Result is the terminal outcome of a single task. Exactly one Result is
// appended to the checkpoint log per terminal task.
type Result struct {
	// TaskID identifies the task this result belongs to.
	TaskID string `json:"task_id"`
	// Output is the provider output text, empty on failure.
	Output string `json:"output,omitempty"`
	// ErrorKind is empty on success, otherwise the terminal failure class.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	// Latency is the wall-clock time from admission to terminal outcome.
	Latency time.Duration `json:"latency"`
	// TokensUsed is the provider-reported usage attributed to this task.
	TokensUsed int64 `json:"tokens_used"`
	// Timestamp is when the result was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Succeeded returns true if the task produced output.
func (r *Result) Succeeded() bool {
	return r.ErrorKind == ErrorKindNone
}
