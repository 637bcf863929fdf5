// Package errkind classifies errors surfaced by the research pipeline
// into a fixed taxonomy, so phase-local handling can decide whether to
// retry, downgrade an outcome to partial, or abort.
package errkind

import "errors"

// Kind is one of the six error categories the pipeline recognizes.
type Kind string

const (
	// Input is a bad name/URL rejected before a job is created.
	Input Kind = "input"
	// Transient covers network errors, 5xx, rate-limit 429s, SSL
	// handshake failures, and timeouts under the retry threshold.
	Transient Kind = "transient"
	// Quota covers hard provider limits; backs off to the next bucket
	// window, or surfaces as partial if the overall deadline would be
	// exceeded.
	Quota Kind = "quota"
	// Schema covers LLM output that fails validation after retries.
	Schema Kind = "schema"
	// Permanent covers 4xx auth errors, malformed target URLs, and
	// empty target sites. No retry; the job fails.
	Permanent Kind = "permanent"
	// Internal covers bugs and invariant violations. The job fails and
	// a diagnostic is emitted, but no stack leaks to external callers.
	Internal Kind = "internal"
)

// Error wraps an underlying error with a Kind and a stable code, plus
// the last pipeline phase reached, giving callers a stable error code,
// human-readable message, and last phase reached.
type Error struct {
	Kind    Kind
	Code    string
	Phase   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified Error.
func New(kind Kind, code, phase, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Phase: phase, Message: message, Err: cause}
}

// Classify inspects err and returns its Kind, defaulting to Internal
// when err carries no explicit classification. Callers that already
// know the kind (HTTP status, timeout context) should construct an
// *Error directly instead of relying on this fallback.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Internal
}

// Retryable reports whether an error of this Kind should be retried by
// a caller implementing the pipeline's classified-retry policy.
func Retryable(k Kind) bool {
	return k == Transient || k == Quota
}
