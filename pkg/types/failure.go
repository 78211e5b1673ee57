package types

import "fmt"

// FailureKind classifies why a render failed. Every failure returned to a
// caller carries exactly one kind so the caller can tell retryable conditions
// (pool saturation, deadline) from permanent ones (bad source, broken page).
type FailureKind string

const (
	// AcquireTimeout: no pool instance became available within the
	// acquisition deadline.
	AcquireTimeout FailureKind = "acquire_timeout"
	// InstanceCreationFailure: a browser process failed to start.
	InstanceCreationFailure FailureKind = "instance_creation_failure"
	// NavigationFailure: the target URL produced no response or a non-2xx
	// response. Status and Body carry the response details when present.
	NavigationFailure FailureKind = "navigation_failure"
	// ContentLoadFailure: literal markup could not be loaded into the page.
	ContentLoadFailure FailureKind = "content_load_failure"
	// WaitConditionTimeout: the selector/XPath condition never appeared.
	WaitConditionTimeout FailureKind = "wait_condition_timeout"
	// CaptureFailure: document capture returned an empty result.
	CaptureFailure FailureKind = "capture_failure"
	// UnexpectedPageError: the page crashed or raised an unsolicited runtime
	// error while the render was in flight.
	UnexpectedPageError FailureKind = "unexpected_page_error"
	// RenderTimeout: the total render deadline elapsed.
	RenderTimeout FailureKind = "render_timeout"
)

// Retryable reports whether a later identical request may succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case AcquireTimeout, RenderTimeout, InstanceCreationFailure:
		return true
	}
	return false
}

// RenderFailure is the classified outcome of a failed render.
type RenderFailure struct {
	Kind FailureKind

	// Status and Body are set for navigation failures: the HTTP status of
	// the document response (0 when no response arrived) and a snippet of
	// the response body.
	Status int
	Body   string

	// Err is the underlying engine error, when one exists.
	Err error
}

// NewFailure wraps an underlying error with a failure kind
func NewFailure(kind FailureKind, err error) *RenderFailure {
	return &RenderFailure{Kind: kind, Err: err}
}

// NavigationFailed builds a NavigationFailure with response details
func NavigationFailed(status int, body string) *RenderFailure {
	return &RenderFailure{Kind: NavigationFailure, Status: status, Body: body}
}

func (f *RenderFailure) Error() string {
	switch f.Kind {
	case NavigationFailure:
		if f.Status == 0 {
			return "navigation failed: no response received"
		}
		return fmt.Sprintf("navigation failed: status %d", f.Status)
	default:
		if f.Err != nil {
			return fmt.Sprintf("%s: %v", f.Kind, f.Err)
		}
		return string(f.Kind)
	}
}

// Unwrap exposes the underlying error for errors.Is/As chains
func (f *RenderFailure) Unwrap() error {
	return f.Err
}
