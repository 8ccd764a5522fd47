package remote

import (
	"errors"
	"fmt"
)

// Kind classifies a remote failure so callers branch on typed outcomes
// instead of matching error message substrings.
type Kind int

const (
	// KindTransient covers network errors, timeouts and 5xx responses.
	// The record stays dirty and is retried on a later pass.
	KindTransient Kind = iota

	// KindNotFound is the 404 outcome. During a push probe it is a branch
	// signal (create instead of update), not a failure.
	KindNotFound

	// KindDuplicate is the duplicate-key outcome on create. Recoverable by
	// re-creating without the client id.
	KindDuplicate

	// KindPermanent covers validation rejections and other non-retryable
	// responses. The record stays dirty until an external change fixes it.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every remote call.
type Error struct {
	Kind   Kind
	Op     string // e.g. "items.create"
	Status int    // HTTP status, 0 for network-level failures
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s: %s (status %d)", e.Op, e.Kind, e.Status)
	}
	return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func is(err error, kind Kind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}

// IsTransient reports whether err is a retryable remote failure.
func IsTransient(err error) bool { return is(err, KindTransient) }

// IsNotFound reports whether err is the remote not-found outcome.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsDuplicate reports whether err is the duplicate-key outcome.
func IsDuplicate(err error) bool { return is(err, KindDuplicate) }

// IsPermanent reports whether err is a non-retryable rejection.
func IsPermanent(err error) bool { return is(err, KindPermanent) }

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) Kind {
	switch {
	case status == 404:
		return KindNotFound
	case status == 409:
		return KindDuplicate
	case status == 408 || status == 429 || status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
