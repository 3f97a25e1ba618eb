// Package engerr defines the typed error kinds the engine surfaces to callers.
//
// Parse failures are never represented here: a model reply that fails to
// parse is a normal return value (a ParseFailed flag on the step result),
// not an error. See internal/steps.
package engerr

import "fmt"

// Kind classifies an engine error for caller-side branching.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota
	// KindNotFound marks a missing project/chapter/character/world-item/arc.
	KindNotFound
	// KindInsufficientData marks a stage run without its required inputs.
	KindInsufficientData
	// KindInvalidFormat marks malformed caller-supplied input (e.g. a bad edit payload).
	KindInvalidFormat
	// KindProviderRateLimit marks a rate-limit response exhausted after retry.
	KindProviderRateLimit
	// KindProviderAuth marks a provider authentication failure.
	KindProviderAuth
	// KindProviderTokenLimit marks a provider token-limit failure.
	KindProviderTokenLimit
	// KindProviderOther marks any other provider transport failure.
	KindProviderOther
	// KindBudgetExceeded marks a cost-ledger budget rejection.
	KindBudgetExceeded
	// KindInvalidPlan marks a malformed pipeline run request (bad step/chapter range).
	KindInvalidPlan
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInsufficientData:
		return "insufficient_data"
	case KindInvalidFormat:
		return "invalid_format"
	case KindProviderRateLimit:
		return "provider_rate_limit"
	case KindProviderAuth:
		return "provider_auth"
	case KindProviderTokenLimit:
		return "provider_token_limit"
	case KindProviderOther:
		return "provider_other"
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindInvalidPlan:
		return "invalid_plan"
	default:
		return "unknown"
	}
}

// Error is the engine's typed error envelope.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func new(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NotFound(msg string) *Error               { return new(KindNotFound, msg, nil) }
func InsufficientData(msg string) *Error       { return new(KindInsufficientData, msg, nil) }
func InvalidFormat(msg string) *Error          { return new(KindInvalidFormat, msg, nil) }
func InvalidPlan(msg string) *Error            { return new(KindInvalidPlan, msg, nil) }
func BudgetExceeded(msg string) *Error         { return new(KindBudgetExceeded, msg, nil) }
func ProviderRateLimit(msg string, err error) *Error  { return new(KindProviderRateLimit, msg, err) }
func ProviderAuth(msg string, err error) *Error       { return new(KindProviderAuth, msg, err) }
func ProviderTokenLimit(msg string, err error) *Error { return new(KindProviderTokenLimit, msg, err) }
func ProviderOther(msg string, err error) *Error      { return new(KindProviderOther, msg, err) }

// KindOf extracts the Kind from err if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return KindUnknown, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
