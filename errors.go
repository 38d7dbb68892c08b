package creditgate

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrAlreadyExists              = errors.New("creditgate: entitlement record already exists")
	ErrNotFound                   = errors.New("creditgate: entitlement record not found")
	ErrInsufficientMonthlyCredits = errors.New("creditgate: insufficient monthly credits")
	ErrInsufficientDailyCredits   = errors.New("creditgate: insufficient daily credits")
	ErrNoCredentialConfigured     = errors.New("creditgate: no credential configured")
	ErrPoolExhausted              = errors.New("creditgate: credential pool exhausted")
	ErrUnknownPlan                = errors.New("creditgate: unknown plan")
	ErrInvalidAmount              = errors.New("creditgate: invalid credit amount")
	ErrInvalidRequest             = errors.New("creditgate: invalid request")
	ErrRateLimited                = errors.New("creditgate: rate limited by provider")
	ErrAuthFailed                 = errors.New("creditgate: provider authentication failed")
	ErrProviderUnavailable        = errors.New("creditgate: provider unavailable")
)

// GateError wraps a generation failure with the entitlement context it happened in.
type GateError struct {
	Err       error
	UserID    string
	Slot      int
	Fallback  bool
	Generator string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("creditgate: user=%s slot=%d fallback=%t generator=%s: %v",
		e.UserID, e.Slot, e.Fallback, e.Generator, e.Err)
}

func (e *GateError) Unwrap() error {
	return e.Err
}

// IsQuotaError returns true if the request was rejected for lack of credits.
// Retrying does not help until the plan changes or a window rolls over.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrInsufficientMonthlyCredits) || errors.Is(err, ErrInsufficientDailyCredits)
}

// IsRetryable returns true if the error is transient and the caller may retry with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderUnavailable)
}
