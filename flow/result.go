package flow

import (
	"errors"
	"fmt"

	"github.com/pointshop/shopauth/identity"
)

var (
	// ErrLockedOut is matched by every *LockedError.
	ErrLockedOut            = errors.New("locked out")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidAccount       = errors.New("invalid account")
	ErrInvalidCredential    = errors.New("invalid credential")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrMissingRequiredField = errors.New("missing required field")
	// ErrStorage wraps every unexpected failure. Its detail is logged, never returned.
	ErrStorage = errors.New("unexpected storage error")
	// ErrConflictingEvidence is returned when the first-party session and the
	// external-provider session name different identities.
	ErrConflictingEvidence = fmt.Errorf("%w: session evidence disagrees", ErrNotAuthenticated)
)

// LockedError reports an active lockout and the seconds until it ends.
type LockedError struct {
	RetryAfter int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %d seconds", e.RetryAfter)
}

func (e *LockedError) Is(target error) bool { return target == ErrLockedOut }

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

// Outcome is the user-facing classification of a flow result.
type Outcome string

const (
	OutcomeSuccess              Outcome = "success"
	OutcomeLockedOut            Outcome = "locked_out"
	OutcomeAccountNotFound      Outcome = "account_not_found"
	OutcomeInvalidAccount       Outcome = "invalid_account"
	OutcomeInvalidCredential    Outcome = "invalid_credential"
	OutcomeNotAuthenticated     Outcome = "not_authenticated"
	OutcomeMissingRequiredField Outcome = "missing_required_field"
	OutcomeStorageError         Outcome = "storage_error"
)

// OutcomeOf classifies err. Unknown errors are treated as storage errors.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrLockedOut):
		return OutcomeLockedOut
	case errors.Is(err, ErrAccountNotFound):
		return OutcomeAccountNotFound
	case errors.Is(err, ErrInvalidAccount):
		return OutcomeInvalidAccount
	case errors.Is(err, ErrInvalidCredential):
		return OutcomeInvalidCredential
	case errors.Is(err, ErrNotAuthenticated):
		return OutcomeNotAuthenticated
	case errors.Is(err, ErrMissingRequiredField):
		return OutcomeMissingRequiredField
	default:
		return OutcomeStorageError
	}
}

// Result is the structured outcome returned across the service boundary.
type Result struct {
	Success    bool             `json:"success"`
	Outcome    Outcome          `json:"outcome"`
	Message    string           `json:"message,omitempty"`
	RetryAfter int              `json:"retryAfter,omitempty"`
	User       *identity.Public `json:"user,omitempty"`
}

// ResultFrom builds the caller-facing Result. Storage error detail is dropped.
func ResultFrom(user *identity.Public, err error) Result {
	outcome := OutcomeOf(err)
	if outcome == OutcomeSuccess {
		return Result{Success: true, Outcome: outcome, User: user}
	}

	res := Result{Outcome: outcome}
	switch outcome {
	case OutcomeLockedOut:
		var le *LockedError
		if errors.As(err, &le) {
			res.RetryAfter = le.RetryAfter
		}
		res.Message = fmt.Sprintf("Too many failed attempts. Try again in %d seconds.", res.RetryAfter)
	case OutcomeAccountNotFound:
		res.Message = "Account not found"
	case OutcomeInvalidAccount:
		res.Message = "Invalid account. Please login again."
	case OutcomeInvalidCredential:
		res.Message = "Invalid password"
	case OutcomeNotAuthenticated:
		res.Message = "Not authenticated"
	case OutcomeMissingRequiredField:
		res.Message = "Missing required field"
	default:
		res.Message = "An unexpected error occurred"
	}
	return res
}
