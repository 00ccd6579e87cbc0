package ledger

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes surfaced by the ledger.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindLookup     ErrorKind = "lookup"
	KindPolicy     ErrorKind = "policy"
	KindInternal   ErrorKind = "internal"
)

// Reason narrows an ErrorKind to a stable machine-readable cause.
type Reason string

const (
	ReasonMissingIdentifier Reason = "missing_identifier"
	ReasonInvalidIdentifier Reason = "invalid_identifier"
	ReasonInvalidAmount     Reason = "invalid_amount"
	ReasonInvalidChargeKind Reason = "invalid_charge_kind"
	ReasonInvalidBanScheme  Reason = "invalid_ban_scheme"
	ReasonInvalidDuration   Reason = "invalid_duration"
	ReasonInvalidAccountID  Reason = "invalid_account_id"
	ReasonInvalidInviteCode Reason = "invalid_invite_code"
	ReasonInvalidConfig     Reason = "invalid_config"
	ReasonAlreadyExists     Reason = "already_exists"
	ReasonAlreadyBound      Reason = "already_bound"
	ReasonNoSuchAccount     Reason = "no_such_account"
	ReasonNoSuchCode        Reason = "no_such_code"
	ReasonMaxUsageExceeded  Reason = "max_usage_exceeded"
	ReasonSelfBind          Reason = "self_bind"
	ReasonCircularBind      Reason = "circular_bind"
	ReasonLockUnavailable   Reason = "lock_unavailable"
	ReasonUnexpected        Reason = "unexpected"
)

// DomainError is a tagged ledger failure. Sentinels below are compared by identity.
type DomainError struct {
	kind    ErrorKind
	reason  Reason
	message string
}

func newDomainError(kind ErrorKind, reason Reason, message string) *DomainError {
	return &DomainError{kind: kind, reason: reason, message: message}
}

func (domainError *DomainError) Error() string {
	return domainError.message
}

// Kind returns the failure class.
func (domainError *DomainError) Kind() ErrorKind {
	return domainError.kind
}

// Reason returns the stable cause code.
func (domainError *DomainError) Reason() Reason {
	return domainError.reason
}

// Domain-level error values returned by the ledger service.
var (
	ErrMissingIdentifier    = newDomainError(KindValidation, ReasonMissingIdentifier, "at least one account identifier is required")
	ErrInvalidIdentifier    = newDomainError(KindValidation, ReasonInvalidIdentifier, "invalid account identifier")
	ErrInvalidAmountCents   = newDomainError(KindValidation, ReasonInvalidAmount, "invalid amount cents")
	ErrInvalidChargeKind    = newDomainError(KindValidation, ReasonInvalidChargeKind, "invalid charge kind")
	ErrInvalidBanScheme     = newDomainError(KindValidation, ReasonInvalidBanScheme, "invalid ban scheme")
	ErrInvalidBanDuration   = newDomainError(KindValidation, ReasonInvalidDuration, "invalid ban duration")
	ErrInvalidAccountID     = newDomainError(KindValidation, ReasonInvalidAccountID, "invalid account id")
	ErrInvalidInviteCode    = newDomainError(KindValidation, ReasonInvalidInviteCode, "invalid invite code")
	ErrInvalidServiceConfig = newDomainError(KindValidation, ReasonInvalidConfig, "invalid service config")
	ErrAccountExists        = newDomainError(KindConflict, ReasonAlreadyExists, "account already exists")
	ErrInviteCodeExists     = newDomainError(KindConflict, ReasonAlreadyExists, "invite code already exists")
	ErrInviteCodeOwned      = newDomainError(KindConflict, ReasonAlreadyExists, "account already owns an invite code")
	ErrAlreadyBound         = newDomainError(KindConflict, ReasonAlreadyBound, "account already bound to an inviter")
	ErrUnknownAccount       = newDomainError(KindLookup, ReasonNoSuchAccount, "unknown account")
	ErrNoSuchCode           = newDomainError(KindLookup, ReasonNoSuchCode, "no such invite code")
	ErrMaxUsageExceeded     = newDomainError(KindPolicy, ReasonMaxUsageExceeded, "invite code usage limit reached")
	ErrSelfBind             = newDomainError(KindPolicy, ReasonSelfBind, "cannot bind own invite code")
	ErrCircularBind         = newDomainError(KindPolicy, ReasonCircularBind, "cannot bind invite code of own invitee")
	ErrLockUnavailable      = newDomainError(KindInternal, ReasonLockUnavailable, "account lock unavailable")
)

// errInviterChanged aborts a unit of work whose account lock set went stale; callers retry.
var errInviterChanged = errors.New("inviter assigned while acquiring account locks")

// KindOf classifies err. Anything that is not a DomainError is internal.
func KindOf(err error) ErrorKind {
	var domainError *DomainError
	if errors.As(err, &domainError) {
		return domainError.kind
	}
	return KindInternal
}

// ReasonOf returns the Reason carried by err, or ReasonUnexpected.
func ReasonOf(err error) Reason {
	var domainError *DomainError
	if errors.As(err, &domainError) {
		return domainError.reason
	}
	return ReasonUnexpected
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
