package wallet

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Domain-level error values returned by the wallet session.
var (
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrMalformedBonusPayload    = errors.New("malformed bonus payload")
	ErrSessionUnbound           = errors.New("session unbound")
	ErrInvalidUserID            = errors.New("invalid user id")
	ErrInvalidTransactionID     = errors.New("invalid transaction id")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidPoints            = errors.New("invalid points")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrInvalidStatusTransition  = errors.New("invalid status transition")
	ErrUnknownTransaction       = errors.New("unknown transaction")
	ErrDuplicateTransaction     = errors.New("duplicate transaction")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// InsufficientFundsError reports a rejected debit together with the missing amount.
type InsufficientFundsError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

// Shortfall returns how much more currency the debit needed.
func (insufficient *InsufficientFundsError) Shortfall() decimal.Decimal {
	return insufficient.Requested.Sub(insufficient.Available)
}

// ShortfallPoints returns the shortfall expressed in points.
func (insufficient *InsufficientFundsError) ShortfallPoints() int64 {
	return PointsFromAmount(insufficient.Shortfall())
}

// Error returns the formatted error message.
func (insufficient *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%v: need %s more", ErrInsufficientFunds, insufficient.Shortfall().String())
}

// Unwrap returns ErrInsufficientFunds.
func (insufficient *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// AsInsufficientFunds extracts an *InsufficientFundsError from err.
func AsInsufficientFunds(err error) (*InsufficientFundsError, bool) {
	var insufficient *InsufficientFundsError
	if errors.As(err, &insufficient) {
		return insufficient, true
	}
	return nil, false
}

// OperationError tags a store failure with the record it touched and a stable failure code,
// e.g. "account.save_balance".
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

// Subject returns the record kind, such as account or transaction.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the failing step.
func (operationError OperationError) Code() string {
	return operationError.code
}

// FailureCode returns "subject.code", the identifier surfaced to logs and API clients.
func (operationError OperationError) FailureCode() string {
	return operationError.subject + "." + operationError.code
}

// WrapError tags err with the layer, record kind, and failing step. A nil err stays nil.
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

// FailureCode extracts the failure code from err, or "" when no store tagged it.
func FailureCode(err error) string {
	var operationError OperationError
	if errors.As(err, &operationError) {
		return operationError.FailureCode()
	}
	return ""
}
