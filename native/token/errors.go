package token

import (
	"errors"

	"tokenledger/core/i128"
)

var (
	ErrInsufficientFunds     = errors.New("token: insufficient balance")
	ErrNegativeSupply        = errors.New("token: total supply cannot be negative")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidExpiration     = errors.New("token: expiration ledger must be greater than current ledger")
	ErrNotSet                = errors.New("token: not set")
	ErrOverflow              = i128.ErrOverflow
)

// ErrorKind classifies failures for logs and metric labels.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindInsufficientFunds     ErrorKind = "insufficient_funds"
	KindNegativeSupply        ErrorKind = "negative_supply"
	KindInsufficientAllowance ErrorKind = "insufficient_allowance"
	KindInvalidExpiration     ErrorKind = "invalid_expiration"
	KindNotSet                ErrorKind = "not_set"
	KindOverflow              ErrorKind = "arithmetic_overflow"
	KindStorage               ErrorKind = "storage"
)

// KindOf maps err onto the failure taxonomy. Errors outside it are reported
// as KindStorage.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrNegativeSupply):
		return KindNegativeSupply
	case errors.Is(err, ErrInsufficientAllowance):
		return KindInsufficientAllowance
	case errors.Is(err, ErrInvalidExpiration):
		return KindInvalidExpiration
	case errors.Is(err, ErrNotSet):
		return KindNotSet
	case errors.Is(err, ErrOverflow):
		return KindOverflow
	default:
		return KindStorage
	}
}
