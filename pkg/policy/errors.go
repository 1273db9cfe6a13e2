package policy

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount               = errors.New("policy: amount must be positive")
	ErrInvalidTerms                = errors.New("policy: invalid authorization terms")
	ErrInvalidSignature            = errors.New("policy: invalid signature")
	ErrUnauthorized                = errors.New("policy: no authorization")
	ErrRevoked                     = errors.New("policy: authorization revoked")
	ErrExpired                     = errors.New("policy: authorization expired")
	ErrPerTransactionLimitExceeded = errors.New("policy: per-transaction limit exceeded")
	ErrDailyLimitExceeded          = errors.New("policy: daily limit exceeded")
	ErrReservationNotFound         = errors.New("policy: reservation not found")
	ErrReservationAlreadyResolved  = errors.New("policy: reservation already resolved")
	ErrDuplicateIdempotencyKey     = errors.New("policy: idempotency key already used")
)

// LimitError is returned when a reservation would break a limit. Kind is
// ErrPerTransactionLimitExceeded or ErrDailyLimitExceeded.
type LimitError struct {
	Kind      error
	Limit     uint64
	Attempted uint64
	Spent     uint64 // committed plus reserved today; zero for per-transaction
}

func (e *LimitError) Error() string {
	if e.Kind == ErrDailyLimitExceeded {
		return fmt.Sprintf("%v: %s SOL requested, %s of %s SOL already spent today",
			e.Kind, FormatSOL(e.Attempted), FormatSOL(e.Spent), FormatSOL(e.Limit))
	}
	return fmt.Sprintf("%v: %s SOL requested, limit %s SOL",
		e.Kind, FormatSOL(e.Attempted), FormatSOL(e.Limit))
}

func (e *LimitError) Unwrap() error { return e.Kind }
