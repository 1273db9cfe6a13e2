package settlement

import (
	"errors"
	"fmt"
)

var (
	// ErrSettlementRejected means the settler refused the payment for good;
	// retrying would not help.
	ErrSettlementRejected = errors.New("settlement: rejected")
	// ErrSettlementUnreachable covers transport errors, timeouts and 5xx
	// answers. The payment may or may not have gone through.
	ErrSettlementUnreachable = errors.New("settlement: unreachable")
	ErrSettlementNotFound    = errors.New("settlement: not found")
	ErrProofFailed           = errors.New("settlement: proof generation failed")
)

// RejectedError carries the settler's reason, e.g. "insufficient_escrow".
type RejectedError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%v (%d %s): %s", ErrSettlementRejected, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%v (%d): %s", ErrSettlementRejected, e.Status, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrSettlementRejected }
