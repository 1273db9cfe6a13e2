package settlement

import (
	"time"

	"github.com/yourorg/zkspend/pkg/proof"
)

// PaymentRequest asks for one automated payment. A blank IdempotencyKey is
// filled in with a fresh uuid.
type PaymentRequest struct {
	Wallet         string            `json:"wallet"`
	ServiceKey     string            `json:"serviceKey"`
	Amount         uint64            `json:"amount,string"` // lamports
	Resource       string            `json:"resource,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

type Receipt struct {
	IdempotencyKey string              `json:"idempotencyKey"`
	ReservationID  string              `json:"reservationId,omitempty"`
	TxHash         string              `json:"txHash"`
	Wallet         string              `json:"wallet"`
	ServiceKey     string              `json:"serviceKey"`
	Amount         uint64              `json:"amount,string"`
	Resource       string              `json:"resource,omitempty"`
	SettledAt      time.Time           `json:"settledAt"`
	Proof          *proof.Proof        `json:"proof,omitempty"`
	PublicSignals  proof.PublicSignals `json:"publicSignals,omitempty"`
}

type BatchResult struct {
	Request PaymentRequest `json:"request"`
	Receipt *Receipt       `json:"receipt,omitempty"`
	Err     error          `json:"-"`
}

// SettleRequest is the body of POST /settle.
type SettleRequest struct {
	IdempotencyKey string              `json:"-"`
	Proof          *proof.Proof        `json:"proof"`
	PublicSignals  proof.PublicSignals `json:"publicSignals"`
	Amount         uint64              `json:"amount,string"`
	Resource       string              `json:"resource,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty"`
}

type SettleResult struct {
	TxHash string `json:"txHash"`
}
