package sqlstore

import (
	"time"

	"github.com/yourorg/zkspend/pkg/policy"
)

// Amounts are lamports. Postgres has no unsigned bigint, so they must stay
// below 2^63, which is far beyond any real SOL balance.

type authorizationRow struct {
	Seq               uint64 `gorm:"primaryKey;autoIncrement"`
	ID                string `gorm:"uniqueIndex;size:36"`
	Wallet            string `gorm:"index:idx_authorizations_wallet_service;size:64"`
	ServiceKey        string `gorm:"index:idx_authorizations_wallet_service"`
	MaxPerTransaction uint64
	MaxDailySpend     uint64
	ValidUntil        time.Time
	Revoked           bool
	RevokedAt         *time.Time
	Signature         string
	CreatedAt         time.Time
}

func (authorizationRow) TableName() string { return "authorizations" }

func (r *authorizationRow) domain() *policy.Authorization {
	a := &policy.Authorization{
		ID: r.ID,
		Terms: policy.Terms{
			Wallet:            r.Wallet,
			ServiceKey:        r.ServiceKey,
			MaxPerTransaction: r.MaxPerTransaction,
			MaxDailySpend:     r.MaxDailySpend,
			ValidUntil:        r.ValidUntil.UTC(),
		},
		Revoked:   r.Revoked,
		Signature: r.Signature,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.RevokedAt != nil {
		at := r.RevokedAt.UTC()
		a.RevokedAt = &at
	}
	return a
}

type ledgerRow struct {
	Wallet     string `gorm:"primaryKey;size:64"`
	ServiceKey string `gorm:"primaryKey"`
	Day        string `gorm:"primaryKey;size:10"`
	Committed  uint64
	Reserved   uint64
}

func (ledgerRow) TableName() string { return "ledger_entries" }

type reservationRow struct {
	ID              string `gorm:"primaryKey;size:36"`
	Wallet          string `gorm:"size:64"`
	ServiceKey      string
	Day             string `gorm:"size:10"`
	Amount          uint64
	AuthorizationID string  `gorm:"size:36"`
	SpentBefore     uint64
	IdempotencyKey  *string `gorm:"uniqueIndex:idx_reservations_live_key,where:state <> 'released'"`
	State           string  `gorm:"index;size:16"`
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

func (reservationRow) TableName() string { return "reservations" }

func fromReservation(r *policy.Reservation) *reservationRow {
	row := &reservationRow{
		ID:              r.ID,
		Wallet:          r.Wallet,
		ServiceKey:      r.ServiceKey,
		Day:             r.Day,
		Amount:          r.Amount,
		AuthorizationID: r.AuthorizationID,
		SpentBefore:     r.SpentBefore,
		State:           string(r.State),
		CreatedAt:       r.CreatedAt,
		ResolvedAt:      r.ResolvedAt,
	}
	if r.IdempotencyKey != "" {
		k := r.IdempotencyKey
		row.IdempotencyKey = &k
	}
	return row
}

func (row *reservationRow) domain() *policy.Reservation {
	r := &policy.Reservation{
		ID:              row.ID,
		Wallet:          row.Wallet,
		ServiceKey:      row.ServiceKey,
		Day:             row.Day,
		Amount:          row.Amount,
		AuthorizationID: row.AuthorizationID,
		SpentBefore:     row.SpentBefore,
		State:           policy.ReservationState(row.State),
		CreatedAt:       row.CreatedAt.UTC(),
	}
	if row.IdempotencyKey != nil {
		r.IdempotencyKey = *row.IdempotencyKey
	}
	if row.ResolvedAt != nil {
		at := row.ResolvedAt.UTC()
		r.ResolvedAt = &at
	}
	return r
}
