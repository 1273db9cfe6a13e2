package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayLayout is the ledger day bucket format. Days are UTC.
const DayLayout = "2006-01-02"

func DayOf(t time.Time) string { return t.UTC().Format(DayLayout) }

type State string

const (
	StateUnauthorized State = "unauthorized"
	StateActive       State = "active"
	StateRevoked      State = "revoked"
	StateExpired      State = "expired"
)

// Terms are what a wallet owner signs to let an agent spend on their behalf.
type Terms struct {
	Wallet            string    `json:"wallet"`
	ServiceKey        string    `json:"serviceKey"`
	MaxPerTransaction uint64    `json:"maxPerTransaction,string"`
	MaxDailySpend     uint64    `json:"maxDailySpend,string"`
	ValidUntil        time.Time `json:"validUntil"`
}

// Message is the canonical byte string a wallet signs to grant Terms.
func (t Terms) Message() []byte {
	var b strings.Builder
	b.WriteString("zkspend authorization v1\n")
	fmt.Fprintf(&b, "wallet: %s\n", t.Wallet)
	fmt.Fprintf(&b, "service: %s\n", t.ServiceKey)
	fmt.Fprintf(&b, "max per transaction: %s lamports\n", strconv.FormatUint(t.MaxPerTransaction, 10))
	fmt.Fprintf(&b, "max daily spend: %s lamports\n", strconv.FormatUint(t.MaxDailySpend, 10))
	fmt.Fprintf(&b, "valid until: %d", t.ValidUntil.Unix())
	return []byte(b.String())
}

// RevokeMessage is the canonical byte string a wallet signs to revoke the
// authorization id.
func RevokeMessage(wallet, serviceKey, authorizationID string) []byte {
	return []byte(fmt.Sprintf("zkspend revocation v1\nwallet: %s\nservice: %s\nauthorization: %s",
		wallet, serviceKey, authorizationID))
}

type Authorization struct {
	ID string `json:"id"`
	Terms
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	Signature string     `json:"signature"`
	CreatedAt time.Time  `json:"createdAt"`
}

// StateAt evaluates expiry lazily against now.
func (a *Authorization) StateAt(now time.Time) State {
	switch {
	case a == nil:
		return StateUnauthorized
	case a.Revoked:
		return StateRevoked
	case now.After(a.ValidUntil):
		return StateExpired
	default:
		return StateActive
	}
}

// Key identifies one ledger bucket.
type Key struct {
	Wallet     string
	ServiceKey string
	Day        string
}

type LedgerEntry struct {
	Key
	Committed uint64
	Reserved  uint64
}

// Spent is what counts against the daily limit.
func (e LedgerEntry) Spent() uint64 { return e.Committed + e.Reserved }

type ReservationState string

const (
	ReservationPending   ReservationState = "pending"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

type Reservation struct {
	ID              string           `json:"id"`
	Wallet          string           `json:"wallet"`
	ServiceKey      string           `json:"serviceKey"`
	Day             string           `json:"day"`
	Amount          uint64           `json:"amount,string"`
	AuthorizationID string           `json:"authorizationId"`
	SpentBefore     uint64           `json:"spentBefore,string"`
	IdempotencyKey  string           `json:"idempotencyKey,omitempty"`
	State           ReservationState `json:"state"`
	CreatedAt       time.Time        `json:"createdAt"`
	ResolvedAt      *time.Time       `json:"resolvedAt,omitempty"`

	// Authorization is the record the reservation was checked against. It is
	// set by TryReserve and not persisted.
	Authorization *Authorization `json:"-"`
}

func (r *Reservation) Key() Key {
	return Key{Wallet: r.Wallet, ServiceKey: r.ServiceKey, Day: r.Day}
}

type ReserveRequest struct {
	Wallet         string
	ServiceKey     string
	Amount         uint64
	IdempotencyKey string
}

type Status struct {
	State         State          `json:"state"`
	Authorization *Authorization `json:"authorization,omitempty"`
	Day           string         `json:"day"`
	Committed     uint64         `json:"committed,string"`
	Reserved      uint64         `json:"reserved,string"`
	Remaining     uint64         `json:"remaining,string"`
}
