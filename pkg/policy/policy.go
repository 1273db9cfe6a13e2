// Package policy enforces user-signed spending limits for automated payments.
//
// An authorization grants an agent the right to spend from a wallet at one
// service, capped per transaction and per UTC day. Each spend first takes a
// reservation against the day's ledger entry; the reservation is later
// committed when the payment settles or released when it does not. For every
// (wallet, service, day) the committed plus reserved total never exceeds the
// daily limit, however many reservations race for it.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yourorg/zkspend/internal/metrics"
	"github.com/yourorg/zkspend/pkg/signature"
)

type Policy struct {
	store   Store
	sigs    signature.Verifier
	now     func() time.Time
	log     zerolog.Logger
	metrics *metrics.Metrics

	locks keyedMutex
}

type Option func(*Policy)

func WithClock(now func() time.Time) Option { return func(p *Policy) { p.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(p *Policy) { p.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Policy) { p.metrics = m } }

func New(store Store, sigs signature.Verifier, opts ...Option) *Policy {
	p := &Policy{
		store: store,
		sigs:  sigs,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Policy) validate(t Terms) error {
	switch {
	case strings.TrimSpace(t.ServiceKey) == "":
		return fmt.Errorf("%w: empty service key", ErrInvalidTerms)
	case t.MaxPerTransaction == 0 || t.MaxDailySpend == 0:
		return fmt.Errorf("%w: limits must be positive", ErrInvalidTerms)
	case t.MaxPerTransaction > t.MaxDailySpend:
		return fmt.Errorf("%w: per-transaction limit above daily limit", ErrInvalidTerms)
	case t.MaxDailySpend > MaxLamports:
		return fmt.Errorf("%w: daily limit above %d lamports", ErrInvalidTerms, uint64(MaxLamports))
	case !t.ValidUntil.After(p.now()):
		return fmt.Errorf("%w: validity already over", ErrInvalidTerms)
	}
	if err := signature.ValidWallet(t.Wallet); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTerms, err)
	}
	return nil
}

// Authorize records terms signed by the wallet owner. The new record
// supersedes any earlier one for the same wallet and service.
func (p *Policy) Authorize(ctx context.Context, t Terms, sig string) (*Authorization, error) {
	if err := p.validate(t); err != nil {
		return nil, err
	}
	if err := p.sigs.Verify(t.Wallet, t.Message(), sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	a := &Authorization{
		ID:        uuid.NewString(),
		Terms:     t,
		Signature: sig,
		CreatedAt: p.now().UTC(),
	}
	a.ValidUntil = a.ValidUntil.UTC()
	if err := p.store.SaveAuthorization(ctx, a); err != nil {
		return nil, fmt.Errorf("policy: save authorization: %w", err)
	}
	p.log.Info().
		Str("wallet", t.Wallet).
		Str("service", t.ServiceKey).
		Str("authorization", a.ID).
		Str("maxPerTx", FormatSOL(t.MaxPerTransaction)).
		Str("maxDaily", FormatSOL(t.MaxDailySpend)).
		Time("validUntil", a.ValidUntil).
		Msg("authorization granted")
	return a, nil
}

// Revoke ends the current authorization for wallet and service. sig signs
// RevokeMessage for that authorization.
func (p *Policy) Revoke(ctx context.Context, wallet, serviceKey, sig string) (*Authorization, error) {
	a, err := p.store.LatestAuthorization(ctx, wallet, serviceKey)
	if err != nil {
		return nil, err
	}
	if a.Revoked {
		return nil, ErrRevoked
	}
	if err := p.sigs.Verify(wallet, RevokeMessage(wallet, serviceKey, a.ID), sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	at := p.now().UTC()
	if err := p.store.RevokeAuthorization(ctx, a.ID, at); err != nil {
		return nil, fmt.Errorf("policy: revoke: %w", err)
	}
	a.Revoked, a.RevokedAt = true, &at
	p.log.Info().Str("wallet", wallet).Str("service", serviceKey).Str("authorization", a.ID).Msg("authorization revoked")
	return a, nil
}

func (p *Policy) active(ctx context.Context, wallet, serviceKey string, now time.Time) (*Authorization, error) {
	a, err := p.store.LatestAuthorization(ctx, wallet, serviceKey)
	if err != nil {
		return nil, err
	}
	switch a.StateAt(now) {
	case StateRevoked:
		return nil, ErrRevoked
	case StateExpired:
		return nil, ErrExpired
	}
	return a, nil
}

// TryReserve checks, in order: a positive amount, an active authorization,
// the per-transaction limit, and the daily limit. Only the last one reads
// shared state, under the lock for the request's ledger key.
func (p *Policy) TryReserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	r, err := p.tryReserve(ctx, req)
	p.metrics.Reservation(reserveOutcome(err))
	if err != nil {
		p.log.Debug().Err(err).
			Str("wallet", req.Wallet).
			Str("service", req.ServiceKey).
			Str("amount", FormatSOL(req.Amount)).
			Msg("reservation refused")
		return nil, err
	}
	p.log.Debug().
		Str("reservation", r.ID).
		Str("wallet", r.Wallet).
		Str("service", r.ServiceKey).
		Str("amount", FormatSOL(r.Amount)).
		Str("spentBefore", FormatSOL(r.SpentBefore)).
		Msg("reserved")
	return r, nil
}

func (p *Policy) tryReserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if req.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	now := p.now()
	a, err := p.active(ctx, req.Wallet, req.ServiceKey, now)
	if err != nil {
		return nil, err
	}
	if req.Amount > a.MaxPerTransaction {
		return nil, &LimitError{
			Kind:      ErrPerTransactionLimitExceeded,
			Limit:     a.MaxPerTransaction,
			Attempted: req.Amount,
		}
	}

	key := Key{Wallet: req.Wallet, ServiceKey: req.ServiceKey, Day: DayOf(now)}
	unlock := p.locks.Lock(key)
	defer unlock()

	e, err := p.store.Entry(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("policy: ledger entry: %w", err)
	}
	spent := e.Spent()
	limitErr := func(spent uint64) error {
		return &LimitError{
			Kind:      ErrDailyLimitExceeded,
			Limit:     a.MaxDailySpend,
			Attempted: req.Amount,
			Spent:     spent,
		}
	}
	if spent > a.MaxDailySpend || req.Amount > a.MaxDailySpend-spent {
		return nil, limitErr(spent)
	}

	r := &Reservation{
		ID:              uuid.NewString(),
		Wallet:          req.Wallet,
		ServiceKey:      req.ServiceKey,
		Day:             key.Day,
		Amount:          req.Amount,
		AuthorizationID: a.ID,
		SpentBefore:     spent,
		IdempotencyKey:  req.IdempotencyKey,
		State:           ReservationPending,
		CreatedAt:       now.UTC(),
	}
	// The store re-checks the limit itself, which matters when another
	// process shares the ledger.
	switch err := p.store.Reserve(ctx, r, a.MaxDailySpend); {
	case errors.Is(err, ErrDailyLimitExceeded):
		if e, lerr := p.store.Entry(ctx, key); lerr == nil {
			spent = e.Spent()
		}
		return nil, limitErr(spent)
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("policy: reserve: %w", err)
	}
	r.Authorization = a
	return r, nil
}

func reserveOutcome(err error) string {
	switch {
	case err == nil:
		return "reserved"
	case errors.Is(err, ErrDailyLimitExceeded):
		return "daily_limit"
	case errors.Is(err, ErrPerTransactionLimitExceeded):
		return "per_tx_limit"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrRevoked), errors.Is(err, ErrExpired):
		return "unauthorized"
	default:
		return "error"
	}
}

// Commit marks a pending reservation as spent.
func (p *Policy) Commit(ctx context.Context, id string) (*Reservation, error) {
	return p.resolve(ctx, id, ReservationCommitted)
}

// Release returns a pending reservation's amount to the day's budget.
func (p *Policy) Release(ctx context.Context, id string) (*Reservation, error) {
	return p.resolve(ctx, id, ReservationReleased)
}

func (p *Policy) resolve(ctx context.Context, id string, to ReservationState) (*Reservation, error) {
	r, err := p.store.Reservation(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := p.locks.Lock(r.Key())
	defer unlock()

	r, err = p.store.Resolve(ctx, id, to, p.now().UTC())
	if err != nil {
		return nil, err
	}
	p.log.Debug().Str("reservation", id).Str("state", string(to)).Msg("reservation resolved")
	return r, nil
}

// Status reports the authorization state and today's spending for a wallet
// and service.
func (p *Policy) Status(ctx context.Context, wallet, serviceKey string) (*Status, error) {
	now := p.now()
	st := &Status{State: StateUnauthorized, Day: DayOf(now)}

	a, err := p.store.LatestAuthorization(ctx, wallet, serviceKey)
	switch {
	case errors.Is(err, ErrUnauthorized):
		return st, nil
	case err != nil:
		return nil, err
	}
	st.State = a.StateAt(now)
	st.Authorization = a

	e, err := p.store.Entry(ctx, Key{Wallet: wallet, ServiceKey: serviceKey, Day: st.Day})
	if err != nil {
		return nil, err
	}
	st.Committed, st.Reserved = e.Committed, e.Reserved
	if st.State == StateActive && e.Spent() < a.MaxDailySpend {
		st.Remaining = a.MaxDailySpend - e.Spent()
	}
	return st, nil
}

// Authorizations lists every authorization a wallet has granted, oldest first.
func (p *Policy) Authorizations(ctx context.Context, wallet string) ([]Authorization, error) {
	return p.store.ListAuthorizations(ctx, wallet)
}

// Pending lists unresolved reservations, oldest first.
func (p *Policy) Pending(ctx context.Context) ([]Reservation, error) {
	return p.store.Pending(ctx)
}
