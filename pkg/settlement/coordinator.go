// Package settlement drives a payment from reservation to settlement:
// reserve against the spending policy, prove the reservation fits the
// signed terms, settle, then commit or release the reservation. A
// reservation is always resolved, whatever happens to the caller.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/zkspend/circuits"
	"github.com/yourorg/zkspend/internal/metrics"
	"github.com/yourorg/zkspend/pkg/events"
	"github.com/yourorg/zkspend/pkg/policy"
	"github.com/yourorg/zkspend/pkg/proof"
	"github.com/yourorg/zkspend/pkg/witness"
)

// Ledger is the part of *policy.Policy the coordinator uses.
type Ledger interface {
	TryReserve(ctx context.Context, req policy.ReserveRequest) (*policy.Reservation, error)
	Commit(ctx context.Context, id string) (*policy.Reservation, error)
	Release(ctx context.Context, id string) (*policy.Reservation, error)
	Pending(ctx context.Context) ([]policy.Reservation, error)
}

// Prover is satisfied by *prover.Generator and *prover.Client.
type Prover interface {
	Generate(ctx context.Context, circuitID string, in witness.Input) (*proof.Proof, proof.PublicSignals, error)
}

const (
	defaultSettleTimeout = 30 * time.Second
	defaultConcurrency   = 8
	resolveTimeout       = 30 * time.Second
)

type Coordinator struct {
	ledger  Ledger
	prover  Prover
	settler Settler
	events  events.Publisher
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	circuitID     string
	backoff       Backoff
	settleTimeout time.Duration
	concurrency   int

	mu       sync.Mutex
	flights  map[string]*flight  // by idempotency key
	done     map[string]*Receipt // by idempotency key
	inflight map[string]struct{} // reservation ids owned by a running Pay
}

type Option func(*Coordinator)

func WithBackoff(b Backoff) Option { return func(c *Coordinator) { c.backoff = b } }

// WithSettleTimeout bounds each settlement attempt.
func WithSettleTimeout(d time.Duration) Option { return func(c *Coordinator) { c.settleTimeout = d } }

// WithConcurrency bounds PayBatch.
func WithConcurrency(n int) Option { return func(c *Coordinator) { c.concurrency = n } }

func WithCircuit(id string) Option { return func(c *Coordinator) { c.circuitID = id } }

func WithEvents(p events.Publisher) Option { return func(c *Coordinator) { c.events = p } }

func WithLogger(l zerolog.Logger) Option { return func(c *Coordinator) { c.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func New(ledger Ledger, prover Prover, settler Settler, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:        ledger,
		prover:        prover,
		settler:       settler,
		events:        events.Nop{},
		log:           zerolog.Nop(),
		now:           time.Now,
		circuitID:     circuits.Spending,
		backoff:       DefaultBackoff,
		settleTimeout: defaultSettleTimeout,
		concurrency:   defaultConcurrency,
		flights:       make(map[string]*flight),
		done:          make(map[string]*Receipt),
		inflight:      make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// flight is one running payment shared by every caller with its key. Its
// context ends only when all of those callers have gone.
type flight struct {
	done    chan struct{}
	receipt *Receipt
	err     error

	cancel    context.CancelFunc
	waiters   int  // guarded by Coordinator.mu
	abandoned bool // guarded by Coordinator.mu
}

// join returns the cached receipt for the key, or the flight to wait on,
// starting one if none runs. stale reports a flight every earlier caller
// had already given up on.
func (c *Coordinator) join(ctx context.Context, req PaymentRequest) (r *Receipt, f *flight, stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.done[req.IdempotencyKey]; ok {
		return r, nil, false
	}
	if f, ok := c.flights[req.IdempotencyKey]; ok {
		if f.abandoned {
			return nil, f, true
		}
		f.waiters++
		return nil, f, false
	}

	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f = &flight{done: make(chan struct{}), cancel: cancel, waiters: 1}
	c.flights[req.IdempotencyKey] = f
	go func() {
		defer cancel()
		r, err := c.pay(fctx, req)
		c.mu.Lock()
		delete(c.flights, req.IdempotencyKey)
		c.mu.Unlock()
		f.receipt, f.err = r, err
		close(f.done)
	}()
	return nil, f, false
}

func (c *Coordinator) leave(f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters == 0 {
		f.abandoned = true
		f.cancel()
	}
}

// Pay runs one payment. Concurrent calls with the same idempotency key share
// one execution, which runs until the last of them gives up; a key that
// already settled returns its receipt again.
func (c *Coordinator) Pay(ctx context.Context, req PaymentRequest) (*Receipt, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	for {
		r, f, stale := c.join(ctx, req)
		if r != nil {
			return r, nil
		}
		select {
		case <-f.done:
			if stale && f.err != nil && ctx.Err() == nil {
				// cancelled before this call arrived; run it again
				continue
			}
			return f.receipt, f.err
		case <-ctx.Done():
			if !stale {
				c.leave(f)
			}
			return nil, ctx.Err()
		}
	}
}

func (c *Coordinator) pay(ctx context.Context, req PaymentRequest) (*Receipt, error) {
	log := c.log.With().
		Str("key", req.IdempotencyKey).
		Str("wallet", req.Wallet).
		Str("service", req.ServiceKey).
		Str("amount", policy.FormatSOL(req.Amount)).
		Logger()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := c.ledger.TryReserve(ctx, policy.ReserveRequest{
		Wallet:         req.Wallet,
		ServiceKey:     req.ServiceKey,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if errors.Is(err, policy.ErrDuplicateIdempotencyKey) {
		// reserved by an earlier process; the settler knows how it ended
		if r, lerr := c.settler.Lookup(ctx, req.IdempotencyKey); lerr == nil {
			return c.remember(req, "", r.TxHash, nil, nil), nil
		}
		return nil, err
	}
	if err != nil {
		log.Info().Err(err).Msg("payment refused")
		c.metrics.Settlement("refused")
		c.publish(ctx, events.PaymentRefused, req, "", "", err)
		return nil, err
	}

	c.track(res.ID, true)
	defer c.track(res.ID, false)
	log = log.With().Str("reservation", res.ID).Logger()

	p, signals, err := c.prover.Generate(ctx, c.circuitID, c.witness(res))
	if err != nil {
		c.release(ctx, res.ID, log)
		log.Warn().Err(err).Msg("proof generation failed")
		c.metrics.Settlement("proof_failed")
		c.publish(ctx, events.PaymentFailed, req, res.ID, "", err)
		return nil, fmt.Errorf("%w: %w", ErrProofFailed, err)
	}

	sreq := SettleRequest{
		IdempotencyKey: req.IdempotencyKey,
		Proof:          p,
		PublicSignals:  signals,
		Amount:         req.Amount,
		Resource:       req.Resource,
		Metadata:       req.Metadata,
	}
	var result *SettleResult
	err = c.backoff.Do(ctx, retryable, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, c.settleTimeout)
		defer cancel()
		r, err := c.settler.Settle(sctx, sreq)
		if err != nil {
			if !errors.Is(err, ErrSettlementUnreachable) && sctx.Err() != nil && ctx.Err() == nil {
				err = fmt.Errorf("%w: %v", ErrSettlementUnreachable, err)
			}
			log.Debug().Err(err).Msg("settle attempt failed")
			return err
		}
		result = r
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrSettlementRejected):
		c.release(ctx, res.ID, log)
		log.Warn().Err(err).Msg("settlement rejected")
		c.metrics.Settlement("rejected")
		c.publish(ctx, events.PaymentRejected, req, res.ID, "", err)
		return nil, err
	default:
		// Unreachable after every retry, or the caller went away. Whether
		// the payment landed is unknown, so ask before deciding.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		r, lerr := c.settler.Lookup(lctx, req.IdempotencyKey)
		cancel()
		if lerr != nil {
			c.release(ctx, res.ID, log)
			log.Warn().Err(err).AnErr("lookup", lerr).Msg("settlement failed, reservation released")
			c.metrics.Settlement("unreachable")
			c.publish(ctx, events.PaymentFailed, req, res.ID, "", err)
			return nil, err
		}
		log.Info().Str("tx", r.TxHash).Msg("settlement found by lookup")
		result = r
	}

	if err := c.commit(ctx, res.ID); err != nil {
		// left pending; Recover will commit it from the settler's record
		log.Error().Err(err).Str("tx", result.TxHash).Msg("commit after settlement failed")
		return nil, fmt.Errorf("settlement: commit %s: %w", res.ID, err)
	}
	log.Info().Str("tx", result.TxHash).Msg("payment settled")
	c.metrics.Settlement("committed")
	c.publish(ctx, events.PaymentSettled, req, res.ID, result.TxHash, nil)
	return c.remember(req, res.ID, result.TxHash, p, signals), nil
}

func retryable(err error) bool { return errors.Is(err, ErrSettlementUnreachable) }

func (c *Coordinator) witness(res *policy.Reservation) witness.Input {
	a := res.Authorization
	return witness.Spending(witness.SpendingTerms{
		Wallet:          res.Wallet,
		Service:         res.ServiceKey,
		AuthorizationID: res.AuthorizationID,
		MaxPerTx:        a.MaxPerTransaction,
		MaxDailySpend:   a.MaxDailySpend,
		ValidUntil:      a.ValidUntil.Unix(),
		SpentToday:      res.SpentBefore,
		Amount:          res.Amount,
		Now:             res.CreatedAt.Unix(),
		Nonce:           res.ID,
	})
}

func (c *Coordinator) remember(req PaymentRequest, reservationID, txHash string, p *proof.Proof, signals proof.PublicSignals) *Receipt {
	r := &Receipt{
		IdempotencyKey: req.IdempotencyKey,
		ReservationID:  reservationID,
		TxHash:         txHash,
		Wallet:         req.Wallet,
		ServiceKey:     req.ServiceKey,
		Amount:         req.Amount,
		Resource:       req.Resource,
		SettledAt:      c.now().UTC(),
		Proof:          p,
		PublicSignals:  signals,
	}
	c.mu.Lock()
	c.done[req.IdempotencyKey] = r
	c.mu.Unlock()
	return r
}

func (c *Coordinator) track(reservationID string, on bool) {
	c.mu.Lock()
	if on {
		c.inflight[reservationID] = struct{}{}
	} else {
		delete(c.inflight, reservationID)
	}
	c.mu.Unlock()
	if on {
		c.metrics.Inflight(1)
	} else {
		c.metrics.Inflight(-1)
	}
}

func (c *Coordinator) owned(reservationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[reservationID]
	return ok
}

// commit and release run detached from ctx's cancellation: once reserved,
// the reservation must be resolved.
func (c *Coordinator) commit(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
	defer cancel()
	_, err := c.ledger.Commit(ctx, id)
	return err
}

func (c *Coordinator) release(ctx context.Context, id string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
	defer cancel()
	if _, err := c.ledger.Release(ctx, id); err != nil {
		log.Error().Err(err).Msg("release failed")
	}
}

func (c *Coordinator) publish(ctx context.Context, kind events.Kind, req PaymentRequest, reservationID, txHash string, cause error) {
	e := events.Event{
		Kind:           kind,
		IdempotencyKey: req.IdempotencyKey,
		ReservationID:  reservationID,
		Wallet:         req.Wallet,
		ServiceKey:     req.ServiceKey,
		Amount:         req.Amount,
		TxHash:         txHash,
		Metadata:       req.Metadata,
		At:             c.now().UTC(),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.events.Publish(ctx, e); err != nil {
		c.log.Warn().Err(err).Str("kind", string(kind)).Msg("event publish failed")
	}
}

// PayBatch runs every request, at most WithConcurrency at a time. Results
// are in request order; one failure does not stop the others.
func (c *Coordinator) PayBatch(ctx context.Context, reqs []PaymentRequest) []BatchResult {
	out := make([]BatchResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(max(c.concurrency, 1))
	for i := range reqs {
		req := reqs[i]
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = uuid.NewString()
		}
		out[i].Request = req
		g.Go(func() error {
			out[i].Receipt, out[i].Err = c.Pay(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type RecoverySummary struct {
	Committed int `json:"committed"`
	Released  int `json:"released"`
	Skipped   int `json:"skipped"`
}

// Recover resolves reservations a previous process left pending, using the
// settler's record of each idempotency key. Reservations whose outcome can
// not be determined yet stay pending for the next run.
func (c *Coordinator) Recover(ctx context.Context) (RecoverySummary, error) {
	var sum RecoverySummary
	pending, err := c.ledger.Pending(ctx)
	if err != nil {
		return sum, err
	}
	for _, res := range pending {
		if c.owned(res.ID) {
			sum.Skipped++
			continue
		}
		log := c.log.With().Str("reservation", res.ID).Str("key", res.IdempotencyKey).Logger()
		req := PaymentRequest{
			Wallet:         res.Wallet,
			ServiceKey:     res.ServiceKey,
			Amount:         res.Amount,
			IdempotencyKey: res.IdempotencyKey,
		}

		var r *SettleResult
		lerr := ErrSettlementNotFound
		if res.IdempotencyKey != "" {
			r, lerr = c.settler.Lookup(ctx, res.IdempotencyKey)
		}
		switch {
		case lerr == nil:
			if _, err := c.ledger.Commit(ctx, res.ID); err != nil {
				if errors.Is(err, policy.ErrReservationAlreadyResolved) {
					continue
				}
				return sum, err
			}
			sum.Committed++
			log.Info().Str("tx", r.TxHash).Msg("recovered settled payment")
			c.publish(ctx, events.PaymentRecovered, req, res.ID, r.TxHash, nil)
		case errors.Is(lerr, ErrSettlementNotFound):
			if _, err := c.ledger.Release(ctx, res.ID); err != nil {
				if errors.Is(err, policy.ErrReservationAlreadyResolved) {
					continue
				}
				return sum, err
			}
			sum.Released++
			log.Info().Msg("released unsettled reservation")
			c.publish(ctx, events.PaymentRecovered, req, res.ID, "", ErrSettlementNotFound)
		default:
			sum.Skipped++
			log.Warn().Err(lerr).Msg("settlement outcome unknown, leaving pending")
		}
	}
	return sum, nil
}
