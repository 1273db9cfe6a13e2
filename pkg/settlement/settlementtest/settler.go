// Package settlementtest has an in-memory settler for exercising the
// coordinator without a settlement service.
package settlementtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yourorg/zkspend/pkg/settlement"
)

// Settler settles every request unless told otherwise. Like the real
// service it is idempotent: a key settles once and keeps its tx hash.
type Settler struct {
	// FailFirst answers that many Settle calls with ErrSettlementUnreachable.
	FailFirst int
	// Lost makes the failed calls still settle, as when the answer is lost
	// on the way back.
	Lost bool
	// Reject, when set, is returned by every Settle call.
	Reject *settlement.RejectedError
	// Delay holds each Settle call, or until its context ends.
	Delay time.Duration
	// LookupErr, when set, is returned by every Lookup call.
	LookupErr error

	mu      sync.Mutex
	calls   []settlement.SettleRequest
	lookups int
	settled map[string]string
}

var _ settlement.Settler = (*Settler)(nil)

func (s *Settler) Settle(ctx context.Context, req settlement.SettleRequest) (*settlement.SettleResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	n := len(s.calls)
	s.mu.Unlock()

	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %w", settlement.ErrSettlementUnreachable, ctx.Err())
		case <-t.C:
		}
	}
	if s.Reject != nil {
		return nil, s.Reject
	}
	if n <= s.FailFirst {
		if s.Lost {
			s.settle(req.IdempotencyKey)
		}
		return nil, fmt.Errorf("%w: attempt %d timed out", settlement.ErrSettlementUnreachable, n)
	}
	return &settlement.SettleResult{TxHash: s.settle(req.IdempotencyKey)}, nil
}

func (s *Settler) settle(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled == nil {
		s.settled = make(map[string]string)
	}
	if tx, ok := s.settled[key]; ok {
		return tx
	}
	tx := fmt.Sprintf("tx-%d-%s", len(s.settled)+1, key)
	s.settled[key] = tx
	return tx
}

func (s *Settler) Lookup(_ context.Context, key string) (*settlement.SettleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.LookupErr != nil {
		return nil, s.LookupErr
	}
	tx, ok := s.settled[key]
	if !ok {
		return nil, settlement.ErrSettlementNotFound
	}
	return &settlement.SettleResult{TxHash: tx}, nil
}

// MarkSettled records key as settled without a Settle call, as if another
// process had settled it.
func (s *Settler) MarkSettled(key string) string { return s.settle(key) }

// Calls returns the Settle requests received so far.
func (s *Settler) Calls() []settlement.SettleRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]settlement.SettleRequest(nil), s.calls...)
}

func (s *Settler) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// Settled reports how many distinct keys settled.
func (s *Settler) Settled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.settled)
}
