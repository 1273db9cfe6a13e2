package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Settler submits proven payments for on-chain settlement.
type Settler interface {
	Settle(ctx context.Context, req SettleRequest) (*SettleResult, error)
	// Lookup finds a settlement by idempotency key, or ErrSettlementNotFound.
	Lookup(ctx context.Context, idempotencyKey string) (*SettleResult, error)
}

// HTTPSettler talks to a settlement service:
//
//	POST {base}/settle              Idempotency-Key header, SettleRequest body
//	GET  {base}/settlements/{key}   200 SettleResult or 404
type HTTPSettler struct {
	baseURL string
	http    *http.Client
}

func NewHTTPSettler(baseURL string, client *http.Client) *HTTPSettler {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSettler{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

type settleResponse struct {
	TxHash    string `json:"txHash"`
	TxHashAlt string `json:"tx_hash"`
	Error     string `json:"error"`
	Code      string `json:"code"`
}

func (s *HTTPSettler) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/settle", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	return s.do(hreq)
}

func (s *HTTPSettler) Lookup(ctx context.Context, idempotencyKey string) (*SettleResult, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/settlements/"+url.PathEscape(idempotencyKey), nil)
	if err != nil {
		return nil, err
	}
	res, err := s.do(hreq)
	var rej *RejectedError
	if errors.As(err, &rej) && rej.Status == http.StatusNotFound {
		return nil, ErrSettlementNotFound
	}
	return res, err
}

func (s *HTTPSettler) do(req *http.Request) (*SettleResult, error) {
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettlementUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettlementUnreachable, err)
	}
	var out settleResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode >= 400 {
		// not JSON, e.g. a proxy's error page
		out.Error = strings.TrimSpace(string(raw))
	}
	msg := out.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode >= 500 || transient(resp.StatusCode):
		return nil, fmt.Errorf("%w: status %d: %s", ErrSettlementUnreachable, resp.StatusCode, msg)
	case resp.StatusCode >= 400:
		return nil, &RejectedError{Status: resp.StatusCode, Code: out.Code, Message: msg}
	}
	tx := out.TxHash
	if tx == "" {
		tx = out.TxHashAlt
	}
	if tx == "" {
		return nil, fmt.Errorf("%w: response without txHash", ErrSettlementUnreachable)
	}
	return &SettleResult{TxHash: tx}, nil
}

// transient reports 4xx answers that ask the client to come back later.
func transient(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return false
}

// Backoff retries with exponentially growing pauses.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Factor   float64
}

var DefaultBackoff = Backoff{Attempts: 3, Initial: time.Second, Factor: 2}

// Do calls fn until it succeeds, returns an error retryable rejects, the
// attempts run out or ctx ends. It returns fn's last error.
func (b Backoff) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := b.Initial
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !retryable(err) || i == attempts-1 {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		if b.Factor > 1 {
			delay = time.Duration(float64(delay) * b.Factor)
		}
	}
	return err
}

// ExplorerURL links a transaction on the Solana explorer for network, e.g.
// "solana-mainnet" or "solana-devnet".
func ExplorerURL(network, txHash string) string {
	u := "https://explorer.solana.com/tx/" + url.PathEscape(txHash)
	switch {
	case strings.Contains(network, "mainnet"):
		return u
	case strings.Contains(network, "testnet"):
		return u + "?cluster=testnet"
	default:
		return u + "?cluster=devnet"
	}
}
