package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yourorg/zkspend/pkg/proof"
	"github.com/yourorg/zkspend/pkg/witness"
)

var ErrProverUnavailable = errors.New("prover: service unavailable")

// Client talks to a proof service over HTTP. It has the same Generate
// signature as Generator so either can back a settlement coordinator.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProverUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", ErrProverUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		var e proof.ErrorResponse
		_ = json.Unmarshal(raw, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, errors.New(e.Error)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("prover: decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*proof.Health, error) {
	var h proof.Health
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		if !errors.Is(err, ErrProverUnavailable) {
			err = fmt.Errorf("%w: %v", ErrProverUnavailable, err)
		}
		return nil, err
	}
	return &h, nil
}

// Generate calls POST /prove.
func (c *Client) Generate(ctx context.Context, circuitID string, in witness.Input) (*proof.Proof, proof.PublicSignals, error) {
	var resp proof.ProveResponse
	status, err := c.do(ctx, http.MethodPost, "/prove", proof.ProveRequest{Input: in, CircuitType: circuitID}, &resp)
	switch {
	case err == nil:
	case errors.Is(err, ErrProverUnavailable), status >= 502:
		if !errors.Is(err, ErrProverUnavailable) {
			err = fmt.Errorf("%w: %v", ErrProverUnavailable, err)
		}
		return nil, nil, err
	default:
		return nil, nil, fmt.Errorf("%w: %v", ErrProofGenerationFailed, err)
	}
	if resp.Proof == nil {
		return nil, nil, fmt.Errorf("%w: empty proof in response", ErrProofGenerationFailed)
	}
	return resp.Proof, resp.PublicSignals, nil
}

// Verify calls POST /verify.
func (c *Client) Verify(ctx context.Context, circuitID string, p *proof.Proof, signals proof.PublicSignals) (bool, error) {
	var resp proof.VerifyResponse
	if _, err := c.do(ctx, http.MethodPost, "/verify", proof.VerifyRequest{
		Proof:         p,
		PublicSignals: signals,
		CircuitType:   circuitID,
	}, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}
