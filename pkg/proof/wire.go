package proof

import "github.com/yourorg/zkspend/pkg/witness"

type ProveRequest struct {
	Input       witness.Input `json:"input"`
	CircuitType string        `json:"circuitType,omitempty"`
}

type Metadata struct {
	CircuitType string `json:"circuitType"`
	DurationMs  int64  `json:"durationMs,omitempty"`
	Timestamp   string `json:"timestamp"`
}

type ProveResponse struct {
	Proof         *Proof        `json:"proof"`
	PublicSignals PublicSignals `json:"publicSignals"`
	Metadata      Metadata      `json:"metadata"`
}

type VerifyRequest struct {
	Proof         *Proof        `json:"proof"`
	PublicSignals PublicSignals `json:"publicSignals"`
	CircuitType   string        `json:"circuitType,omitempty"`
}

type VerifyResponse struct {
	Valid    bool     `json:"valid"`
	Metadata Metadata `json:"metadata"`
}

type Health struct {
	Status         string   `json:"status"`
	Service        string   `json:"service"`
	LoadedCircuits []string `json:"loadedCircuits"`
}

type Circuits struct {
	Circuits []string `json:"circuits"`
	Loaded   []string `json:"loaded"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Stack string `json:"stack,omitempty"`
}
