// Package server exposes proof generation and verification over HTTP:
//
//	GET  /health    liveness and loaded circuits
//	POST /prove     {input, circuitType?} -> {proof, publicSignals, metadata}
//	POST /verify    {proof, publicSignals, circuitType?} -> {valid, metadata}
//	GET  /circuits  circuits on disk and in memory
//	GET  /metrics   Prometheus exposition
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yourorg/zkspend/circuits"
	"github.com/yourorg/zkspend/internal/metrics"
	"github.com/yourorg/zkspend/pkg/artifact"
	"github.com/yourorg/zkspend/pkg/proof"
	"github.com/yourorg/zkspend/pkg/witness"
)

const ServiceName = "zkspend-prover"

type Prover interface {
	Generate(ctx context.Context, circuitID string, in witness.Input) (*proof.Proof, proof.PublicSignals, error)
}

type Verifier interface {
	Verify(ctx context.Context, circuitID string, p *proof.Proof, signals proof.PublicSignals) (bool, error)
}

// Catalog is satisfied by *artifact.Cache.
type Catalog interface {
	Loaded() []string
	Available() ([]string, error)
}

type Server struct {
	catalog  Catalog
	prover   Prover
	verifier Verifier
	log      zerolog.Logger
	metrics  *metrics.Metrics
	debug    bool
	now      func() time.Time

	engine *gin.Engine
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithDebug adds error details to 500 responses.
func WithDebug(on bool) Option { return func(s *Server) { s.debug = on } }

func New(catalog Catalog, prover Prover, verifier Verifier, opts ...Option) *Server {
	s := &Server{
		catalog:  catalog,
		prover:   prover,
		verifier: verifier,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	if !s.debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(s.logRequests(), s.recovery())
	r.GET("/health", s.health)
	r.POST("/prove", s.prove)
	r.POST("/verify", s.verify)
	r.GET("/circuits", s.circuits)
	if reg := s.metrics.Registry(); reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("proof service listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, proof.Health{
		Status:         "ok",
		Service:        ServiceName,
		LoadedCircuits: nonNil(s.catalog.Loaded()),
	})
}

func (s *Server) circuits(c *gin.Context) {
	avail, err := s.catalog.Available()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, proof.Circuits{
		Circuits: nonNil(avail),
		Loaded:   nonNil(s.catalog.Loaded()),
	})
}

func (s *Server) prove(c *gin.Context) {
	var req proof.ProveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if req.Input == nil {
		c.JSON(http.StatusBadRequest, proof.ErrorResponse{Error: "Missing input"})
		return
	}
	id := circuitType(req.CircuitType)
	if _, ok := circuits.Lookup(id); !ok {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("%w: %q", artifact.ErrUnknownCircuit, id))
		return
	}

	start := s.now()
	p, signals, err := s.prover.Generate(c.Request.Context(), id, req.Input)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	took := s.now().Sub(start)
	c.JSON(http.StatusOK, proof.ProveResponse{
		Proof:         p,
		PublicSignals: signals,
		Metadata: proof.Metadata{
			CircuitType: id,
			DurationMs:  took.Milliseconds(),
			Timestamp:   s.now().UTC().Format(time.RFC3339Nano),
		},
	})
}

func (s *Server) verify(c *gin.Context) {
	var req proof.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if req.Proof == nil || req.PublicSignals == nil {
		c.JSON(http.StatusBadRequest, proof.ErrorResponse{Error: "Missing proof or publicSignals"})
		return
	}
	id := circuitType(req.CircuitType)
	if _, ok := circuits.Lookup(id); !ok {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("%w: %q", artifact.ErrUnknownCircuit, id))
		return
	}

	ok, err := s.verifier.Verify(c.Request.Context(), id, req.Proof, req.PublicSignals)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, proof.VerifyResponse{
		Valid: ok,
		Metadata: proof.Metadata{
			CircuitType: id,
			Timestamp:   s.now().UTC().Format(time.RFC3339Nano),
		},
	})
}

func circuitType(t string) string {
	if t == "" {
		return circuits.Spending
	}
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
