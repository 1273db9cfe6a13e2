// Package app assembles the components a zkspend process runs from its
// configuration.
package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/yourorg/zkspend/internal/config"
	"github.com/yourorg/zkspend/internal/metrics"
	"github.com/yourorg/zkspend/pkg/artifact"
	"github.com/yourorg/zkspend/pkg/events"
	"github.com/yourorg/zkspend/pkg/policy"
	"github.com/yourorg/zkspend/pkg/policy/sqlstore"
	"github.com/yourorg/zkspend/pkg/prover"
	"github.com/yourorg/zkspend/pkg/server"
	"github.com/yourorg/zkspend/pkg/settlement"
	"github.com/yourorg/zkspend/pkg/signature"
	"github.com/yourorg/zkspend/pkg/verifier"
)

var ErrNoSettler = errors.New("app: ZKSPEND_SETTLER_URL is not set")

type App struct {
	Config    config.Config
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
	Artifacts *artifact.Cache
	Prover    settlement.Prover
	Verifier  *verifier.Verifier
	Policy    *policy.Policy

	closers []func() error
}

func New(cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	a.Artifacts = artifact.Open(cfg.CircuitDir,
		artifact.WithLogger(log.With().Str("component", "artifacts").Logger()),
		artifact.WithMetrics(a.Metrics))
	a.Verifier = verifier.New(a.Artifacts,
		verifier.WithLogger(log.With().Str("component", "verifier").Logger()),
		verifier.WithMetrics(a.Metrics))
	if cfg.ProverURL != "" {
		a.Prover = prover.NewClient(cfg.ProverURL, 0)
	} else {
		a.Prover = prover.New(a.Artifacts,
			prover.WithLogger(log.With().Str("component", "prover").Logger()),
			prover.WithMetrics(a.Metrics))
	}

	store, err := a.store()
	if err != nil {
		return nil, err
	}
	a.Policy = policy.New(store, signature.Auto{},
		policy.WithLogger(log.With().Str("component", "policy").Logger()),
		policy.WithMetrics(a.Metrics))
	return a, nil
}

func (a *App) store() (policy.Store, error) {
	if a.Config.DatabaseURL == "" {
		a.Log.Warn().Msg("no database configured, ledger kept in memory")
		return policy.NewMemoryStore(), nil
	}
	s, err := sqlstore.Open(a.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: open ledger: %w", err)
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// Server builds the proof service.
func (a *App) Server() *server.Server {
	return server.New(a.Artifacts, a.Prover, a.Verifier,
		server.WithLogger(a.Log.With().Str("component", "http").Logger()),
		server.WithMetrics(a.Metrics),
		server.WithDebug(a.Config.Debug))
}

// Coordinator builds the payment coordinator. It needs a settler URL; the
// event publisher is AMQP when configured and a no-op otherwise.
func (a *App) Coordinator() (*settlement.Coordinator, error) {
	if a.Config.SettlerURL == "" {
		return nil, ErrNoSettler
	}
	var pub events.Publisher = events.Nop{}
	if a.Config.AMQPURL != "" {
		p, err := events.DialAMQP(a.Config.AMQPURL, a.Config.AMQPExchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		pub = p
	}
	settler := settlement.NewHTTPSettler(a.Config.SettlerURL, &http.Client{})
	return settlement.New(a.Policy, a.Prover, settler,
		settlement.WithBackoff(settlement.Backoff{
			Attempts: a.Config.SettleAttempts,
			Initial:  a.Config.SettleBackoff,
			Factor:   2,
		}),
		settlement.WithSettleTimeout(a.Config.SettleTimeout),
		settlement.WithConcurrency(a.Config.BatchConcurrency),
		settlement.WithEvents(pub),
		settlement.WithLogger(a.Log.With().Str("component", "settlement").Logger()),
		settlement.WithMetrics(a.Metrics),
	), nil
}

// Close releases the database and broker connections, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
