// Package config reads zkspend settings from the environment. A .env file in
// the working directory is loaded first; variables already set win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const prefix = "ZKSPEND_"

type Config struct {
	CircuitDir string
	Port       int
	Network    string
	LogLevel   string
	Debug      bool

	SettlerURL string
	// ProverURL selects a remote proof service; empty proves in process.
	ProverURL string
	// DatabaseURL is a postgres DSN or a sqlite path; empty keeps the
	// ledger in memory.
	DatabaseURL string

	AMQPURL      string
	AMQPExchange string

	BatchConcurrency int
	SettleAttempts   int
	SettleBackoff    time.Duration
	SettleTimeout    time.Duration
}

func Default() Config {
	return Config{
		CircuitDir:       "circuits/build",
		Port:             3001,
		Network:          "solana-mainnet",
		LogLevel:         "info",
		AMQPExchange:     "zkspend.payments",
		BatchConcurrency: 8,
		SettleAttempts:   3,
		SettleBackoff:    time.Second,
		SettleTimeout:    30 * time.Second,
	}
}

// Load reads files (".env" when none are given, missing files are fine)
// and then the ZKSPEND_* variables over Default.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	r := reader{lookup: lookup}
	r.str("CIRCUIT_DIR", &c.CircuitDir)
	r.int("PORT", &c.Port)
	r.str("NETWORK", &c.Network)
	r.str("LOG_LEVEL", &c.LogLevel)
	r.bool("DEBUG", &c.Debug)
	r.str("SETTLER_URL", &c.SettlerURL)
	r.str("PROVER_URL", &c.ProverURL)
	r.str("DATABASE_URL", &c.DatabaseURL)
	r.str("AMQP_URL", &c.AMQPURL)
	r.str("AMQP_EXCHANGE", &c.AMQPExchange)
	r.int("BATCH_CONCURRENCY", &c.BatchConcurrency)
	r.int("SETTLE_ATTEMPTS", &c.SettleAttempts)
	r.dur("SETTLE_BACKOFF", &c.SettleBackoff)
	r.dur("SETTLE_TIMEOUT", &c.SettleTimeout)
	if r.err != nil {
		return Config{}, r.err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	case c.BatchConcurrency < 1:
		return fmt.Errorf("config: batch concurrency must be positive")
	case c.SettleAttempts < 1:
		return fmt.Errorf("config: settle attempts must be positive")
	case c.SettleTimeout <= 0:
		return fmt.Errorf("config: settle timeout must be positive")
	}
	return nil
}

func (c Config) Addr() string { return ":" + strconv.Itoa(c.Port) }

type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) get(name string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	v, ok := r.lookup(prefix + name)
	return v, ok && v != ""
}

func (r *reader) fail(name, v string, err error) {
	r.err = fmt.Errorf("config: %s%s=%q: %w", prefix, name, v, err)
}

func (r *reader) str(name string, dst *string) {
	if v, ok := r.get(name); ok {
		*dst = v
	}
}

func (r *reader) int(name string, dst *int) {
	if v, ok := r.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (r *reader) bool(name string, dst *bool) {
	if v, ok := r.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (r *reader) dur(name string, dst *time.Duration) {
	if v, ok := r.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.fail(name, v, err)
			return
		}
		*dst = d
	}
}
