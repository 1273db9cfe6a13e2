// Package artifact loads compiled circuits and their groth16 keys from an
// artifact directory and memoizes them for the life of the process.
//
// A circuit id maps to three files:
//
//	<id>.r1cs  compiled constraint system
//	<id>.zkey  proving key container, optionally embedding the verifying key
//	<id>.vkey  precomputed verifying key (optional)
package artifact

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/yourorg/zkspend/circuits"
	"github.com/yourorg/zkspend/internal/metrics"
	"github.com/yourorg/zkspend/pkg/witness"
)

const (
	ExtR1CS = ".r1cs"
	ExtZKey = ".zkey"
	ExtVKey = ".vkey"
)

var (
	ErrArtifactNotFound           = errors.New("artifact: not found")
	ErrVerificationKeyUnavailable = errors.New("artifact: verification key unavailable")
	ErrUnknownCircuit             = errors.New("artifact: unknown circuit")
)

// Artifact is a loaded circuit. It is shared read-only between callers.
type Artifact struct {
	CircuitID  string
	Definition circuits.Definition
	CS         constraint.ConstraintSystem
	PK         groth16.ProvingKey
}

type Cache struct {
	fsys    fs.FS
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	artifacts map[string]*Artifact
	vks       map[string]groth16.VerifyingKey

	group singleflight.Group
}

type Option func(*Cache)

func WithLogger(l zerolog.Logger) Option { return func(c *Cache) { c.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Cache) { c.metrics = m } }

func New(fsys fs.FS, opts ...Option) *Cache {
	c := &Cache{
		fsys:      fsys,
		log:       zerolog.Nop(),
		artifacts: make(map[string]*Artifact),
		vks:       make(map[string]groth16.VerifyingKey),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open is New over a directory on disk.
func Open(dir string, opts ...Option) *Cache { return New(os.DirFS(dir), opts...) }

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && fs.ValidPath(id)
}

// Load returns the artifact for id, reading it from disk at most once.
// Concurrent callers for the same id share one read. Failed loads are not
// remembered.
func (c *Cache) Load(ctx context.Context, id string) (*Artifact, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %q", ErrArtifactNotFound, id)
	}
	c.mu.RLock()
	a, ok := c.artifacts[id]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}

	ch := c.group.DoChan("load:"+id, func() (any, error) {
		c.mu.RLock()
		a, ok := c.artifacts[id]
		c.mu.RUnlock()
		if ok {
			return a, nil
		}
		a, err := c.read(id)
		c.metrics.ArtifactLoaded(id, err)
		if err != nil {
			c.log.Warn().Err(err).Str("circuit", id).Msg("artifact load failed")
			return nil, err
		}
		c.mu.Lock()
		c.artifacts[id] = a
		c.mu.Unlock()
		c.log.Info().Str("circuit", id).Int("constraints", a.CS.GetNbConstraints()).Msg("artifact loaded")
		return a, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Artifact), nil
	}
}

func (c *Cache) open(name string) (fs.File, error) {
	f, err := c.fsys.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	return f, err
}

func (c *Cache) read(id string) (*Artifact, error) {
	def, ok := circuits.Lookup(id)
	if !ok {
		// an unregistered id has no files we could use either
		if _, err := fs.Stat(c.fsys, id+ExtZKey); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, id)
	}

	zf, err := c.open(id + ExtZKey)
	if err != nil {
		return nil, err
	}
	defer zf.Close()
	rf, err := c.open(id + ExtR1CS)
	if err != nil {
		return nil, err
	}
	defer rf.Close()

	return decode(def, zf, rf, id+ExtZKey, id+ExtR1CS)
}

func decode(def circuits.Definition, zkey, r1cs io.Reader, zkeyName, r1csName string) (*Artifact, error) {
	h, pk, err := ReadZKey(bufio.NewReader(zkey))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", zkeyName, err)
	}
	if h.CircuitID != def.ID {
		return nil, fmt.Errorf("%w: %s was built for circuit %q", ErrBadZKey, zkeyName, h.CircuitID)
	}
	cs := groth16.NewCS(h.Curve)
	if _, err := cs.ReadFrom(bufio.NewReader(r1cs)); err != nil {
		return nil, fmt.Errorf("artifact: %s: %w", r1csName, err)
	}
	// the constant wire counts as public
	if got, want := cs.GetNbPublicVariables()-1, len(witness.PublicNames(def)); got != want {
		return nil, fmt.Errorf("%w: %s has %d public inputs, circuit %q has %d", ErrBadZKey, r1csName, got, def.ID, want)
	}
	return &Artifact{CircuitID: def.ID, Definition: def, CS: cs, PK: pk}, nil
}

// VerifyingKey returns the verifying key for id: the .vkey file when there
// is one, otherwise the key embedded in the .zkey. The result is memoized.
func (c *Cache) VerifyingKey(ctx context.Context, id string) (groth16.VerifyingKey, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %q", ErrVerificationKeyUnavailable, id)
	}
	c.mu.RLock()
	vk, ok := c.vks[id]
	c.mu.RUnlock()
	if ok {
		return vk, nil
	}

	ch := c.group.DoChan("vk:"+id, func() (any, error) {
		c.mu.RLock()
		vk, ok := c.vks[id]
		c.mu.RUnlock()
		if ok {
			return vk, nil
		}
		vk, err := c.readVK(id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.vks[id] = vk
		c.mu.Unlock()
		return vk, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(groth16.VerifyingKey), nil
	}
}

func (c *Cache) readVK(id string) (groth16.VerifyingKey, error) {
	if f, err := c.fsys.Open(id + ExtVKey); err == nil {
		defer f.Close()
		vk, err := ReadVerifyingKey(bufio.NewReader(f))
		if err != nil {
			return nil, fmt.Errorf("%w: %s%s: %v", ErrVerificationKeyUnavailable, id, ExtVKey, err)
		}
		return vk, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrVerificationKeyUnavailable, err)
	}

	f, err := c.fsys.Open(id + ExtZKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrVerificationKeyUnavailable, id)
	}
	defer f.Close()
	c.log.Debug().Str("circuit", id).Msg("deriving verifying key from zkey")
	h, vk, err := ReadEmbeddedVerifyingKey(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVerificationKeyUnavailable, id, err)
	}
	if h.CircuitID != id {
		return nil, fmt.Errorf("%w: %s%s was built for circuit %q", ErrVerificationKeyUnavailable, id, ExtZKey, h.CircuitID)
	}
	return vk, nil
}

// Loaded lists the ids loaded so far, sorted.
func (c *Cache) Loaded() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.artifacts))
	for id := range c.artifacts {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Available lists the ids that have a .zkey in the artifact directory.
func (c *Cache) Available() ([]string, error) {
	matches, err := fs.Glob(c.fsys, "*"+ExtZKey)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(m, ExtZKey))
	}
	sort.Strings(out)
	return out, nil
}
