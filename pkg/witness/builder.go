package witness

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	backendwitness "github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"

	"github.com/yourorg/zkspend/circuits"
	"github.com/yourorg/zkspend/internal/commit"
)

var variableType = reflect.TypeOf((*frontend.Variable)(nil)).Elem()

type field struct {
	name   string
	index  int
	public bool
}

// fields lists the witness inputs of a circuit in declaration order, which is
// also the order gnark lays out the public witness for flat circuits.
func fields(c frontend.Circuit) []field {
	t := reflect.TypeOf(c).Elem()
	out := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type != variableType {
			continue
		}
		name := strings.Split(f.Tag.Get("json"), ",")[0]
		if name == "" {
			name = f.Name
		}
		out = append(out, field{
			name:   name,
			index:  i,
			public: strings.Contains(f.Tag.Get("gnark"), "public"),
		})
	}
	return out
}

// PublicNames returns the public input names of def in witness order.
func PublicNames(def circuits.Definition) []string {
	var names []string
	for _, f := range fields(def.New()) {
		if f.public {
			names = append(names, f.name)
		}
	}
	return names
}

func parse(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || !commit.InField(v) {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidValue, name, s)
	}
	return v, nil
}

// Assign fills every input of a fresh def circuit from in.
func Assign(def circuits.Definition, in Input) (frontend.Circuit, error) {
	c := def.New()
	v := reflect.ValueOf(c).Elem()
	fs := fields(c)
	known := make(map[string]struct{}, len(fs))
	for _, f := range fs {
		known[f.name] = struct{}{}
		s, ok := in[f.name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingInput, f.name)
		}
		n, err := parse(f.name, s)
		if err != nil {
			return nil, err
		}
		v.Field(f.index).Set(reflect.ValueOf(n))
	}
	for k := range in {
		if _, ok := known[k]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInput, k)
		}
	}
	return c, nil
}

func Build(def circuits.Definition, in Input) (*Bundle, error) {
	assignment, err := Assign(def, in)
	if err != nil {
		return nil, err
	}
	full, err := frontend.NewWitness(assignment, circuits.Curve().ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness: %w", err)
	}
	public, err := Signals(full)
	if err != nil {
		return nil, err
	}
	return &Bundle{Full: full, Public: public, Assignment: assignment}, nil
}

// Public rebuilds a public-only witness from decimal signals.
func Public(signals []string) (backendwitness.Witness, error) {
	w, err := backendwitness.New(circuits.Curve().ScalarField())
	if err != nil {
		return nil, err
	}
	values := make(chan any, len(signals))
	for i, s := range signals {
		n, err := parse(fmt.Sprintf("signal %d", i), s)
		if err != nil {
			return nil, err
		}
		values <- n
	}
	close(values)
	if err := w.Fill(len(signals), 0, values); err != nil {
		return nil, fmt.Errorf("witness: %w", err)
	}
	return w, nil
}

// Signals renders the public part of w as decimal strings.
func Signals(w backendwitness.Witness) ([]string, error) {
	pub, err := w.Public()
	if err != nil {
		return nil, err
	}
	vec, ok := pub.Vector().(fr.Vector)
	if !ok {
		return nil, fmt.Errorf("witness: unexpected vector type %T", pub.Vector())
	}
	out := make([]string, len(vec))
	for i := range vec {
		out[i] = vec[i].String()
	}
	return out, nil
}
