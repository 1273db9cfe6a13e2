package witness

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	backendwitness "github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"
)

var (
	ErrMissingInput = errors.New("witness: missing input")
	ErrUnknownInput = errors.New("witness: unknown input")
	ErrInvalidValue = errors.New("witness: invalid field element")
)

// Input maps circuit input names to decimal strings. JSON numbers are
// accepted on decode but kept as their literal text, never as floats.
type Input map[string]string

func (in *Input) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(Input, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		default:
			return fmt.Errorf("%w: %s must be a decimal string", ErrInvalidValue, k)
		}
	}
	*in = out
	return nil
}

type Bundle struct {
	Full       backendwitness.Witness
	Public     []string // decimal strings, in circuit order
	Assignment frontend.Circuit
}
