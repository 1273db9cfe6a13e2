package circuits

import (
	"sort"

	"github.com/consensys/gnark/frontend"
)

const (
	Spending = "spending"
	ShadowID = "shadowid"
)

// Definition ties a circuit id to the Go type whose fields name the witness
// inputs.
type Definition struct {
	ID  string
	New func() frontend.Circuit
}

var definitions = map[string]Definition{
	Spending: {ID: Spending, New: func() frontend.Circuit { return new(SpendingCircuit) }},
	ShadowID: {ID: ShadowID, New: func() frontend.Circuit { return new(ShadowIDCircuit) }},
}

// Lookup returns the definition registered under id.
func Lookup(id string) (Definition, bool) {
	d, ok := definitions[id]
	return d, ok
}

// IDs lists the registered circuit ids in lexical order.
func IDs() []string {
	out := make([]string, 0, len(definitions))
	for id := range definitions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
