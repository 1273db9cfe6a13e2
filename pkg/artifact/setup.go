package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/yourorg/zkspend/circuits"
)

type SetupOptions struct {
	// ExportVerifyingKey writes <id>.vkey next to the zkey.
	ExportVerifyingKey bool
	// EmbedVerifyingKey stores the verifying key inside the zkey so it can
	// be derived later without a .vkey file.
	EmbedVerifyingKey bool
}

type SetupInfo struct {
	CircuitID   string
	Constraints int
	Hash        string // first bytes of sha256(r1cs), for eyeballing builds
}

// Setup compiles the registered circuit id and runs a local, single-party
// groth16 setup, writing the artifact files into dir. The keys it produces
// are only fit for development.
func Setup(dir, id string, opts SetupOptions) (*SetupInfo, error) {
	def, ok := circuits.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, id)
	}
	cs, err := frontend.Compile(circuits.Curve().ScalarField(), r1cs.NewBuilder, def.New())
	if err != nil {
		return nil, fmt.Errorf("artifact: compile %s: %w", id, err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, fmt.Errorf("artifact: setup %s: %w", id, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var csBuf bytes.Buffer
	if _, err := cs.WriteTo(&csBuf); err != nil {
		return nil, err
	}
	if err := writeAtomic(filepath.Join(dir, id+ExtR1CS), csBuf.Bytes()); err != nil {
		return nil, err
	}

	var embedded groth16.VerifyingKey
	if opts.EmbedVerifyingKey {
		embedded = vk
	}
	var zBuf bytes.Buffer
	if err := WriteZKey(&zBuf, id, pk, embedded); err != nil {
		return nil, err
	}
	if err := writeAtomic(filepath.Join(dir, id+ExtZKey), zBuf.Bytes()); err != nil {
		return nil, err
	}

	if opts.ExportVerifyingKey {
		var vBuf bytes.Buffer
		if _, err := vk.WriteTo(&vBuf); err != nil {
			return nil, err
		}
		if err := writeAtomic(filepath.Join(dir, id+ExtVKey), vBuf.Bytes()); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(csBuf.Bytes())
	return &SetupInfo{
		CircuitID:   id,
		Constraints: cs.GetNbConstraints(),
		Hash:        hex.EncodeToString(sum[:4]),
	}, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
