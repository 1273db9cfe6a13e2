package artifact

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/consensys/gnark/backend/groth16"

	"github.com/yourorg/zkspend/circuits"
)

// ReadVerifyingKey decodes a .vkey file.
func ReadVerifyingKey(r io.Reader) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(circuits.Curve())
	if _, err := vk.ReadFrom(r); err != nil {
		return nil, err
	}
	return vk, nil
}

// LoadFiles loads an artifact from explicit paths rather than an artifact
// directory. The circuit id comes from the zkey header.
func LoadFiles(zkeyPath, r1csPath string) (*Artifact, error) {
	zf, err := os.Open(zkeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	defer zf.Close()
	h, err := ReadHeader(bufio.NewReader(zf))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", zkeyPath, err)
	}
	def, ok := circuits.Lookup(h.CircuitID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, h.CircuitID)
	}
	if _, err := zf.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	rf, err := os.Open(r1csPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	defer rf.Close()
	return decode(def, zf, rf, zkeyPath, r1csPath)
}

// LoadVerifyingKeyFile reads either a .vkey or a .zkey with an embedded
// verifying key, telling them apart by the zkey magic.
func LoadVerifyingKeyFile(path string) (groth16.VerifyingKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationKeyUnavailable, err)
	}
	if bytes.HasPrefix(raw, zkeyMagic[:]) {
		_, vk, err := ReadEmbeddedVerifyingKey(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerificationKeyUnavailable, err)
		}
		return vk, nil
	}
	vk, err := ReadVerifyingKey(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationKeyUnavailable, err)
	}
	return vk, nil
}
