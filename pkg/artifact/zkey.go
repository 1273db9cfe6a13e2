package artifact

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
)

// zkey layout, all integers big endian:
//
//	magic   [4]byte "ZKSP"
//	version uint16
//	curve   uint16 (ecc.ID)
//	idLen   uint16, id [idLen]byte
//	pkLen   uint64, pk [pkLen]byte
//	vkLen   uint64, vk [vkLen]byte (vkLen may be 0)
const zkeyVersion = 1

var zkeyMagic = [4]byte{'Z', 'K', 'S', 'P'}

const maxCircuitIDBytes = 255

var (
	ErrBadZKey       = errors.New("artifact: malformed zkey")
	errNoEmbeddedKey = errors.New("artifact: zkey has no embedded verifying key")
)

type Header struct {
	Version   uint16
	Curve     ecc.ID
	CircuitID string
}

// WriteZKey writes pk, and vk when non-nil, into a single container.
func WriteZKey(w io.Writer, circuitID string, pk groth16.ProvingKey, vk groth16.VerifyingKey) error {
	if len(circuitID) == 0 || len(circuitID) > maxCircuitIDBytes {
		return fmt.Errorf("%w: circuit id length %d", ErrBadZKey, len(circuitID))
	}
	var pkBuf, vkBuf bytes.Buffer
	if _, err := pk.WriteTo(&pkBuf); err != nil {
		return fmt.Errorf("artifact: encode proving key: %w", err)
	}
	if vk != nil {
		if _, err := vk.WriteTo(&vkBuf); err != nil {
			return fmt.Errorf("artifact: encode verifying key: %w", err)
		}
	}

	bw := bufio.NewWriter(w)
	for _, v := range []any{
		zkeyMagic,
		uint16(zkeyVersion),
		uint16(pk.CurveID()),
		uint16(len(circuitID)),
		[]byte(circuitID),
		uint64(pkBuf.Len()),
		pkBuf.Bytes(),
		uint64(vkBuf.Len()),
		vkBuf.Bytes(),
	} {
		if err := binary.Write(bw, binary.BigEndian, v); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadHeader reads the container header and leaves r at the proving key
// section.
func ReadHeader(r io.Reader) (Header, error) {
	var (
		magic   [4]byte
		version uint16
		curve   uint16
		idLen   uint16
	)
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrBadZKey, err)
	}
	if magic != zkeyMagic {
		return Header{}, fmt.Errorf("%w: bad magic", ErrBadZKey)
	}
	for _, p := range []any{&version, &curve, &idLen} {
		if err := binary.Read(r, binary.BigEndian, p); err != nil {
			return Header{}, fmt.Errorf("%w: %v", ErrBadZKey, err)
		}
	}
	if version != zkeyVersion {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrBadZKey, version)
	}
	if ecc.ID(curve) != ecc.BN254 {
		return Header{}, fmt.Errorf("%w: unsupported curve id %d", ErrBadZKey, curve)
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(r, id); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrBadZKey, err)
	}
	return Header{Version: version, Curve: ecc.ID(curve), CircuitID: string(id)}, nil
}

func sectionLen(r io.Reader) (int64, error) {
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadZKey, err)
	}
	if n > 1<<40 {
		return 0, fmt.Errorf("%w: section too large", ErrBadZKey)
	}
	return int64(n), nil
}

// ReadZKey reads the header and the proving key.
func ReadZKey(r io.Reader) (Header, groth16.ProvingKey, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	n, err := sectionLen(r)
	if err != nil {
		return Header{}, nil, err
	}
	pk := groth16.NewProvingKey(h.Curve)
	if _, err := pk.ReadFrom(io.LimitReader(r, n)); err != nil {
		return Header{}, nil, fmt.Errorf("%w: proving key: %v", ErrBadZKey, err)
	}
	return h, pk, nil
}

// ReadEmbeddedVerifyingKey skips over the proving key section and decodes
// the verifying key stored after it.
func ReadEmbeddedVerifyingKey(r io.Reader) (Header, groth16.VerifyingKey, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	n, err := sectionLen(r)
	if err != nil {
		return Header{}, nil, err
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrBadZKey, err)
	}
	n, err = sectionLen(r)
	if err != nil {
		return Header{}, nil, err
	}
	if n == 0 {
		return h, nil, errNoEmbeddedKey
	}
	vk := groth16.NewVerifyingKey(h.Curve)
	if _, err := vk.ReadFrom(io.LimitReader(r, n)); err != nil {
		return Header{}, nil, fmt.Errorf("%w: verifying key: %v", ErrBadZKey, err)
	}
	return h, vk, nil
}
