// Package signature checks that a wallet owner signed a message. Solana
// wallets sign raw bytes with ed25519; EVM wallets sign with personal_sign.
package signature

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrInvalidSignature = errors.New("signature: invalid signature")
	ErrInvalidWallet    = errors.New("signature: invalid wallet address")
)

type Verifier interface {
	Verify(wallet string, message []byte, signature string) error
}

// Solana verifies base58 ed25519 signatures against base58 public keys.
type Solana struct{}

func (Solana) Verify(wallet string, message []byte, signature string) error {
	pub, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !sig.Verify(pub, message) {
		return ErrInvalidSignature
	}
	return nil
}

// Ethereum verifies 65-byte hex personal_sign signatures against 0x
// addresses.
type Ethereum struct{}

func (Ethereum) Verify(wallet string, message []byte, signature string) error {
	if !common.IsHexAddress(wallet) {
		return ErrInvalidWallet
	}
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return ErrInvalidSignature
	}
	sig = bytes.Clone(sig)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(wallet) {
		return ErrInvalidSignature
	}
	return nil
}

// Auto picks Ethereum for 0x addresses and Solana otherwise.
type Auto struct{}

func (Auto) Verify(wallet string, message []byte, signature string) error {
	if isEVM(wallet) {
		return Ethereum{}.Verify(wallet, message, signature)
	}
	return Solana{}.Verify(wallet, message, signature)
}

func isEVM(wallet string) bool {
	return strings.HasPrefix(wallet, "0x") || strings.HasPrefix(wallet, "0X")
}

// ValidWallet reports whether wallet parses as a Solana public key or an
// EVM address.
func ValidWallet(wallet string) error {
	if isEVM(wallet) {
		if !common.IsHexAddress(wallet) {
			return ErrInvalidWallet
		}
		return nil
	}
	if _, err := solana.PublicKeyFromBase58(wallet); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	return nil
}
