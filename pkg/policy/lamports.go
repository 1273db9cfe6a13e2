package policy

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	LamportsPerSOL = 1_000_000_000
	solDecimals    = 9

	// MaxLamports caps every limit and amount so ledgers can keep them in a
	// signed 64-bit column.
	MaxLamports = math.MaxInt64
)

var ErrInvalidSOL = errors.New("policy: invalid SOL amount")

// ParseSOL converts a decimal SOL amount such as "0.015" to lamports
// without going through floating point.
func ParseSOL(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" || strings.HasPrefix(whole, "+") || strings.HasPrefix(whole, "-") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSOL, s)
	}
	if len(frac) > solDecimals {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidSOL, s, solDecimals)
	}
	var w, f uint64
	var err error
	if whole != "" {
		if w, err = strconv.ParseUint(whole, 10, 64); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSOL, s)
		}
	}
	if frac != "" {
		if f, err = strconv.ParseUint(frac+strings.Repeat("0", solDecimals-len(frac)), 10, 64); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSOL, s)
		}
	}
	if w > (math.MaxUint64-f)/LamportsPerSOL {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidSOL, s)
	}
	return w*LamportsPerSOL + f, nil
}

// FormatSOL renders lamports as a SOL amount with trailing zeros trimmed.
func FormatSOL(lamports uint64) string {
	whole := lamports / LamportsPerSOL
	frac := lamports % LamportsPerSOL
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fs := fmt.Sprintf("%09d", frac)
	return strconv.FormatUint(whole, 10) + "." + strings.TrimRight(fs, "0")
}
