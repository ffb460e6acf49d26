// Package address normalizes chain addresses used as document keys.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Kind is the address family of a partition.
type Kind string

const (
	KindSolana Kind = "solana"
	KindEVM    Kind = "evm"
)

// ErrInvalidAddress is returned for addresses that do not parse.
var ErrInvalidAddress = errors.New("invalid address")

// ParseKind validates a kind string. Empty means KindSolana.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindSolana:
		return KindSolana, nil
	case KindEVM:
		return KindEVM, nil
	default:
		return "", fmt.Errorf("unknown address kind %q", s)
	}
}

// Normalize returns the canonical form of addr: re-encoded base58 for
// Solana (32-byte keys), lower-case 0x-prefixed hex for EVM.
func Normalize(kind Kind, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	switch kind {
	case KindEVM:
		return normalizeEVM(addr)
	default:
		key, err := decodeSolana(addr)
		if err != nil {
			return "", err
		}
		return base58.Encode(key), nil
	}
}

// IsWalletAddress reports whether addr can belong to a signing wallet.
// Solana program-derived addresses are off the ed25519 curve and are
// rejected; EVM addresses only need to parse.
func IsWalletAddress(kind Kind, addr string) bool {
	if kind == KindEVM {
		_, err := normalizeEVM(strings.TrimSpace(addr))
		return err == nil
	}
	key, err := decodeSolana(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	return isOnCurve(key)
}

func decodeSolana(addr string) ([]byte, error) {
	if addr == "" {
		return nil, ErrInvalidAddress
	}
	key, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: decoded length %d", ErrInvalidAddress, len(key))
	}
	return key, nil
}

func normalizeEVM(addr string) (string, error) {
	lower := strings.ToLower(addr)
	if !strings.HasPrefix(lower, "0x") || len(lower) != 42 {
		return "", ErrInvalidAddress
	}
	if _, err := hex.DecodeString(lower[2:]); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return lower, nil
}

func isOnCurve(point []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
