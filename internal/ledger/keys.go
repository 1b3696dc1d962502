package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrBadKey     = errors.New("invalid private key")
	ErrBadAddress = errors.New("invalid address")
)

// ParsePrivateKey accepts either a base58 string or a JSON byte array such as
// the one written by solana-keygen ("[12,34,...]"). The form is detected by
// the presence of '['.
func ParsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadKey)
	}

	var raw []byte
	if strings.Contains(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("%w: byte array: %v", ErrBadKey, err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range", ErrBadKey, i)
			}
			raw[i] = byte(v)
		}
	} else {
		k, err := solana.PrivateKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("%w: base58: %v", ErrBadKey, err)
		}
		raw = k
	}

	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrBadKey, ed25519.PrivateKeySize, len(raw))
	}
	// The trailing half is the public key; a mismatch means a corrupted secret.
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrBadKey)
	}
	return solana.PrivateKey(raw), nil
}

func ParseAddress(s string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(s))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	return pk, nil
}
