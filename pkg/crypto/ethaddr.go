// file: pkg/crypto/ethaddr.go
package crypto

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// ErrEncoding marks a field with the wrong width or format: addresses that
// are not 20 bytes, hashes that are not 32, integers above 2^256-1.
var ErrEncoding = errors.New("malformed field encoding")

// ParseAddress parses a 0x-prefixed 20-byte address. Mixed-case input must
// carry a valid EIP-55 checksum; all-lower or all-upper input is accepted.
func ParseAddress(s string) (common.Address, error) {
	raw, err := decodeFixedHex(s, common.AddressLength)
	if err != nil {
		return common.Address{}, errors.Wrapf(err, "address %q", s)
	}
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if EIP55(raw) != s {
			return common.Address{}, errors.Wrapf(ErrEncoding, "address %q has an invalid EIP-55 checksum", s)
		}
	}
	return common.BytesToAddress(raw), nil
}

// ParseHash parses a 0x-prefixed 32-byte hash.
func ParseHash(s string) (common.Hash, error) {
	raw, err := decodeFixedHex(s, common.HashLength)
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "hash %q", s)
	}
	return common.BytesToHash(raw), nil
}

// ParseSignature parses a 0x-prefixed 65-byte signature.
func ParseSignature(s string) ([]byte, error) {
	raw, err := decodeFixedHex(s, crypto.SignatureLength)
	if err != nil {
		return nil, errors.Wrap(err, "signature")
	}
	return raw, nil
}

// ParseUint256 parses a decimal (or 0x hex) unsigned integer that must fit in
// 256 bits.
func ParseUint256(s string) (*big.Int, error) {
	v, ok := math.ParseBig256(s)
	if s == "" || !ok || v.Sign() < 0 {
		return nil, errors.Wrapf(ErrEncoding, "%q is not an unsigned 256-bit integer", s)
	}
	return v, nil
}

// CheckUint256 verifies v is set and fits in an unsigned 256-bit word.
func CheckUint256(name string, v *big.Int) error {
	if v == nil {
		return errors.Wrapf(ErrEncoding, "%s missing", name)
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return errors.Wrapf(ErrEncoding, "%s %s does not fit uint256", name, v)
	}
	return nil
}

// CheckSignature verifies sig is exactly 65 bytes.
func CheckSignature(sig []byte) error {
	if len(sig) != crypto.SignatureLength {
		return errors.Wrapf(ErrEncoding, "signature length %d, want %d", len(sig), crypto.SignatureLength)
	}
	return nil
}

func decodeFixedHex(s string, size int) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, errors.Wrap(ErrEncoding, "missing 0x prefix")
	}
	if len(s)-2 != size*2 {
		return nil, errors.Wrapf(ErrEncoding, "%d hex chars, want %d", len(s)-2, size*2)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, errors.Wrapf(ErrEncoding, "invalid hex: %v", err)
	}
	return raw, nil
}

// EIP55 computes the checksummed hex address string from 20-byte raw address.
func EIP55(addr20 []byte) string {
	hexaddr := hex.EncodeToString(addr20) // lower
	// keccak of lowercase hex
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	hash := h.Sum(nil)

	out := make([]byte, 2+len(hexaddr))
	copy(out, "0x")
	for i, c := range []byte(hexaddr) {
		if c >= '0' && c <= '9' {
			out[2+i] = c
			continue
		}
		// each hex char maps to one nibble of the hash; uppercase when >= 8
		nibble := hash[i>>1]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[2+i] = c - 'a' + 'A'
		} else {
			out[2+i] = c
		}
	}
	return string(out)
}
