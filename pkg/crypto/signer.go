package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Mode selects how a 32-byte digest becomes the hash that is actually signed.
type Mode uint8

const (
	// ModePersonal signs keccak256("\x19Ethereum Signed Message:\n32" || digest),
	// the eth_sign / personal_sign convention used for order creation.
	ModePersonal Mode = iota + 1
	// ModeTypedData signs an EIP-712 digest directly (fills and cancellations).
	ModeTypedData
)

func (m Mode) String() string {
	switch m {
	case ModePersonal:
		return "personal"
	case ModeTypedData:
		return "typed_data"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "personal":
		return ModePersonal, nil
	case "typed_data":
		return ModeTypedData, nil
	default:
		return 0, errors.Newf("unknown signing mode %q", s)
	}
}

// Signer is the signing capability consumed by the order engine. Sign may
// block (hardware wallet, remote service) and must honour ctx.
type Signer interface {
	Address() common.Address
	Sign(ctx context.Context, digest common.Hash, mode Mode) ([]byte, error)
}

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

var _ Signer = (*KeySigner)(nil)

// GenerateKey creates a KeySigner around a fresh random key.
func GenerateKey() (*KeySigner, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return newKeySigner(privateKey), nil
}

// FromPrivateKeyHex loads a KeySigner from 64 hex chars, with or without 0x.
func FromPrivateKeyHex(hexKey string) (*KeySigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return newKeySigner(privateKey), nil
}

func newKeySigner(privateKey *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the signer's Ethereum address.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex WITHOUT 0x prefix.
// WARNING: never log this.
func (s *KeySigner) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign returns a 65-byte [R || S || V] signature with V in {27, 28}.
func (s *KeySigner) Sign(ctx context.Context, digest common.Hash, mode Mode) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := SigningHash(digest, mode)
	if err != nil {
		return nil, err
	}
	signature, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "sign")
	}
	signature[crypto.RecoveryIDOffset] += 27
	return signature, nil
}

// SigningHash returns the hash that a mode-specific signature over digest
// commits to.
func SigningHash(digest common.Hash, mode Mode) (common.Hash, error) {
	switch mode {
	case ModePersonal:
		return PersonalHash(digest), nil
	case ModeTypedData:
		return digest, nil
	default:
		return common.Hash{}, errors.Newf("unknown signing mode %d", mode)
	}
}

// PersonalHash applies the "\x19Ethereum Signed Message:\n32" prefix.
func PersonalHash(digest common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(digest.Bytes()))
}

// RecoverAddress recovers the signer of hash. V may be 0/1 or 27/28.
func RecoverAddress(hash common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, errors.Wrapf(ErrEncoding, "signature length %d, want %d", len(signature), crypto.SignatureLength)
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	publicKey, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "recover public key")
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}

// Recover recovers the address that signed digest under mode.
func Recover(digest common.Hash, mode Mode, signature []byte) (common.Address, error) {
	hash, err := SigningHash(digest, mode)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// VerifySignature reports whether signature over digest under mode was
// produced by address.
func VerifySignature(address common.Address, digest common.Hash, mode Mode, signature []byte) bool {
	recovered, err := Recover(digest, mode, signature)
	if err != nil {
		return false
	}
	return recovered == address
}
