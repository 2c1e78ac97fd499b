package signing

import (
	"io"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

// NewSalt draws a uniformly random unsigned 256-bit integer from r.
func NewSalt(r io.Reader) (*big.Int, error) {
	var b [32]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, errors.Wrap(err, "read salt")
	}
	return new(big.Int).SetBytes(b[:]), nil
}

// NewDomainSalt draws 32 random bytes for a cancel domain.
func NewDomainSalt(r io.Reader) (common.Hash, error) {
	var h common.Hash
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return common.Hash{}, errors.Wrap(err, "read domain salt")
	}
	return h, nil
}
