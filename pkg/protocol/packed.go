// Package protocol produces the byte layouts and digests the SX Bet verifier
// recomputes: a tightly packed Keccak-256 hash for new orders and EIP-712
// typed data for fills and cancellations.
package protocol

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/sxbet/pkg/order"
)

// OrderEncodingLength is the packed size of an order:
// 32 + 20 + 32*4 + 20 + 20 + 1.
const OrderEncodingLength = 221

const wordSize = 32

// EncodeOrder packs o the way solidityPacked does for
// (bytes32, address, uint256, uint256, uint256, uint256, address, address, bool).
// The order must validate; nothing is truncated or padded to fit.
func EncodeOrder(o *order.Order) ([]byte, error) {
	if o == nil {
		return nil, errors.New("nil order")
	}
	if err := o.Validate(); err != nil {
		return nil, errors.Wrap(err, "encode order")
	}

	buf := make([]byte, 0, OrderEncodingLength)
	buf = append(buf, o.MarketHash.Bytes()...)
	buf = append(buf, o.BaseToken.Bytes()...)
	buf = appendWord(buf, o.TotalBetSize)
	buf = appendWord(buf, o.PercentageOdds)
	buf = appendWord(buf, o.Expiry)
	buf = appendWord(buf, o.Salt)
	buf = append(buf, o.Maker.Bytes()...)
	buf = append(buf, o.Executor.Bytes()...)
	if o.IsMakerBettingOutcomeOne {
		buf = append(buf, 0x01)
	} else {
		buf = append(buf, 0x00)
	}
	return buf, nil
}

// OrderHash is keccak256 of the packed encoding. It is the order's identifier
// and, after the personal-message prefix, the value the maker signs.
func OrderHash(o *order.Order) (common.Hash, error) {
	packed, err := EncodeOrder(o)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// v is range-checked by Order.Validate.
func appendWord(buf []byte, v *big.Int) []byte {
	return append(buf, common.LeftPadBytes(v.Bytes(), wordSize)...)
}
