package order

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/sxbet/pkg/crypto"
)

// Placeholder fills the legacy human-readable fields of the fill schema.
const Placeholder = "N/A"

// FillRequest is one taker fill of one or more maker orders. Orders,
// OrderHashes and TakerAmounts are parallel.
type FillRequest struct {
	Orders          []*Order
	OrderHashes     []common.Hash
	TakerAmounts    []*big.Int // base units of each order's totalBetSize being matched
	FillSalt        *big.Int
	Taker           common.Address
	Beneficiary     common.Address // zero when unused
	BeneficiaryType uint8          // 0 when unused
	CashOutTarget   common.Hash    // zero when unused
	Signature       []byte
}

// Validate checks widths and the parallel-array shape. A beneficiary type
// needs a beneficiary, since the payload only carries the type alongside it.
// Liquidity against live order-book state is not checked.
func (f *FillRequest) Validate() error {
	if len(f.Orders) == 0 {
		return errors.Wrap(crypto.ErrEncoding, "fill targets no orders")
	}
	if len(f.OrderHashes) != len(f.Orders) || len(f.TakerAmounts) != len(f.Orders) {
		return errors.Wrapf(crypto.ErrEncoding, "fill arrays differ in length: %d orders, %d hashes, %d amounts",
			len(f.Orders), len(f.OrderHashes), len(f.TakerAmounts))
	}
	for i, o := range f.Orders {
		if o == nil {
			return errors.Wrapf(crypto.ErrEncoding, "fill order %d missing", i)
		}
		if err := o.Validate(); err != nil {
			return errors.Wrapf(err, "fill order %d", i)
		}
		if !o.IsSigned() {
			return errors.Wrapf(crypto.ErrEncoding, "fill order %d has no maker signature", i)
		}
		if err := crypto.CheckUint256("taker amount", f.TakerAmounts[i]); err != nil {
			return errors.Wrapf(err, "fill order %d", i)
		}
	}
	if f.Beneficiary == (common.Address{}) && f.BeneficiaryType != 0 {
		return errors.Wrapf(crypto.ErrEncoding, "beneficiary type %d without a beneficiary", f.BeneficiaryType)
	}
	return crypto.CheckUint256("fill salt", f.FillSalt)
}

// Payload renders the fill submission body.
func (f *FillRequest) Payload() FillPayload {
	p := FillPayload{
		OrderHashes:  make([]string, len(f.OrderHashes)),
		TakerAmounts: make([]string, len(f.TakerAmounts)),
		Taker:        f.Taker.Hex(),
		TakerSig:     encodeBytes(f.Signature),
		FillSalt:     bigString(f.FillSalt),
		Action:       Placeholder,
		Market:       Placeholder,
		Betting:      Placeholder,
		Stake:        Placeholder,
		Odds:         Placeholder,
		Returning:    Placeholder,
	}
	for i, h := range f.OrderHashes {
		p.OrderHashes[i] = h.Hex()
	}
	for i, a := range f.TakerAmounts {
		p.TakerAmounts[i] = bigString(a)
	}
	if f.Beneficiary != (common.Address{}) {
		p.Beneficiary = f.Beneficiary.Hex()
		p.BeneficiaryType = f.BeneficiaryType
	}
	if f.CashOutTarget != (common.Hash{}) {
		p.CashOutTarget = f.CashOutTarget.Hex()
	}
	return p
}

// CancelRequest revokes one or more orders of a maker. Salt lives in the
// EIP-712 domain, not the message.
type CancelRequest struct {
	OrderHashes []common.Hash
	Salt        common.Hash
	Timestamp   int64 // unix seconds at signing
	Maker       common.Address
	Signature   []byte
}

// Validate checks the request is non-empty and the timestamp is set.
func (c *CancelRequest) Validate() error {
	if len(c.OrderHashes) == 0 {
		return errors.Wrap(crypto.ErrEncoding, "cancel lists no order hashes")
	}
	if c.Timestamp <= 0 {
		return errors.Wrapf(crypto.ErrEncoding, "cancel timestamp %d", c.Timestamp)
	}
	return nil
}

// HashStrings renders the order hashes exactly as they are hashed and sent.
func (c *CancelRequest) HashStrings() []string {
	out := make([]string, len(c.OrderHashes))
	for i, h := range c.OrderHashes {
		out[i] = h.Hex()
	}
	return out
}

// Payload renders the cancel submission body.
func (c *CancelRequest) Payload() CancelPayload {
	return CancelPayload{
		OrderHashes: c.HashStrings(),
		Signature:   encodeBytes(c.Signature),
		Salt:        c.Salt.Hex(),
		Maker:       c.Maker.Hex(),
		Timestamp:   c.Timestamp,
	}
}
