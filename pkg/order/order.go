// Package order holds the signable records of the SX Bet order protocol and
// their JSON submission payloads.
package order

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/odds"
)

// DefaultExpiry is the fixed legacy expiry every order carries. The effective
// expiry is APIExpiry.
var DefaultExpiry = big.NewInt(2209006800)

// Order is one resting maker order. Field order mirrors the packed hash layout.
type Order struct {
	MarketHash               common.Hash
	BaseToken                common.Address
	TotalBetSize             *big.Int // base units
	PercentageOdds           *big.Int // implied probability * 10^20
	Expiry                   *big.Int
	Salt                     *big.Int
	Maker                    common.Address
	Executor                 common.Address
	IsMakerBettingOutcomeOne bool

	APIExpiry  int64    // unix seconds, not part of the hash
	FillAmount *big.Int // base units already matched; nil means zero
	Signature  []byte   // maker personal-sign signature, once signed
}

// Validate checks the invariants every signable order must satisfy.
func (o *Order) Validate() error {
	if err := odds.ValidateOdds(o.PercentageOdds); err != nil {
		return err
	}
	if err := crypto.CheckUint256("total bet size", o.TotalBetSize); err != nil {
		return err
	}
	if o.TotalBetSize.Sign() == 0 {
		return errors.Wrap(odds.ErrInvalidState, "total bet size is zero")
	}
	if err := crypto.CheckUint256("expiry", o.Expiry); err != nil {
		return err
	}
	if err := crypto.CheckUint256("salt", o.Salt); err != nil {
		return err
	}
	if o.APIExpiry < 0 {
		return errors.Wrapf(odds.ErrInvalidState, "api expiry %d is negative", o.APIExpiry)
	}
	filled := o.Filled()
	if filled.Sign() < 0 {
		return errors.Wrapf(odds.ErrInvalidState, "fill amount %s is negative", filled)
	}
	if filled.Cmp(o.TotalBetSize) > 0 {
		return errors.Wrapf(odds.ErrInvalidState, "fill amount %s exceeds total bet size %s", filled, o.TotalBetSize)
	}
	if o.Signature != nil {
		if err := crypto.CheckSignature(o.Signature); err != nil {
			return err
		}
	}
	return nil
}

// Filled returns FillAmount, treating nil as zero.
func (o *Order) Filled() *big.Int {
	if o.FillAmount == nil {
		return new(big.Int)
	}
	return o.FillAmount
}

// IsSigned reports whether the maker signature is present.
func (o *Order) IsSigned() bool {
	return len(o.Signature) > 0
}

// DecimalOdds renders the taker's decimal odds, or odds.NotApplicable.
func (o *Order) DecimalOdds() string {
	s, _ := odds.DecimalOdds(o.PercentageOdds)
	return s
}

// RemainingLiquidity renders how much a taker can still stake, in nominal units.
func (o *Order) RemainingLiquidity(decimals int) (string, error) {
	return odds.RemainingLiquidity(o.TotalBetSize, o.Filled(), o.PercentageOdds, decimals)
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.TotalBetSize = cloneBig(o.TotalBetSize)
	c.PercentageOdds = cloneBig(o.PercentageOdds)
	c.Expiry = cloneBig(o.Expiry)
	c.Salt = cloneBig(o.Salt)
	c.FillAmount = cloneBig(o.FillAmount)
	if o.Signature != nil {
		c.Signature = append([]byte(nil), o.Signature...)
	}
	return &c
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
