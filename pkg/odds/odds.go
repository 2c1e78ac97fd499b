// Package odds implements the fixed-point arithmetic behind SX Bet percentage odds.
//
// Percentage odds are the maker's implied probability scaled by 10^20. Every
// exact value is computed on big.Int with floor division; decimal rendering
// (two places, half away from zero) is applied only to the final quotient.
package odds

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

const (
	// DefaultDecimals is the base-unit precision of the settlement token (USDC).
	DefaultDecimals = 6

	// NotApplicable is rendered where a value has no finite representation.
	NotApplicable = "N/A"

	displayPlaces = 2
)

var (
	// ErrInvalidOdds is returned when percentage odds fall outside (0, 10^20)
	// where a formula needs a strictly positive denominator.
	ErrInvalidOdds = errors.New("invalid percentage odds")

	// ErrInvalidState is returned for negative amounts or a fill amount
	// exceeding the total bet size.
	ErrInvalidState = errors.New("invalid amount state")
)

var scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)

// Scale returns 10^20, the fixed-point scale of percentage odds.
func Scale() *big.Int { return new(big.Int).Set(scale) }

// ValidateOdds checks 0 < p < 10^20.
func ValidateOdds(p *big.Int) error {
	if p == nil {
		return errors.Wrap(ErrInvalidOdds, "percentage odds missing")
	}
	if p.Sign() <= 0 || p.Cmp(scale) >= 0 {
		return errors.Wrapf(ErrInvalidOdds, "percentage odds %s not in (0, 10^20)", p)
	}
	return nil
}

func checkAmount(name string, v *big.Int) error {
	if v == nil {
		return errors.Wrapf(ErrInvalidState, "%s missing", name)
	}
	if v.Sign() < 0 {
		return errors.Wrapf(ErrInvalidState, "%s %s is negative", name, v)
	}
	return nil
}

// DecimalOdds renders the taker's decimal odds 10^20 / (10^20 - p) to two
// places. ok is false (and the result is NotApplicable) when p >= 10^20 or p
// is not a valid unsigned value.
func DecimalOdds(p *big.Int) (string, bool) {
	if p == nil || p.Sign() < 0 || p.Cmp(scale) >= 0 {
		return NotApplicable, false
	}
	den := new(big.Int).Sub(scale, p)
	q := decimal.NewFromBigInt(scale, 0).DivRound(decimal.NewFromBigInt(den, 0), displayPlaces)
	return q.StringFixed(displayPlaces), true
}

// TakerOdds returns the counterparty's percentage odds, 10^20 - p.
func TakerOdds(p *big.Int) (*big.Int, error) {
	if err := ValidateOdds(p); err != nil {
		return nil, err
	}
	return new(big.Int).Sub(scale, p), nil
}

// RemainingTakerSpace returns, in base units, how much a taker can still stake
// against an order: floor(remaining * 10^20 / p) - remaining where remaining
// is totalBetSize - fillAmount.
func RemainingTakerSpace(totalBetSize, fillAmount, p *big.Int) (*big.Int, error) {
	if p == nil || p.Sign() <= 0 || p.Cmp(scale) > 0 {
		return nil, errors.Wrapf(ErrInvalidOdds, "percentage odds %v not in (0, 10^20]", p)
	}
	if err := checkAmount("total bet size", totalBetSize); err != nil {
		return nil, err
	}
	if err := checkAmount("fill amount", fillAmount); err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(totalBetSize, fillAmount)
	if remaining.Sign() < 0 {
		return nil, errors.Wrapf(ErrInvalidState, "fill amount %s exceeds total bet size %s", fillAmount, totalBetSize)
	}
	out := new(big.Int).Mul(remaining, scale)
	out.Div(out, p)
	return out.Sub(out, remaining), nil
}

// RemainingLiquidity renders RemainingTakerSpace in nominal units.
func RemainingLiquidity(totalBetSize, fillAmount, p *big.Int, decimals int) (string, error) {
	space, err := RemainingTakerSpace(totalBetSize, fillAmount, p)
	if err != nil {
		return "", err
	}
	return ToNominalUnits(space, decimals), nil
}

// FillAmount returns the maker stake matched by a taker stake:
// floor(takerBetAmount * p / (10^20 - p)). The result never over-commits.
func FillAmount(takerBetAmount, p *big.Int) (*big.Int, error) {
	if err := ValidateOdds(p); err != nil {
		return nil, err
	}
	if err := checkAmount("taker bet amount", takerBetAmount); err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(takerBetAmount, p)
	return out.Div(out, new(big.Int).Sub(scale, p)), nil
}

// PotentialPayout returns floor(betAmount * 10^20 / (10^20 - p)), the taker's
// stake plus the matched maker stake.
func PotentialPayout(betAmount, p *big.Int) (*big.Int, error) {
	if err := ValidateOdds(p); err != nil {
		return nil, err
	}
	if err := checkAmount("bet amount", betAmount); err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(betAmount, scale)
	return out.Div(out, new(big.Int).Sub(scale, p)), nil
}

// ToNominalUnits renders a base-unit amount divided by 10^decimals with two
// decimal places.
func ToNominalUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return decimal.Zero.StringFixed(displayPlaces)
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).StringFixed(displayPlaces)
}

// FromNominalUnits parses a display amount such as "12.5" into base units.
// Amounts with more precision than the token supports are rejected rather
// than rounded.
func FromNominalUnits(s string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse amount %q", s)
	}
	if d.IsNegative() {
		return nil, errors.Wrapf(ErrInvalidState, "amount %s is negative", s)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, errors.Wrapf(ErrInvalidState, "amount %s has more than %d decimal places", s, decimals)
	}
	return shifted.BigInt(), nil
}

// FromDecimalOdds converts taker decimal odds (e.g. "2.50") into the maker
// percentage odds that DecimalOdds maps back to it: 10^20 - floor(10^20 / d).
func FromDecimalOdds(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidOdds, "parse decimal odds %q: %v", s, err)
	}
	if d.LessThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.Wrapf(ErrInvalidOdds, "decimal odds %s must be greater than 1", s)
	}
	q, _ := decimal.NewFromBigInt(scale, 0).QuoRem(d, 0)
	p := new(big.Int).Sub(scale, q.BigInt())
	if err := ValidateOdds(p); err != nil {
		return nil, err
	}
	return p, nil
}
