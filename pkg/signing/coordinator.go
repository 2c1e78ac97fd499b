// Package signing runs the three single-shot signing flows: new order, fill
// and cancel. Each flow validates and encodes its input completely before the
// signer is called, calls it once, and returns a ready-to-submit record.
package signing

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/odds"
	"github.com/uhyunpark/sxbet/pkg/order"
	"github.com/uhyunpark/sxbet/pkg/protocol"
	"github.com/uhyunpark/sxbet/pkg/util"
)

var (
	// ErrEmptyInput is returned for a cancel or fill that names no orders.
	ErrEmptyInput = errors.New("empty input")

	// ErrSignerUnavailable marks a missing signer and every failure of the
	// signer call. The signer's own error stays in the chain.
	ErrSignerUnavailable = errors.New("signer unavailable")
)

// DefaultAPIExpiry is how long a new order stays live when the caller does
// not set apiExpiry.
const DefaultAPIExpiry = time.Hour

// Options configures a Coordinator. Only Builder is required.
type Options struct {
	Signer    crypto.Signer // may be nil; flows then fail with ErrSignerUnavailable
	Builder   *protocol.Builder
	Random    io.Reader  // salt source, crypto/rand when nil
	Clock     util.Clock // RealClock when nil
	APIExpiry time.Duration
	Executor  common.Address
	BaseToken common.Address
	Logger    *zap.SugaredLogger
}

// Coordinator signs orders, fills and cancels for one signer and deployment.
// It holds no per-request state and is safe for concurrent use.
type Coordinator struct {
	signer    crypto.Signer
	builder   *protocol.Builder
	random    io.Reader
	clock     util.Clock
	apiExpiry time.Duration
	executor  common.Address
	baseToken common.Address
	log       *zap.SugaredLogger
}

// NewCoordinator fills unset options with their defaults.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Builder == nil {
		return nil, errors.New("signing: builder is required")
	}
	c := &Coordinator{
		signer:    opts.Signer,
		builder:   opts.Builder,
		random:    opts.Random,
		clock:     opts.Clock,
		apiExpiry: opts.APIExpiry,
		executor:  opts.Executor,
		baseToken: opts.BaseToken,
		log:       util.OrNop(opts.Logger),
	}
	if c.random == nil {
		c.random = rand.Reader
	}
	if c.clock == nil {
		c.clock = util.RealClock{}
	}
	if c.apiExpiry <= 0 {
		c.apiExpiry = DefaultAPIExpiry
	}
	return c, nil
}

// Signer returns the configured signer, or nil.
func (c *Coordinator) Signer() crypto.Signer { return c.signer }

// Builder returns the digest builder.
func (c *Coordinator) Builder() *protocol.Builder { return c.builder }

// SignOrder returns a signed copy of o. Missing salt, apiExpiry, expiry,
// executor and base token are filled in; the maker is the signer's address.
// o itself is never modified.
func (c *Coordinator) SignOrder(ctx context.Context, o *order.Order) (*order.Order, error) {
	if o == nil {
		return nil, errors.New("nil order")
	}
	out := o.Clone()
	out.Signature = nil
	if out.Expiry == nil {
		out.Expiry = new(big.Int).Set(order.DefaultExpiry)
	}
	if out.APIExpiry == 0 {
		out.APIExpiry = c.clock.Now().Add(c.apiExpiry).Unix()
	}
	if out.Executor == (common.Address{}) {
		out.Executor = c.executor
	}
	if out.BaseToken == (common.Address{}) {
		out.BaseToken = c.baseToken
	}
	if out.Salt == nil {
		salt, err := NewSalt(c.random)
		if err != nil {
			return nil, err
		}
		out.Salt = salt
	}
	if out.Filled().Sign() != 0 {
		return nil, errors.Wrapf(odds.ErrInvalidState, "new order already has fill amount %s", out.Filled())
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}

	signer, err := c.requireSigner()
	if err != nil {
		return nil, err
	}
	if out.Maker != (common.Address{}) && out.Maker != signer.Address() {
		return nil, errors.Newf("order maker %s is not the signer %s", out.Maker.Hex(), signer.Address().Hex())
	}
	out.Maker = signer.Address()

	digest, mode, err := c.builder.OrderDigest(out)
	if err != nil {
		return nil, err
	}
	sig, err := c.sign(ctx, signer, digest, mode)
	if err != nil {
		return nil, err
	}
	out.Signature = sig

	c.log.Debugw("order_signed",
		"order_hash", digest.Hex(),
		"market", out.MarketHash.Hex(),
		"odds", out.PercentageOdds.String(),
		"size", out.TotalBetSize.String(),
		"api_expiry", out.APIExpiry)
	return out, nil
}

// FillLeg is one order targeted by a fill and the taker stake against it.
type FillLeg struct {
	Order     *order.Order
	OrderHash common.Hash // computed when zero; checked against the order otherwise
	TakerBet  *big.Int    // base units
}

// FillOptions carries the optional fill-object fields. The zero value leaves
// every sentinel unset.
type FillOptions struct {
	Beneficiary     common.Address
	BeneficiaryType uint8
	CashOutTarget   common.Hash
}

// SignFill signs a taker fill of a single order.
func (c *Coordinator) SignFill(ctx context.Context, target *order.Order, takerBet *big.Int, opts FillOptions) (*order.FillRequest, error) {
	return c.SignFills(ctx, []FillLeg{{Order: target, TakerBet: takerBet}}, opts)
}

// SignFills signs one fill spanning several orders. Each leg's taker amount
// is fillAmount(takerBet, percentageOdds), floored. Liquidity against live
// order-book state is not checked here.
func (c *Coordinator) SignFills(ctx context.Context, legs []FillLeg, opts FillOptions) (*order.FillRequest, error) {
	if len(legs) == 0 {
		return nil, errors.Wrap(ErrEmptyInput, "fill targets no orders")
	}

	req := &order.FillRequest{
		Orders:          make([]*order.Order, len(legs)),
		OrderHashes:     make([]common.Hash, len(legs)),
		TakerAmounts:    make([]*big.Int, len(legs)),
		Beneficiary:     opts.Beneficiary,
		BeneficiaryType: opts.BeneficiaryType,
		CashOutTarget:   opts.CashOutTarget,
	}
	for i, leg := range legs {
		if leg.Order == nil {
			return nil, errors.Newf("fill leg %d has no order", i)
		}
		target := leg.Order.Clone()
		amount, err := odds.FillAmount(leg.TakerBet, target.PercentageOdds)
		if err != nil {
			return nil, errors.Wrapf(err, "fill leg %d", i)
		}
		if amount.Sign() == 0 {
			return nil, errors.Wrapf(odds.ErrInvalidState, "fill leg %d: taker bet %s rounds to a zero fill", i, leg.TakerBet)
		}
		hash, err := protocol.OrderHash(target)
		if err != nil {
			return nil, errors.Wrapf(err, "fill leg %d", i)
		}
		if leg.OrderHash != (common.Hash{}) && leg.OrderHash != hash {
			return nil, errors.Wrapf(crypto.ErrEncoding, "fill leg %d: order hash %s does not match order (%s)", i, leg.OrderHash.Hex(), hash.Hex())
		}
		req.Orders[i] = target
		req.OrderHashes[i] = hash
		req.TakerAmounts[i] = amount
	}

	salt, err := NewSalt(c.random)
	if err != nil {
		return nil, err
	}
	req.FillSalt = salt

	digest, mode, err := c.builder.FillDigest(req)
	if err != nil {
		return nil, err
	}

	signer, err := c.requireSigner()
	if err != nil {
		return nil, err
	}
	req.Taker = signer.Address()
	if req.Signature, err = c.sign(ctx, signer, digest, mode); err != nil {
		return nil, err
	}

	c.log.Debugw("fill_signed",
		"digest", digest.Hex(),
		"orders", len(req.Orders),
		"taker", req.Taker.Hex())
	return req, nil
}

// SignCancel signs a cancellation of orderHashes under a fresh domain salt
// and the current time.
func (c *Coordinator) SignCancel(ctx context.Context, orderHashes []common.Hash) (*order.CancelRequest, error) {
	if len(orderHashes) == 0 {
		return nil, errors.Wrap(ErrEmptyInput, "no order hashes to cancel")
	}
	salt, err := NewDomainSalt(c.random)
	if err != nil {
		return nil, err
	}
	req := &order.CancelRequest{
		OrderHashes: append([]common.Hash(nil), orderHashes...),
		Salt:        salt,
		Timestamp:   c.clock.Now().Unix(),
	}
	digest, mode, err := c.builder.CancelDigest(req)
	if err != nil {
		return nil, err
	}

	signer, err := c.requireSigner()
	if err != nil {
		return nil, err
	}
	req.Maker = signer.Address()
	if req.Signature, err = c.sign(ctx, signer, digest, mode); err != nil {
		return nil, err
	}

	c.log.Debugw("cancel_signed",
		"digest", digest.Hex(),
		"orders", len(req.OrderHashes),
		"maker", req.Maker.Hex())
	return req, nil
}

func (c *Coordinator) requireSigner() (crypto.Signer, error) {
	if c.signer == nil {
		return nil, errors.Wrap(ErrSignerUnavailable, "no signer configured")
	}
	return c.signer, nil
}

// sign calls the signer once and checks the result recovers to its address.
func (c *Coordinator) sign(ctx context.Context, signer crypto.Signer, digest common.Hash, mode crypto.Mode) ([]byte, error) {
	sig, err := signer.Sign(ctx, digest, mode)
	if err != nil {
		return nil, errors.Mark(err, ErrSignerUnavailable)
	}
	recovered, err := crypto.Recover(digest, mode, sig)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "signer returned an unusable signature"), ErrSignerUnavailable)
	}
	if recovered != signer.Address() {
		return nil, errors.Mark(
			errors.Newf("signature recovers to %s, signer is %s", recovered.Hex(), signer.Address().Hex()),
			ErrSignerUnavailable)
	}
	return sig, nil
}
