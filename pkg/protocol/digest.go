package protocol

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/order"
)

// Builder derives the digest each message kind is signed over. New orders are
// signed as personal messages over the order hash; fills and cancels are
// signed directly over their EIP-712 digest. The two paths stay separate.
type Builder struct {
	ChainID    *big.Int
	FillHasher common.Address // EIP712FillHasher, the fill domain's verifying contract
}

// NewBuilder returns a Builder for one chain deployment.
func NewBuilder(chainID *big.Int, fillHasher common.Address) *Builder {
	return &Builder{ChainID: new(big.Int).Set(chainID), FillHasher: fillHasher}
}

// OrderDigest returns the order hash and the mode it must be signed in.
func (b *Builder) OrderDigest(o *order.Order) (common.Hash, crypto.Mode, error) {
	h, err := OrderHash(o)
	return h, crypto.ModePersonal, err
}

// FillTypedData builds the fill typed data under this deployment's domain.
func (b *Builder) FillTypedData(f *order.FillRequest) (apitypes.TypedData, error) {
	return FillTypedData(FillDomain(b.ChainID, b.FillHasher), f)
}

// FillDigest returns the EIP-712 fill digest and its signing mode.
func (b *Builder) FillDigest(f *order.FillRequest) (common.Hash, crypto.Mode, error) {
	td, err := b.FillTypedData(f)
	if err != nil {
		return common.Hash{}, 0, err
	}
	h, err := TypedDataDigest(td)
	return h, crypto.ModeTypedData, err
}

// CancelTypedData builds the cancel typed data; the domain salt is c.Salt.
func (b *Builder) CancelTypedData(c *order.CancelRequest) (apitypes.TypedData, error) {
	if c == nil {
		return apitypes.TypedData{}, errors.New("nil cancel request")
	}
	return CancelTypedData(CancelDomain(b.ChainID, c.Salt), c)
}

// CancelDigest returns the EIP-712 cancel digest and its signing mode.
func (b *Builder) CancelDigest(c *order.CancelRequest) (common.Hash, crypto.Mode, error) {
	td, err := b.CancelTypedData(c)
	if err != nil {
		return common.Hash{}, 0, err
	}
	h, err := TypedDataDigest(td)
	return h, crypto.ModeTypedData, err
}

// RecoverOrderSigner returns the address that produced o.Signature.
func (b *Builder) RecoverOrderSigner(o *order.Order) (common.Address, error) {
	h, mode, err := b.OrderDigest(o)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.Recover(h, mode, o.Signature)
}

// RecoverFillSigner returns the address that produced f.Signature.
func (b *Builder) RecoverFillSigner(f *order.FillRequest) (common.Address, error) {
	h, mode, err := b.FillDigest(f)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.Recover(h, mode, f.Signature)
}

// RecoverCancelSigner returns the address that produced c.Signature.
func (b *Builder) RecoverCancelSigner(c *order.CancelRequest) (common.Address, error) {
	h, mode, err := b.CancelDigest(c)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.Recover(h, mode, c.Signature)
}

// VerifyOrder checks that o was signed by its maker.
func (b *Builder) VerifyOrder(o *order.Order) error {
	signer, err := b.RecoverOrderSigner(o)
	if err != nil {
		return err
	}
	if signer != o.Maker {
		return errors.Newf("order signed by %s, maker is %s", signer.Hex(), o.Maker.Hex())
	}
	return nil
}
