package protocol

import (
	"encoding/json"
	"math/big"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	sxcrypto "github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/order"
)

const (
	FillDomainName      = "SX Bet"
	FillDomainVersion   = "6.0"
	CancelDomainName    = "CancelOrderV2SportX"
	CancelDomainVersion = "1.0"

	domainType  = "EIP712Domain"
	detailsType = "Details"
)

// Domain is an EIP-712 domain. Exactly the set fields take part in the
// separator: fills bind a verifying contract, cancels a per-request salt.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract *common.Address
	Salt              *common.Hash
}

// FillDomain is the domain of taker fill signatures.
func FillDomain(chainID *big.Int, verifyingContract common.Address) Domain {
	return Domain{
		Name:              FillDomainName,
		Version:           FillDomainVersion,
		ChainID:           chainID,
		VerifyingContract: &verifyingContract,
	}
}

// CancelDomain is the domain of cancellation signatures. The salt is fresh
// for every request.
func CancelDomain(chainID *big.Int, salt common.Hash) Domain {
	return Domain{
		Name:    CancelDomainName,
		Version: CancelDomainVersion,
		ChainID: chainID,
		Salt:    &salt,
	}
}

func (d Domain) validate() error {
	if d.ChainID == nil || d.ChainID.Sign() <= 0 {
		return errors.Wrapf(sxcrypto.ErrEncoding, "domain %q chain id %v", d.Name, d.ChainID)
	}
	return sxcrypto.CheckUint256("chain id", d.ChainID)
}

func (d Domain) types() []apitypes.Type {
	types := []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	}
	if d.VerifyingContract != nil {
		types = append(types, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	if d.Salt != nil {
		types = append(types, apitypes.Type{Name: "salt", Type: "bytes32"})
	}
	return types
}

func (d Domain) typed() apitypes.TypedDataDomain {
	td := apitypes.TypedDataDomain{
		Name:    d.Name,
		Version: d.Version,
		ChainId: (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID)),
	}
	if d.VerifyingContract != nil {
		td.VerifyingContract = d.VerifyingContract.Hex()
	}
	if d.Salt != nil {
		td.Salt = d.Salt.Hex()
	}
	return td
}

var orderType = []apitypes.Type{
	{Name: "marketHash", Type: "bytes32"},
	{Name: "baseToken", Type: "address"},
	{Name: "totalBetSize", Type: "uint256"},
	{Name: "percentageOdds", Type: "uint256"},
	{Name: "expiry", Type: "uint256"},
	{Name: "salt", Type: "uint256"},
	{Name: "maker", Type: "address"},
	{Name: "executor", Type: "address"},
	{Name: "isMakerBettingOutcomeOne", Type: "bool"},
}

var fillObjectType = []apitypes.Type{
	{Name: "orders", Type: "Order[]"},
	{Name: "makerSigs", Type: "bytes[]"},
	{Name: "takerAmounts", Type: "uint256[]"},
	{Name: "fillSalt", Type: "uint256"},
	{Name: "beneficiary", Type: "address"},
	{Name: "beneficiaryType", Type: "uint8"},
	{Name: "cashOutTarget", Type: "bytes32"},
}

var fillDetailsType = []apitypes.Type{
	{Name: "action", Type: "string"},
	{Name: "market", Type: "string"},
	{Name: "betting", Type: "string"},
	{Name: "stake", Type: "string"},
	{Name: "odds", Type: "string"},
	{Name: "returning", Type: "string"},
	{Name: "fills", Type: "FillObject"},
}

var cancelDetailsType = []apitypes.Type{
	{Name: "orderHashes", Type: "string[]"},
	{Name: "timestamp", Type: "uint256"},
}

// FillTypedData builds the typed data a taker signs for fill. Every target
// order must carry its maker signature.
func FillTypedData(d Domain, fill *order.FillRequest) (apitypes.TypedData, error) {
	if err := d.validate(); err != nil {
		return apitypes.TypedData{}, err
	}
	if fill == nil {
		return apitypes.TypedData{}, errors.New("nil fill request")
	}
	if err := fill.Validate(); err != nil {
		return apitypes.TypedData{}, err
	}

	// apitypes resolves nested structs only from plain maps and treats any
	// slice item as a nested array, so signatures go in as hex strings.
	orders := make([]interface{}, len(fill.Orders))
	sigs := make([]interface{}, len(fill.Orders))
	amounts := make([]interface{}, len(fill.TakerAmounts))
	for i, o := range fill.Orders {
		orders[i] = orderMessage(o)
		sigs[i] = hexutil.Encode(o.Signature)
		amounts[i] = fill.TakerAmounts[i].String()
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			domainType:   d.types(),
			detailsType:  fillDetailsType,
			"FillObject": fillObjectType,
			"Order":      orderType,
		},
		PrimaryType: detailsType,
		Domain:      d.typed(),
		Message: apitypes.TypedDataMessage{
			"action":    order.Placeholder,
			"market":    order.Placeholder,
			"betting":   order.Placeholder,
			"stake":     order.Placeholder,
			"odds":      order.Placeholder,
			"returning": order.Placeholder,
			"fills": map[string]interface{}{
				"orders":          orders,
				"makerSigs":       sigs,
				"takerAmounts":    amounts,
				"fillSalt":        fill.FillSalt.String(),
				"beneficiary":     fill.Beneficiary.Hex(),
				"beneficiaryType": strconv.FormatUint(uint64(fill.BeneficiaryType), 10),
				"cashOutTarget":   fill.CashOutTarget.Hex(),
			},
		},
	}, nil
}

// CancelTypedData builds the typed data a maker signs to cancel orders.
func CancelTypedData(d Domain, cancel *order.CancelRequest) (apitypes.TypedData, error) {
	if err := d.validate(); err != nil {
		return apitypes.TypedData{}, err
	}
	if d.Salt == nil {
		return apitypes.TypedData{}, errors.Wrap(sxcrypto.ErrEncoding, "cancel domain has no salt")
	}
	if cancel == nil {
		return apitypes.TypedData{}, errors.New("nil cancel request")
	}
	if err := cancel.Validate(); err != nil {
		return apitypes.TypedData{}, err
	}

	hashes := make([]interface{}, len(cancel.OrderHashes))
	for i, h := range cancel.HashStrings() {
		hashes[i] = h
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			domainType:  d.types(),
			detailsType: cancelDetailsType,
		},
		PrimaryType: detailsType,
		Domain:      d.typed(),
		Message: apitypes.TypedDataMessage{
			"orderHashes": hashes,
			"timestamp":   strconv.FormatInt(cancel.Timestamp, 10),
		},
	}, nil
}

func orderMessage(o *order.Order) map[string]interface{} {
	return map[string]interface{}{
		"marketHash":               o.MarketHash.Hex(),
		"baseToken":                o.BaseToken.Hex(),
		"totalBetSize":             o.TotalBetSize.String(),
		"percentageOdds":           o.PercentageOdds.String(),
		"expiry":                   o.Expiry.String(),
		"salt":                     o.Salt.String(),
		"maker":                    o.Maker.Hex(),
		"executor":                 o.Executor.Hex(),
		"isMakerBettingOutcomeOne": o.IsMakerBettingOutcomeOne,
	}
}

// DomainSeparator is hashStruct(EIP712Domain).
func DomainSeparator(td apitypes.TypedData) (common.Hash, error) {
	sep, err := td.HashStruct(domainType, td.Domain.Map())
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to hash domain")
	}
	return common.BytesToHash(sep), nil
}

// TypedDataDigest returns keccak256("\x19\x01" || domainSeparator || hashStruct(message)),
// the value signed directly with no further prefix.
func TypedDataDigest(td apitypes.TypedData) (common.Hash, error) {
	sep, err := DomainSeparator(td)
	if err != nil {
		return common.Hash{}, err
	}
	msg, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to hash message")
	}
	raw := make([]byte, 0, 2+2*common.HashLength)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, sep.Bytes()...)
	raw = append(raw, msg...)
	return crypto.Keccak256Hash(raw), nil
}

// TypedDataJSON renders td for eth_signTypedData_v4 in an external wallet.
func TypedDataJSON(td apitypes.TypedData) (string, error) {
	out, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal typed data")
	}
	return string(out), nil
}
