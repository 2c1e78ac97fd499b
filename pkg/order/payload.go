package order

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/sxbet/pkg/crypto"
)

// OrderPayload is the JSON shape of an order as posted to and returned by
// the exchange. Large integers travel as decimal strings; expiry as a number.
type OrderPayload struct {
	OrderHash                string   `json:"orderHash,omitempty"`
	MarketHash               string   `json:"marketHash"`
	Maker                    string   `json:"maker"`
	TotalBetSize             string   `json:"totalBetSize"`
	PercentageOdds           string   `json:"percentageOdds"`
	BaseToken                string   `json:"baseToken"`
	APIExpiry                int64    `json:"apiExpiry"`
	Expiry                   *big.Int `json:"expiry"`
	Executor                 string   `json:"executor"`
	Salt                     string   `json:"salt"`
	IsMakerBettingOutcomeOne bool     `json:"isMakerBettingOutcomeOne"`
	Signature                string   `json:"signature,omitempty"`
	FillAmount               string   `json:"fillAmount,omitempty"`
}

// NewOrderRequest is the body of a new-order submission.
type NewOrderRequest struct {
	Orders []OrderPayload `json:"orders"`
}

// FillPayload is the body of a fill submission.
type FillPayload struct {
	OrderHashes     []string `json:"orderHashes"`
	TakerAmounts    []string `json:"takerAmounts"`
	Taker           string   `json:"taker"`
	TakerSig        string   `json:"takerSig"`
	FillSalt        string   `json:"fillSalt"`
	Action          string   `json:"action"`
	Market          string   `json:"market"`
	Betting         string   `json:"betting"`
	Stake           string   `json:"stake"`
	Odds            string   `json:"odds"`
	Returning       string   `json:"returning"`
	Beneficiary     string   `json:"beneficiary,omitempty"`
	BeneficiaryType uint8    `json:"beneficiaryType,omitempty"`
	CashOutTarget   string   `json:"cashOutTarget,omitempty"`
}

// CancelPayload is the body of a cancel submission.
type CancelPayload struct {
	OrderHashes []string `json:"orderHashes"`
	Signature   string   `json:"signature"`
	Salt        string   `json:"salt"`
	Maker       string   `json:"maker"`
	Timestamp   int64    `json:"timestamp"`
}

// Payload renders o for submission. OrderHash is left for the caller, who
// owns the hashing.
func (o *Order) Payload() OrderPayload {
	p := OrderPayload{
		MarketHash:               o.MarketHash.Hex(),
		Maker:                    o.Maker.Hex(),
		TotalBetSize:             bigString(o.TotalBetSize),
		PercentageOdds:           bigString(o.PercentageOdds),
		BaseToken:                o.BaseToken.Hex(),
		APIExpiry:                o.APIExpiry,
		Expiry:                   cloneBig(o.Expiry),
		Executor:                 o.Executor.Hex(),
		Salt:                     bigString(o.Salt),
		IsMakerBettingOutcomeOne: o.IsMakerBettingOutcomeOne,
		Signature:                encodeBytes(o.Signature),
	}
	if o.FillAmount != nil {
		p.FillAmount = o.FillAmount.String()
	}
	return p
}

// ToOrder parses and validates the payload. Every width is checked, so a
// malformed field fails with crypto.ErrEncoding before any hashing happens.
func (p *OrderPayload) ToOrder() (*Order, error) {
	var (
		o   Order
		err error
	)
	if o.MarketHash, err = crypto.ParseHash(p.MarketHash); err != nil {
		return nil, errors.Wrap(err, "marketHash")
	}
	if o.Maker, err = crypto.ParseAddress(p.Maker); err != nil {
		return nil, errors.Wrap(err, "maker")
	}
	if o.BaseToken, err = crypto.ParseAddress(p.BaseToken); err != nil {
		return nil, errors.Wrap(err, "baseToken")
	}
	if o.Executor, err = crypto.ParseAddress(p.Executor); err != nil {
		return nil, errors.Wrap(err, "executor")
	}
	if o.TotalBetSize, err = crypto.ParseUint256(p.TotalBetSize); err != nil {
		return nil, errors.Wrap(err, "totalBetSize")
	}
	if o.PercentageOdds, err = crypto.ParseUint256(p.PercentageOdds); err != nil {
		return nil, errors.Wrap(err, "percentageOdds")
	}
	if o.Salt, err = crypto.ParseUint256(p.Salt); err != nil {
		return nil, errors.Wrap(err, "salt")
	}
	if p.Expiry == nil {
		o.Expiry = new(big.Int).Set(DefaultExpiry)
	} else {
		o.Expiry = new(big.Int).Set(p.Expiry)
	}
	if p.FillAmount != "" {
		if o.FillAmount, err = crypto.ParseUint256(p.FillAmount); err != nil {
			return nil, errors.Wrap(err, "fillAmount")
		}
	}
	if p.Signature != "" {
		if o.Signature, err = crypto.ParseSignature(p.Signature); err != nil {
			return nil, err
		}
	}
	o.APIExpiry = p.APIExpiry
	o.IsMakerBettingOutcomeOne = p.IsMakerBettingOutcomeOne

	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func encodeBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hexutil.Encode(b)
}
