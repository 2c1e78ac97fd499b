package api

import "github.com/uhyunpark/sxbet/pkg/order"

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// OrderDraft is the body of POST /api/v1/orders. Odds may be given either as
// percentageOdds (scaled by 10^20) or decimalOdds ("2.50"); the stake either
// as totalBetSize in base units or as nominal stake ("10.5").
type OrderDraft struct {
	MarketHash               string `json:"marketHash"`
	PercentageOdds           string `json:"percentageOdds,omitempty"`
	DecimalOdds              string `json:"decimalOdds,omitempty"`
	TotalBetSize             string `json:"totalBetSize,omitempty"`
	Stake                    string `json:"stake,omitempty"`
	IsMakerBettingOutcomeOne bool   `json:"isMakerBettingOutcomeOne"`
	APIExpiry                int64  `json:"apiExpiry,omitempty"`
	BaseToken                string `json:"baseToken,omitempty"`
}

// FillLegDraft targets one order. The order comes from the live book unless
// it is supplied inline.
type FillLegDraft struct {
	OrderHash string              `json:"orderHash"`
	TakerBet  string              `json:"takerBet"` // base units
	Order     *order.OrderPayload `json:"order,omitempty"`
}

// FillDraft is the body of POST /api/v1/fills.
type FillDraft struct {
	Legs            []FillLegDraft `json:"legs"`
	Beneficiary     string         `json:"beneficiary,omitempty"`
	BeneficiaryType uint8          `json:"beneficiaryType,omitempty"`
	CashOutTarget   string         `json:"cashOutTarget,omitempty"`
}

// CancelDraft is the body of POST /api/v1/cancels. All cancels every
// unexpired journaled order of the signer, including ones whose cancel was
// already signed.
type CancelDraft struct {
	OrderHashes []string `json:"orderHashes,omitempty"`
	All         bool     `json:"all,omitempty"`
}

// SignRequest is the body of POST /api/v1/sign.
type SignRequest struct {
	Digest string `json:"digest"` // 0x-prefixed 32 bytes
	Mode   string `json:"mode"`   // "personal" or "typed_data"
}

// ==============================
// REST Response Types
// ==============================

// SignedOrderResponse carries the new-order submission body.
type SignedOrderResponse struct {
	OrderHash string                `json:"orderHash"`
	Request   order.NewOrderRequest `json:"request"`
}

// OddsResponse is returned by GET /api/v1/odds.
type OddsResponse struct {
	PercentageOdds     string `json:"percentageOdds"`
	DecimalOdds        string `json:"decimalOdds"`
	TakerOdds          string `json:"takerOdds"`
	RemainingLiquidity string `json:"remainingLiquidity,omitempty"`
	FillAmount         string `json:"fillAmount,omitempty"`
	PotentialPayout    string `json:"potentialPayout,omitempty"`
}

// OpenOrder is one journaled order. CancelSignedAt is set once a cancel was
// signed for it.
type OpenOrder struct {
	OrderHash          string             `json:"orderHash"`
	Order              order.OrderPayload `json:"order"`
	DecimalOdds        string             `json:"decimalOdds"`
	RemainingLiquidity string             `json:"remainingLiquidity"`
	SignedAt           int64              `json:"signedAt"`
	CancelSignedAt     int64              `json:"cancelSignedAt,omitempty"`
	Expired            bool               `json:"expired"`
}

// SignerInfo is returned by GET /api/v1/signer.
type SignerInfo struct {
	Address    string `json:"address"`
	ChainID    string `json:"chainId"`
	FillHasher string `json:"fillHasher"`
}

// SignResponse is returned by POST /api/v1/sign.
type SignResponse struct {
	Signature string `json:"signature"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WebSocket channels and event types.
const (
	ChannelOrders  = "orders"
	ChannelFills   = "fills"
	ChannelCancels = "cancels"

	EventOrderSigned  = "order_signed"
	EventFillSigned   = "fill_signed"
	EventCancelSigned = "cancel_signed"
)

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders", "fills", "cancels"]
}
