// Package feed reads market data over a websocket and keeps read-only order
// book snapshots. Updates travel as values on a channel; nothing here signs.
package feed

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/order"
)

var (
	// ErrUnknownOrder is returned for an order hash not in the book.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrInsufficientLiquidity is returned when a fill needs more maker
	// stake than the order has left.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

// Frame types.
const (
	FrameOrderUpdate  = "order_update"
	FrameMarketClosed = "market_closed"
)

// Frame is one websocket message: a channel name, a type, and a
// type-specific payload.
type Frame struct {
	Channel string          `json:"channel,omitempty"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SubscribeRequest is sent once after connecting.
type SubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// MarketChannel names the channel carrying one market's order updates.
func MarketChannel(market common.Hash) string {
	return "markets:" + market.Hex()
}

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusFilled   Status = "FILLED"
)

type Kind int

const (
	KindOrder Kind = iota + 1
	KindMarketClosed
)

func (k Kind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindMarketClosed:
		return "market_closed"
	default:
		return "unknown"
	}
}

// Update is one decoded market-data event.
type Update struct {
	Kind       Kind
	Market     common.Hash
	OrderHash  common.Hash
	Status     Status
	Order      *order.Order // set for active orders
	FillAmount *big.Int
	ReceivedAt time.Time
}

// OrderUpdateData is the payload of an order_update frame.
type OrderUpdateData struct {
	Status Status `json:"status"`
	order.OrderPayload
}

// MarketClosedData is the payload of a market_closed frame.
type MarketClosedData struct {
	MarketHash string `json:"marketHash"`
}

// DecodeFrame turns one frame into updates. Order fields are re-validated;
// inbound data is never trusted.
func DecodeFrame(f Frame, at time.Time) ([]Update, error) {
	switch f.Type {
	case FrameOrderUpdate:
		var rows []OrderUpdateData
		if err := json.Unmarshal(f.Data, &rows); err != nil {
			return nil, errors.Wrap(err, "decode order_update")
		}
		out := make([]Update, 0, len(rows))
		for i := range rows {
			u, err := decodeOrderRow(&rows[i], at)
			if err != nil {
				return nil, errors.Wrapf(err, "order_update row %d", i)
			}
			out = append(out, u)
		}
		return out, nil
	case FrameMarketClosed:
		var d MarketClosedData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return nil, errors.Wrap(err, "decode market_closed")
		}
		market, err := crypto.ParseHash(d.MarketHash)
		if err != nil {
			return nil, err
		}
		return []Update{{Kind: KindMarketClosed, Market: market, ReceivedAt: at}}, nil
	default:
		return nil, nil
	}
}

func decodeOrderRow(row *OrderUpdateData, at time.Time) (Update, error) {
	hash, err := crypto.ParseHash(row.OrderHash)
	if err != nil {
		return Update{}, errors.Wrap(err, "orderHash")
	}
	u := Update{Kind: KindOrder, OrderHash: hash, Status: row.Status, ReceivedAt: at}
	if row.Status != StatusActive {
		if row.MarketHash != "" {
			if u.Market, err = crypto.ParseHash(row.MarketHash); err != nil {
				return Update{}, errors.Wrap(err, "marketHash")
			}
		}
		return u, nil
	}
	o, err := row.ToOrder()
	if err != nil {
		return Update{}, err
	}
	u.Order = o
	u.Market = o.MarketHash
	u.FillAmount = o.Filled()
	return u, nil
}
