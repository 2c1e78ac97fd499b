package feed

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/sxbet/pkg/odds"
	"github.com/uhyunpark/sxbet/pkg/order"
	"github.com/uhyunpark/sxbet/pkg/util"
)

// Book holds the active orders seen on the feed. Every read returns a
// clone; callers never share state with the book.
type Book struct {
	mu      sync.RWMutex
	orders  map[common.Hash]*order.Order
	markets map[common.Hash]map[common.Hash]struct{}
	log     *zap.SugaredLogger
}

func NewBook(logger *zap.SugaredLogger) *Book {
	return &Book{
		orders:  make(map[common.Hash]*order.Order),
		markets: make(map[common.Hash]map[common.Hash]struct{}),
		log:     util.OrNop(logger),
	}
}

// Consume applies updates until in is closed or ctx is done.
func (b *Book) Consume(ctx context.Context, in <-chan Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-in:
			if !ok {
				return nil
			}
			b.Apply(u)
		}
	}
}

// Apply folds one update into the book.
func (b *Book) Apply(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch u.Kind {
	case KindMarketClosed:
		for h := range b.markets[u.Market] {
			delete(b.orders, h)
		}
		delete(b.markets, u.Market)
		b.log.Debugw("book_market_closed", "market", u.Market.Hex())
	case KindOrder:
		if u.Status != StatusActive || u.Order == nil {
			b.remove(u.OrderHash)
			return
		}
		o := u.Order.Clone()
		if u.FillAmount != nil {
			o.FillAmount = new(big.Int).Set(u.FillAmount)
		}
		if o.Filled().Cmp(o.TotalBetSize) >= 0 {
			b.remove(u.OrderHash)
			return
		}
		b.orders[u.OrderHash] = o
		set, ok := b.markets[o.MarketHash]
		if !ok {
			set = make(map[common.Hash]struct{})
			b.markets[o.MarketHash] = set
		}
		set[u.OrderHash] = struct{}{}
	}
}

func (b *Book) remove(h common.Hash) {
	o, ok := b.orders[h]
	if !ok {
		return
	}
	delete(b.orders, h)
	if set := b.markets[o.MarketHash]; set != nil {
		delete(set, h)
		if len(set) == 0 {
			delete(b.markets, o.MarketHash)
		}
	}
}

// Len returns the number of active orders.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}

// Order returns a snapshot of one active order.
func (b *Book) Order(h common.Hash) (*order.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[h]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// BookEntry pairs an order snapshot with its hash.
type BookEntry struct {
	Hash  common.Hash
	Order *order.Order
}

// Market returns snapshots of a market's active orders, lowest maker odds
// (best for the taker) first.
func (b *Book) Market(market common.Hash) []BookEntry {
	b.mu.RLock()
	out := make([]BookEntry, 0, len(b.markets[market]))
	for h := range b.markets[market] {
		out = append(out, BookEntry{Hash: h, Order: b.orders[h].Clone()})
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Order.PercentageOdds.Cmp(out[j].Order.PercentageOdds); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Hash[:], out[j].Hash[:]) < 0
	})
	return out
}

// CheckFill is the liquidity pre-check for a taker stake against one order.
// It returns a snapshot of the order and the fill amount the stake needs,
// which must not exceed totalBetSize - fillAmount.
func (b *Book) CheckFill(h common.Hash, takerBet *big.Int) (*order.Order, *big.Int, error) {
	o, ok := b.Order(h)
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnknownOrder, "order %s", h.Hex())
	}
	need, err := odds.FillAmount(takerBet, o.PercentageOdds)
	if err != nil {
		return nil, nil, err
	}
	left := new(big.Int).Sub(o.TotalBetSize, o.Filled())
	if need.Cmp(left) > 0 {
		return nil, nil, errors.Wrapf(ErrInsufficientLiquidity, "fill needs %s, order %s has %s left", need, h.Hex(), left)
	}
	return o, need, nil
}
