// Package storage keeps a local pebble journal of what this maker signed, so
// open orders can be listed and cancelled later. The signing flows never
// read it.
package storage

import (
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/sxbet/pkg/order"
)

// ErrNotFound is returned when a journal entry does not exist.
var ErrNotFound = errors.New("not found")

// OrderEntry is a journaled signed order.
type OrderEntry struct {
	Hash           common.Hash        `json:"hash"`
	Order          order.OrderPayload `json:"order"`
	SignedAt       int64              `json:"signedAt"`
	CancelSignedAt int64              `json:"cancelSignedAt,omitempty"` // last cancel signed for the order
}

// CancelSigned reports whether a cancellation was signed for the order. It
// says nothing about whether the exchange accepted it.
func (e *OrderEntry) CancelSigned() bool { return e.CancelSignedAt != 0 }

// Expired reports whether the order's apiExpiry has passed at now.
func (e *OrderEntry) Expired(now time.Time) bool {
	return e.Order.APIExpiry != 0 && e.Order.APIExpiry <= now.Unix()
}

// FillEntry is a journaled signed fill.
type FillEntry struct {
	Fill     order.FillPayload `json:"fill"`
	SignedAt int64             `json:"signedAt"`
}

type Journal struct {
	db *pebble.DB
}

func NewJournal(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// SaveOrder journals a signed order under its hash.
func (j *Journal) SaveOrder(hash common.Hash, o *order.Order, at time.Time) error {
	if !o.IsSigned() {
		return errors.Newf("order %s is not signed", hash.Hex())
	}
	p := o.Payload()
	p.OrderHash = hash.Hex()
	val, err := encodeJSON(&OrderEntry{Hash: hash, Order: p, SignedAt: at.Unix()})
	if err != nil {
		return err
	}

	b := j.db.NewBatch()
	defer b.Close()
	if err := b.Set(orderKey(o.Maker, hash), val, nil); err != nil {
		return err
	}
	if err := b.Set(indexKey(hash), o.Maker.Bytes(), nil); err != nil {
		return err
	}
	return errors.Wrap(b.Commit(pebble.Sync), "save order")
}

// GetOrder loads a journaled order, with its cancel-signed time if any.
func (j *Journal) GetOrder(hash common.Hash) (*OrderEntry, error) {
	maker, closer, err := j.db.Get(indexKey(hash))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "order %s", hash.Hex())
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order index")
	}
	key := orderKey(common.BytesToAddress(maker), hash)
	closer.Close()

	val, closer, err := j.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "order %s", hash.Hex())
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	defer closer.Close()

	var e OrderEntry
	if err := decodeJSON(val, &e); err != nil {
		return nil, err
	}
	if err := j.loadCancel(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListOpen returns the maker's journaled orders in key order. Orders whose
// cancel was signed stay listed with CancelSignedAt set: the journal never
// learns whether a cancel reached the exchange, so a later cancel-all must
// still see them. Expiry is left to the caller (see OrderEntry.Expired).
func (j *Journal) ListOpen(maker common.Address) ([]*OrderEntry, error) {
	prefix := orderPrefix(maker)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer iter.Close()

	var out []*OrderEntry
	for iter.First(); iter.Valid(); iter.Next() {
		var e OrderEntry
		if err := decodeJSON(iter.Value(), &e); err != nil {
			return nil, errors.Wrapf(err, "journal entry %s", iter.Key())
		}
		if err := j.loadCancel(&e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, iter.Error()
}

// MarkCancelSigned records when a cancel was signed for each hash, replacing
// any earlier time. Hashes that were never journaled are recorded too.
func (j *Journal) MarkCancelSigned(hashes []common.Hash, at time.Time) error {
	b := j.db.NewBatch()
	defer b.Close()
	for _, h := range hashes {
		if err := b.Set(cancelKey(h), timeValue(at), nil); err != nil {
			return err
		}
	}
	return errors.Wrap(b.Commit(pebble.Sync), "mark cancel signed")
}

// SaveFill journals a signed fill under its salt.
func (j *Journal) SaveFill(fill *order.FillRequest, at time.Time) error {
	if fill.FillSalt == nil {
		return errors.New("fill has no salt")
	}
	val, err := encodeJSON(&FillEntry{Fill: fill.Payload(), SignedAt: at.Unix()})
	if err != nil {
		return err
	}
	return errors.Wrap(j.db.Set(fillKey(fill.FillSalt), val, pebble.Sync), "save fill")
}

// GetFill loads a journaled fill by salt.
func (j *Journal) GetFill(salt *big.Int) (*FillEntry, error) {
	val, closer, err := j.db.Get(fillKey(salt))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "fill %s", salt)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get fill")
	}
	defer closer.Close()

	var e FillEntry
	if err := decodeJSON(val, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (j *Journal) loadCancel(e *OrderEntry) error {
	val, closer, err := j.db.Get(cancelKey(e.Hash))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "get cancel")
	}
	defer closer.Close()
	e.CancelSignedAt = valueTime(val).Unix()
	return nil
}
