package storage

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/odds"
	"github.com/uhyunpark/sxbet/pkg/order"
	"github.com/uhyunpark/sxbet/pkg/protocol"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(t.TempDir())
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func signed(t *testing.T, maker *crypto.KeySigner, salt int64) (*order.Order, common.Hash) {
	t.Helper()
	o := &order.Order{
		MarketHash:     common.Hash{0xaa},
		TotalBetSize:   big.NewInt(1_000_000),
		PercentageOdds: new(big.Int).Div(odds.Scale(), big.NewInt(2)),
		Expiry:         new(big.Int).Set(order.DefaultExpiry),
		Salt:           big.NewInt(salt),
		Maker:          maker.Address(),
		APIExpiry:      1_700_000_600,
	}
	h, err := protocol.OrderHash(o)
	if err != nil {
		t.Fatalf("OrderHash: %v", err)
	}
	o.Signature, err = maker.Sign(context.Background(), h, crypto.ModePersonal)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return o, h
}

func TestJournal_SaveAndGetOrder(t *testing.T) {
	j := openJournal(t)
	maker, _ := crypto.GenerateKey()
	o, h := signed(t, maker, 1)
	at := time.Unix(1_700_000_000, 0)

	if err := j.SaveOrder(h, o, at); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	e, err := j.GetOrder(h)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if e.Hash != h || e.SignedAt != at.Unix() || e.Order.OrderHash != h.Hex() || e.CancelSigned() {
		t.Errorf("entry = %+v", e)
	}

	back, err := e.Order.ToOrder()
	if err != nil {
		t.Fatalf("ToOrder: %v", err)
	}
	if got, _ := protocol.OrderHash(back); got != h {
		t.Errorf("journaled order hashes to %s, want %s", got.Hex(), h.Hex())
	}

	if _, err := j.GetOrder(common.Hash{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing order err = %v, want ErrNotFound", err)
	}

	o.Signature = nil
	if err := j.SaveOrder(h, o, at); err == nil {
		t.Error("unsigned order should not be journaled")
	}
}

func TestJournal_ListOpenAndCancel(t *testing.T) {
	j := openJournal(t)
	maker, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	at := time.Unix(1_700_000_000, 0)

	var hashes []common.Hash
	for salt := int64(1); salt <= 3; salt++ {
		o, h := signed(t, maker, salt)
		if err := j.SaveOrder(h, o, at); err != nil {
			t.Fatalf("SaveOrder: %v", err)
		}
		hashes = append(hashes, h)
	}
	o, h := signed(t, other, 9)
	if err := j.SaveOrder(h, o, at); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	open, err := j.ListOpen(maker.Address())
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 3 {
		t.Fatalf("open = %d, want 3", len(open))
	}

	cancelAt := at.Add(time.Minute)
	if err := j.MarkCancelSigned(hashes[:2], cancelAt); err != nil {
		t.Fatalf("MarkCancelSigned: %v", err)
	}
	// A signed cancel may never reach the exchange, so the orders stay listed.
	open, err = j.ListOpen(maker.Address())
	if err != nil || len(open) != 3 {
		t.Fatalf("open after cancel = %d (%v), want 3", len(open), err)
	}
	pending := 0
	for _, e := range open {
		if e.CancelSigned() {
			pending++
			if e.CancelSignedAt != cancelAt.Unix() {
				t.Errorf("cancelSignedAt = %d, want %d", e.CancelSignedAt, cancelAt.Unix())
			}
		}
	}
	if pending != 2 {
		t.Errorf("cancel-signed entries = %d, want 2", pending)
	}

	// Signing the cancel again replaces the time.
	retryAt := cancelAt.Add(time.Minute)
	if err := j.MarkCancelSigned(hashes[:1], retryAt); err != nil {
		t.Fatalf("MarkCancelSigned: %v", err)
	}
	e, _ := j.GetOrder(hashes[0])
	if !e.CancelSigned() || e.CancelSignedAt != retryAt.Unix() {
		t.Errorf("cancelSignedAt = %d, want %d", e.CancelSignedAt, retryAt.Unix())
	}

	if !open[0].Expired(time.Unix(1_700_000_600, 0)) || open[0].Expired(at) {
		t.Error("Expired() disagrees with apiExpiry")
	}
}

func TestJournal_SaveFill(t *testing.T) {
	j := openJournal(t)
	maker, _ := crypto.GenerateKey()
	o, h := signed(t, maker, 5)

	salt := new(big.Int).Lsh(big.NewInt(1), 255)
	fill := &order.FillRequest{
		Orders:       []*order.Order{o},
		OrderHashes:  []common.Hash{h},
		TakerAmounts: []*big.Int{big.NewInt(10)},
		FillSalt:     salt,
		Taker:        common.Address{1},
		Signature:    []byte{1, 2},
	}
	if err := j.SaveFill(fill, time.Unix(1, 0)); err != nil {
		t.Fatalf("SaveFill: %v", err)
	}
	e, err := j.GetFill(salt)
	if err != nil {
		t.Fatalf("GetFill: %v", err)
	}
	if e.Fill.FillSalt != salt.String() || e.Fill.OrderHashes[0] != h.Hex() {
		t.Errorf("fill entry = %+v", e)
	}
	if _, err := j.GetFill(big.NewInt(1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing fill err = %v, want ErrNotFound", err)
	}
}

func TestFillKey_SortsNumerically(t *testing.T) {
	small := string(fillKey(big.NewInt(2)))
	large := string(fillKey(big.NewInt(16)))
	if !(small < large) {
		t.Errorf("%s should sort before %s", small, large)
	}
}

func TestJournal_ListOpenReportsCorruptEntries(t *testing.T) {
	j := openJournal(t)
	maker, _ := crypto.GenerateKey()
	o, h := signed(t, maker, 1)
	if err := j.SaveOrder(h, o, time.Unix(1_700_000_000, 0)); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	if err := j.db.Set(orderKey(maker.Address(), common.Hash{5}), []byte("{"), pebble.Sync); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := j.ListOpen(maker.Address()); err == nil {
		t.Error("ListOpen skipped an undecodable entry")
	}
}
