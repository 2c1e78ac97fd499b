package api

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/order"
	"github.com/uhyunpark/sxbet/pkg/protocol"
	"github.com/uhyunpark/sxbet/pkg/signing"
)

func TestRemoteSigner_SignsThroughServer(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	remote, err := NewRemoteSigner(ctx, f.ts.URL, testToken, f.ts.Client(), 0)
	if err != nil {
		t.Fatalf("NewRemoteSigner: %v", err)
	}
	if remote.Address() != f.signer.Address() {
		t.Fatalf("address = %s, want %s", remote.Address().Hex(), f.signer.Address().Hex())
	}

	digest := common.HexToHash("0x1234")
	for _, mode := range []crypto.Mode{crypto.ModePersonal, crypto.ModeTypedData} {
		sig, err := remote.Sign(ctx, digest, mode)
		if err != nil {
			t.Fatalf("%s: Sign: %v", mode, err)
		}
		if !crypto.VerifySignature(f.signer.Address(), digest, mode, sig) {
			t.Errorf("%s: signature does not verify", mode)
		}
	}

	// The remote signer plugs straight into a coordinator.
	builder := protocol.NewBuilder(big.NewInt(4162), testFillHasher)
	coord, err := signing.NewCoordinator(signing.Options{Signer: remote, Builder: builder})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	signed, err := coord.SignOrder(ctx, &order.Order{
		MarketHash:     testMarket,
		TotalBetSize:   big.NewInt(5),
		PercentageOdds: new(big.Int).Set(half),
	})
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if err := builder.VerifyOrder(signed); err != nil {
		t.Errorf("VerifyOrder: %v", err)
	}
}

func TestRemoteSigner_Failures(t *testing.T) {
	f := newFixture(t, false)
	if _, err := NewRemoteSigner(context.Background(), f.ts.URL, testToken, f.ts.Client(), 0); err == nil {
		t.Error("NewRemoteSigner succeeded against a node without a signer")
	}

	signed := newFixture(t, true)
	wrong, err := NewRemoteSigner(context.Background(), signed.ts.URL, "wrong-token", signed.ts.Client(), 0)
	if err != nil {
		t.Fatalf("NewRemoteSigner: %v", err)
	}
	if _, err := wrong.Sign(context.Background(), common.Hash{1}, crypto.ModePersonal); err == nil {
		t.Error("Sign succeeded with the wrong token")
	}

	block := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(block)

	s := &RemoteSigner{baseURL: slow.URL, client: slow.Client(), timeout: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := s.Sign(ctx, common.Hash{1}, crypto.ModePersonal); err == nil {
		t.Fatal("Sign succeeded against a stalled signer")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Sign ignored the ctx deadline, took %s", elapsed)
	}
}
