package signing

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/odds"
	"github.com/uhyunpark/sxbet/pkg/order"
	"github.com/uhyunpark/sxbet/pkg/protocol"
	"github.com/uhyunpark/sxbet/pkg/util"
)

var (
	testNow      = time.Unix(1_700_000_000, 0)
	testExecutor = common.HexToAddress("0x" + strings.Repeat("0e", 20))
	testToken    = common.HexToAddress("0x" + strings.Repeat("0b", 20))
)

// countingSigner wraps a signer and records how often it is called.
type countingSigner struct {
	crypto.Signer
	calls int
}

func (s *countingSigner) Sign(ctx context.Context, digest common.Hash, mode crypto.Mode) ([]byte, error) {
	s.calls++
	return s.Signer.Sign(ctx, digest, mode)
}

type failingSigner struct {
	addr common.Address
	err  error
}

func (s failingSigner) Address() common.Address { return s.addr }
func (s failingSigner) Sign(context.Context, common.Hash, crypto.Mode) ([]byte, error) {
	return nil, s.err
}

// impostor claims one address and signs with another key.
type impostor struct {
	claimed common.Address
	key     *crypto.KeySigner
}

func (s impostor) Address() common.Address { return s.claimed }
func (s impostor) Sign(ctx context.Context, digest common.Hash, mode crypto.Mode) ([]byte, error) {
	return s.key.Sign(ctx, digest, mode)
}

func newCoordinator(t *testing.T, signer crypto.Signer, random []byte) *Coordinator {
	t.Helper()
	opts := Options{
		Signer:    signer,
		Builder:   protocol.NewBuilder(big.NewInt(4162), common.HexToAddress("0x"+strings.Repeat("fa", 20))),
		Clock:     util.NewManualClock(testNow),
		APIExpiry: 10 * time.Minute,
		Executor:  testExecutor,
		BaseToken: testToken,
	}
	if random != nil {
		opts.Random = bytes.NewReader(random)
	}
	c, err := NewCoordinator(opts)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func mustKey(t *testing.T) *crypto.KeySigner {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return k
}

func pct(n int64) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(odds.Scale(), big.NewInt(n)), big.NewInt(100))
}

func unsignedOrder() *order.Order {
	return &order.Order{
		MarketHash:               common.HexToHash("0x" + strings.Repeat("a1", 32)),
		TotalBetSize:             big.NewInt(1_000_000),
		PercentageOdds:           pct(50),
		IsMakerBettingOutcomeOne: true,
	}
}

func TestNewCoordinator_RequiresBuilder(t *testing.T) {
	if _, err := NewCoordinator(Options{}); err == nil {
		t.Fatal("expected error without a builder")
	}
}

func TestSignOrder_FillsDefaultsAndVerifies(t *testing.T) {
	key := mustKey(t)
	c := newCoordinator(t, key, nil)
	in := unsignedOrder()

	out, err := c.SignOrder(context.Background(), in)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}

	if out.Maker != key.Address() {
		t.Errorf("maker = %s, want %s", out.Maker.Hex(), key.Address().Hex())
	}
	if out.Executor != testExecutor || out.BaseToken != testToken {
		t.Errorf("executor/baseToken = %s/%s", out.Executor.Hex(), out.BaseToken.Hex())
	}
	if out.Expiry.Cmp(order.DefaultExpiry) != 0 {
		t.Errorf("expiry = %s, want %s", out.Expiry, order.DefaultExpiry)
	}
	if want := testNow.Add(10 * time.Minute).Unix(); out.APIExpiry != want {
		t.Errorf("apiExpiry = %d, want %d", out.APIExpiry, want)
	}
	if out.Salt == nil || out.Salt.Sign() == 0 {
		t.Error("salt not generated")
	}
	if err := c.Builder().VerifyOrder(out); err != nil {
		t.Errorf("VerifyOrder: %v", err)
	}

	// The input record is untouched.
	if in.Salt != nil || in.Signature != nil || in.Maker != (common.Address{}) || in.APIExpiry != 0 {
		t.Errorf("input mutated: %+v", in)
	}
}

func TestSignOrder_KeepsCallerFields(t *testing.T) {
	key := mustKey(t)
	c := newCoordinator(t, key, nil)
	in := unsignedOrder()
	in.Salt = big.NewInt(77)
	in.APIExpiry = 1_800_000_000
	in.Maker = key.Address()

	out, err := c.SignOrder(context.Background(), in)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if out.Salt.Int64() != 77 || out.APIExpiry != 1_800_000_000 {
		t.Errorf("caller fields overwritten: salt=%s apiExpiry=%d", out.Salt, out.APIExpiry)
	}

	in.Maker = common.Address{1}
	if _, err := c.SignOrder(context.Background(), in); err == nil {
		t.Error("expected error when maker differs from signer")
	}
}

func TestSignOrder_DeterministicWithFixedRandomness(t *testing.T) {
	key := mustKey(t)
	random := bytes.Repeat([]byte{0x5a}, 32)

	a, err := newCoordinator(t, key, random).SignOrder(context.Background(), unsignedOrder())
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	b, err := newCoordinator(t, key, random).SignOrder(context.Background(), unsignedOrder())
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if a.Salt.Cmp(b.Salt) != 0 {
		t.Errorf("salts differ: %s vs %s", a.Salt, b.Salt)
	}
	if want := new(big.Int).SetBytes(random); a.Salt.Cmp(want) != 0 {
		t.Errorf("salt = %s, want %s", a.Salt, want)
	}
	ha, _ := protocol.OrderHash(a)
	hb, _ := protocol.OrderHash(b)
	if ha != hb {
		t.Errorf("hashes differ: %s vs %s", ha.Hex(), hb.Hex())
	}
}

func TestSignOrder_FreshSalts(t *testing.T) {
	c := newCoordinator(t, mustKey(t), nil)
	a, _ := c.SignOrder(context.Background(), unsignedOrder())
	b, _ := c.SignOrder(context.Background(), unsignedOrder())
	if a.Salt.Cmp(b.Salt) == 0 {
		t.Error("two orders drew the same salt")
	}
}

func TestSignOrder_ValidationBeforeSigner(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*order.Order)
		want   error
	}{
		{"zero odds", func(o *order.Order) { o.PercentageOdds = new(big.Int) }, odds.ErrInvalidOdds},
		{"odds at 100%", func(o *order.Order) { o.PercentageOdds = odds.Scale() }, odds.ErrInvalidOdds},
		{"already filled", func(o *order.Order) { o.FillAmount = big.NewInt(1) }, odds.ErrInvalidState},
		{"oversized salt", func(o *order.Order) { o.Salt = new(big.Int).Lsh(big.NewInt(1), 256) }, crypto.ErrEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := &countingSigner{Signer: mustKey(t)}
			c := newCoordinator(t, signer, nil)
			o := unsignedOrder()
			tt.mutate(o)
			if _, err := c.SignOrder(context.Background(), o); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if signer.calls != 0 {
				t.Errorf("signer called %d times on invalid input", signer.calls)
			}

			// Input errors win over a missing signer.
			if _, err := newCoordinator(t, nil, nil).SignOrder(context.Background(), o); !errors.Is(err, tt.want) {
				t.Errorf("without signer err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSignerUnavailable(t *testing.T) {
	ctx := context.Background()
	hashes := []common.Hash{{1}}

	c := newCoordinator(t, nil, nil)
	if _, err := c.SignOrder(ctx, unsignedOrder()); !errors.Is(err, ErrSignerUnavailable) {
		t.Errorf("SignOrder err = %v, want ErrSignerUnavailable", err)
	}
	if _, err := c.SignCancel(ctx, hashes); !errors.Is(err, ErrSignerUnavailable) {
		t.Errorf("SignCancel err = %v, want ErrSignerUnavailable", err)
	}

	boom := errors.New("hsm offline")
	c = newCoordinator(t, failingSigner{addr: common.Address{1}, err: boom}, nil)
	_, err := c.SignCancel(ctx, hashes)
	if !errors.Is(err, ErrSignerUnavailable) || !errors.Is(err, boom) {
		t.Errorf("err = %v, want ErrSignerUnavailable wrapping the signer error", err)
	}

	liar := impostor{claimed: common.Address{2}, key: mustKey(t)}
	c = newCoordinator(t, liar, nil)
	if _, err := c.SignCancel(ctx, hashes); !errors.Is(err, ErrSignerUnavailable) {
		t.Errorf("impostor err = %v, want ErrSignerUnavailable", err)
	}
}

func TestSignerContextIsForwarded(t *testing.T) {
	c := newCoordinator(t, mustKey(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SignCancel(ctx, []common.Hash{{1}})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrSignerUnavailable) {
		t.Errorf("err = %v, want context.Canceled marked ErrSignerUnavailable", err)
	}
}

func signedTarget(t *testing.T, p *big.Int) *order.Order {
	t.Helper()
	maker := newCoordinator(t, mustKey(t), nil)
	o := unsignedOrder()
	o.PercentageOdds = p
	signed, err := maker.SignOrder(context.Background(), o)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	return signed
}

func TestSignFill(t *testing.T) {
	target := signedTarget(t, pct(50))
	taker := mustKey(t)
	c := newCoordinator(t, taker, nil)

	fill, err := c.SignFill(context.Background(), target, big.NewInt(1_000_000), FillOptions{})
	if err != nil {
		t.Fatalf("SignFill: %v", err)
	}
	if got := fill.TakerAmounts[0]; got.Int64() != 1_000_000 {
		t.Errorf("taker amount = %s, want 1000000", got)
	}
	wantHash, _ := protocol.OrderHash(target)
	if fill.OrderHashes[0] != wantHash {
		t.Errorf("order hash = %s, want %s", fill.OrderHashes[0].Hex(), wantHash.Hex())
	}
	if fill.Taker != taker.Address() {
		t.Errorf("taker = %s, want %s", fill.Taker.Hex(), taker.Address().Hex())
	}
	signer, err := c.Builder().RecoverFillSigner(fill)
	if err != nil || signer != taker.Address() {
		t.Errorf("RecoverFillSigner = (%s, %v), want %s", signer.Hex(), err, taker.Address().Hex())
	}

	p := fill.Payload()
	if p.Action != order.Placeholder || p.Returning != order.Placeholder {
		t.Errorf("placeholders = %q/%q", p.Action, p.Returning)
	}
}

func TestSignFill_FloorsTakerAmount(t *testing.T) {
	target := signedTarget(t, pct(25))
	c := newCoordinator(t, mustKey(t), nil)

	// 10 * 25 / 75 = 3.33..., floored.
	fill, err := c.SignFill(context.Background(), target, big.NewInt(10), FillOptions{})
	if err != nil {
		t.Fatalf("SignFill: %v", err)
	}
	if got := fill.TakerAmounts[0].Int64(); got != 3 {
		t.Errorf("taker amount = %d, want 3", got)
	}
}

func TestSignFill_Errors(t *testing.T) {
	target := signedTarget(t, pct(50))
	ctx := context.Background()

	boundary := target.Clone()
	boundary.PercentageOdds = odds.Scale()
	unsigned := target.Clone()
	unsigned.Signature = nil

	tests := []struct {
		name string
		legs []FillLeg
		opts FillOptions
		want error
	}{
		{"no legs", nil, FillOptions{}, ErrEmptyInput},
		{"odds at 100%", []FillLeg{{Order: boundary, TakerBet: big.NewInt(1)}}, FillOptions{}, odds.ErrInvalidOdds},
		{"negative bet", []FillLeg{{Order: target, TakerBet: big.NewInt(-1)}}, FillOptions{}, odds.ErrInvalidState},
		{"zero fill", []FillLeg{{Order: target, TakerBet: big.NewInt(0)}}, FillOptions{}, odds.ErrInvalidState},
		{"unsigned target", []FillLeg{{Order: unsigned, TakerBet: big.NewInt(10)}}, FillOptions{}, crypto.ErrEncoding},
		{"hash mismatch", []FillLeg{{Order: target, OrderHash: common.Hash{1}, TakerBet: big.NewInt(10)}}, FillOptions{}, crypto.ErrEncoding},
		{"beneficiary type alone", []FillLeg{{Order: target, TakerBet: big.NewInt(10)}}, FillOptions{BeneficiaryType: 1}, crypto.ErrEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := &countingSigner{Signer: mustKey(t)}
			c := newCoordinator(t, signer, nil)
			if _, err := c.SignFills(ctx, tt.legs, tt.opts); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if signer.calls != 0 {
				t.Errorf("signer called on invalid input")
			}
		})
	}
}

func TestSignFills_Batch(t *testing.T) {
	a := signedTarget(t, pct(50))
	b := signedTarget(t, pct(25))
	c := newCoordinator(t, mustKey(t), nil)

	fill, err := c.SignFills(context.Background(), []FillLeg{
		{Order: a, TakerBet: big.NewInt(100)},
		{Order: b, TakerBet: big.NewInt(300)},
	}, FillOptions{Beneficiary: common.Address{7}, BeneficiaryType: 1})
	if err != nil {
		t.Fatalf("SignFills: %v", err)
	}
	if len(fill.OrderHashes) != 2 || fill.TakerAmounts[0].Int64() != 100 || fill.TakerAmounts[1].Int64() != 100 {
		t.Errorf("amounts = %v", fill.TakerAmounts)
	}
	if fill.Payload().Beneficiary == "" {
		t.Error("beneficiary missing from payload")
	}
	if _, err := c.Builder().RecoverFillSigner(fill); err != nil {
		t.Errorf("RecoverFillSigner: %v", err)
	}
}

func TestSignCancel(t *testing.T) {
	key := mustKey(t)
	random := bytes.Repeat([]byte{0x11}, 32)
	c := newCoordinator(t, key, random)
	in := []common.Hash{{1}, {2}}

	cancel, err := c.SignCancel(context.Background(), in)
	if err != nil {
		t.Fatalf("SignCancel: %v", err)
	}
	if cancel.Timestamp != testNow.Unix() {
		t.Errorf("timestamp = %d, want %d", cancel.Timestamp, testNow.Unix())
	}
	if cancel.Salt != common.BytesToHash(random) {
		t.Errorf("salt = %s", cancel.Salt.Hex())
	}
	if cancel.Maker != key.Address() {
		t.Errorf("maker = %s, want %s", cancel.Maker.Hex(), key.Address().Hex())
	}
	signer, err := c.Builder().RecoverCancelSigner(cancel)
	if err != nil || signer != key.Address() {
		t.Errorf("RecoverCancelSigner = (%s, %v)", signer.Hex(), err)
	}

	in[0] = common.Hash{9}
	if cancel.OrderHashes[0] != (common.Hash{1}) {
		t.Error("cancel request aliases the caller's slice")
	}
}

func TestSignCancel_EmptyInput(t *testing.T) {
	for _, signer := range []crypto.Signer{nil, mustKey(t)} {
		c := newCoordinator(t, signer, nil)
		if _, err := c.SignCancel(context.Background(), nil); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("err = %v, want ErrEmptyInput", err)
		}
	}
}

func TestSaltsUseFullWidth(t *testing.T) {
	random := append(bytes.Repeat([]byte{0xff}, 32), bytes.Repeat([]byte{0x01}, 32)...)
	r := bytes.NewReader(random)

	salt, err := NewSalt(r)
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if salt.BitLen() != 256 {
		t.Errorf("salt bit length = %d, want 256", salt.BitLen())
	}
	domain, err := NewDomainSalt(r)
	if err != nil {
		t.Fatalf("NewDomainSalt: %v", err)
	}
	if domain != common.BytesToHash(random[32:]) {
		t.Errorf("domain salt = %s", domain.Hex())
	}
	if _, err := NewSalt(r); err == nil {
		t.Error("exhausted reader should fail")
	}
}
