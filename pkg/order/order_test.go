package order

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/odds"
)

func testOrder() *Order {
	return &Order{
		MarketHash:               common.HexToHash("0x" + strings.Repeat("0a", 32)),
		BaseToken:                common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"),
		TotalBetSize:             big.NewInt(1_000_000),
		PercentageOdds:           new(big.Int).Div(odds.Scale(), big.NewInt(2)),
		Expiry:                   new(big.Int).Set(DefaultExpiry),
		Salt:                     big.NewInt(123456789),
		Maker:                    common.HexToAddress("0x" + strings.Repeat("01", 20)),
		Executor:                 common.HexToAddress("0x" + strings.Repeat("02", 20)),
		IsMakerBettingOutcomeOne: true,
		APIExpiry:                1_700_000_000,
	}
}

func TestOrderValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Order)
		want   error
	}{
		{"valid", func(*Order) {}, nil},
		{"zero odds", func(o *Order) { o.PercentageOdds = new(big.Int) }, odds.ErrInvalidOdds},
		{"nil odds", func(o *Order) { o.PercentageOdds = nil }, odds.ErrInvalidOdds},
		{"zero size", func(o *Order) { o.TotalBetSize = new(big.Int) }, odds.ErrInvalidState},
		{"fully filled", func(o *Order) { o.FillAmount = big.NewInt(1_000_000) }, nil},
		{"overfilled", func(o *Order) { o.FillAmount = big.NewInt(1_000_001) }, odds.ErrInvalidState},
		{"negative fill", func(o *Order) { o.FillAmount = big.NewInt(-1) }, odds.ErrInvalidState},
		{"negative api expiry", func(o *Order) { o.APIExpiry = -1 }, odds.ErrInvalidState},
		{"short signature", func(o *Order) { o.Signature = []byte{1} }, crypto.ErrEncoding},
		{"nil salt", func(o *Order) { o.Salt = nil }, crypto.ErrEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOrder()
			tt.mutate(o)
			err := o.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOrderDerivedValues(t *testing.T) {
	o := testOrder()
	if got := o.DecimalOdds(); got != "2.00" {
		t.Errorf("DecimalOdds() = %s, want 2.00", got)
	}
	got, err := o.RemainingLiquidity(odds.DefaultDecimals)
	if err != nil || got != "1.00" {
		t.Errorf("RemainingLiquidity() = (%s, %v), want 1.00", got, err)
	}

	o.FillAmount = new(big.Int).Set(o.TotalBetSize)
	if got, _ := o.RemainingLiquidity(odds.DefaultDecimals); got != "0.00" {
		t.Errorf("RemainingLiquidity() when filled = %s, want 0.00", got)
	}
}

func TestOrderClone_IsDeep(t *testing.T) {
	o := testOrder()
	o.Signature = []byte{1, 2, 3}
	c := o.Clone()

	c.TotalBetSize.SetInt64(1)
	c.Salt.SetInt64(1)
	c.Signature[0] = 9
	if o.TotalBetSize.Int64() != 1_000_000 || o.Salt.Int64() != 123456789 || o.Signature[0] != 1 {
		t.Error("mutating the clone changed the original")
	}
}

func TestOrderPayload_RoundTrip(t *testing.T) {
	o := testOrder()
	o.Signature = make([]byte, 65)
	o.Signature[64] = 27

	raw, err := json.Marshal(NewOrderRequest{Orders: []OrderPayload{o.Payload()}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{
		`"totalBetSize":"1000000"`,
		`"percentageOdds":"50000000000000000000"`,
		`"expiry":2209006800`,
		`"apiExpiry":1700000000`,
		`"baseToken":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"`,
		`"isMakerBettingOutcomeOne":true`,
	} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("payload %s missing %s", raw, want)
		}
	}

	var req NewOrderRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	back, err := req.Orders[0].ToOrder()
	if err != nil {
		t.Fatalf("ToOrder: %v", err)
	}
	if back.MarketHash != o.MarketHash || back.Maker != o.Maker || back.Salt.Cmp(o.Salt) != 0 ||
		back.Expiry.Cmp(o.Expiry) != 0 || back.APIExpiry != o.APIExpiry || len(back.Signature) != 65 {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestOrderPayload_ToOrderRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*OrderPayload)
		want   error
	}{
		{"short market hash", func(p *OrderPayload) { p.MarketHash = "0x1234" }, crypto.ErrEncoding},
		{"bad checksum", func(p *OrderPayload) { p.BaseToken = "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" }, crypto.ErrEncoding},
		{"decimal size", func(p *OrderPayload) { p.TotalBetSize = "1.5" }, crypto.ErrEncoding},
		{"odds at 100%", func(p *OrderPayload) { p.PercentageOdds = "100000000000000000000" }, odds.ErrInvalidOdds},
		{"short signature", func(p *OrderPayload) { p.Signature = "0x1234" }, crypto.ErrEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testOrder().Payload()
			tt.mutate(&p)
			if _, err := p.ToOrder(); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOrderPayload_DefaultsExpiry(t *testing.T) {
	p := testOrder().Payload()
	p.Expiry = nil
	o, err := p.ToOrder()
	if err != nil {
		t.Fatalf("ToOrder: %v", err)
	}
	if o.Expiry.Cmp(DefaultExpiry) != 0 {
		t.Errorf("expiry = %s, want %s", o.Expiry, DefaultExpiry)
	}
}

func TestFillRequestPayload(t *testing.T) {
	o := testOrder()
	o.Signature = make([]byte, 65)
	f := &FillRequest{
		Orders:       []*Order{o},
		OrderHashes:  []common.Hash{{0xab}},
		TakerAmounts: []*big.Int{big.NewInt(500_000)},
		FillSalt:     big.NewInt(99),
		Taker:        common.HexToAddress("0x" + strings.Repeat("03", 20)),
		Signature:    []byte{0xde, 0xad},
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	p := f.Payload()
	for name, v := range map[string]string{
		"action": p.Action, "market": p.Market, "betting": p.Betting,
		"stake": p.Stake, "odds": p.Odds, "returning": p.Returning,
	} {
		if v != "N/A" {
			t.Errorf("%s = %q, want N/A", name, v)
		}
	}
	if p.TakerAmounts[0] != "500000" || p.FillSalt != "99" || p.TakerSig != "0xdead" {
		t.Errorf("payload = %+v", p)
	}

	raw, _ := json.Marshal(p)
	if strings.Contains(string(raw), "beneficiary") || strings.Contains(string(raw), "cashOutTarget") {
		t.Errorf("unused sentinels should be omitted: %s", raw)
	}
}

func TestFillRequestValidate(t *testing.T) {
	o := testOrder()
	if err := (&FillRequest{}).Validate(); !errors.Is(err, crypto.ErrEncoding) {
		t.Errorf("empty fill err = %v, want ErrEncoding", err)
	}
	unsigned := &FillRequest{
		Orders:       []*Order{o},
		OrderHashes:  []common.Hash{{1}},
		TakerAmounts: []*big.Int{big.NewInt(1)},
		FillSalt:     big.NewInt(1),
	}
	if err := unsigned.Validate(); !errors.Is(err, crypto.ErrEncoding) {
		t.Errorf("unsigned order err = %v, want ErrEncoding", err)
	}

	signed := testOrder()
	signed.Signature = make([]byte, 65)
	typeOnly := &FillRequest{
		Orders:          []*Order{signed},
		OrderHashes:     []common.Hash{{1}},
		TakerAmounts:    []*big.Int{big.NewInt(1)},
		FillSalt:        big.NewInt(1),
		BeneficiaryType: 1,
	}
	if err := typeOnly.Validate(); !errors.Is(err, crypto.ErrEncoding) {
		t.Errorf("beneficiary type without beneficiary err = %v, want ErrEncoding", err)
	}
	typeOnly.Beneficiary = common.Address{7}
	if err := typeOnly.Validate(); err != nil {
		t.Errorf("beneficiary with type: %v", err)
	}
}

func TestCancelRequestPayload(t *testing.T) {
	c := &CancelRequest{
		OrderHashes: []common.Hash{{1}, {2}},
		Salt:        common.Hash{3},
		Timestamp:   1_700_000_000,
		Maker:       common.HexToAddress("0x" + strings.Repeat("04", 20)),
		Signature:   []byte{0xbe, 0xef},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	p := c.Payload()
	if len(p.OrderHashes) != 2 || p.OrderHashes[0] != c.OrderHashes[0].Hex() {
		t.Errorf("order hashes = %v", p.OrderHashes)
	}
	if p.Signature != "0xbeef" || p.Salt != c.Salt.Hex() || p.Timestamp != c.Timestamp {
		t.Errorf("payload = %+v", p)
	}

	if err := (&CancelRequest{Timestamp: 1}).Validate(); !errors.Is(err, crypto.ErrEncoding) {
		t.Errorf("empty cancel err = %v, want ErrEncoding", err)
	}
}
