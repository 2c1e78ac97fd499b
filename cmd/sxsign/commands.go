package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/sxbet/pkg/api"
	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/odds"
	"github.com/uhyunpark/sxbet/pkg/order"
	"github.com/uhyunpark/sxbet/pkg/protocol"
	"github.com/uhyunpark/sxbet/pkg/signing"
)

const signTimeout = 30 * time.Second

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new secp256k1 key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"address":    key.Address().Hex(),
				"privateKey": key.PrivateKeyHex(),
			})
		},
	}
}

func newOddsCmd() *cobra.Command {
	var (
		percentage, decimalOdds string
		total, filled, takerBet string
		decimals                int
	)
	cmd := &cobra.Command{
		Use:   "odds",
		Short: "Convert odds and compute remaining liquidity, fill amount and payout",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseOdds(percentage, decimalOdds)
			if err != nil {
				return err
			}
			if decimals < 0 {
				decimals = cfg.Exchange.Decimals
			}
			taker, err := odds.TakerOdds(p)
			if err != nil {
				return err
			}
			dec, _ := odds.DecimalOdds(p)
			resp := api.OddsResponse{
				PercentageOdds: p.String(),
				DecimalOdds:    dec,
				TakerOdds:      taker.String(),
			}
			if total != "" {
				t, err := crypto.ParseUint256(total)
				if err != nil {
					return errors.Wrap(err, "--total")
				}
				f, err := crypto.ParseUint256(filled)
				if err != nil {
					return errors.Wrap(err, "--filled")
				}
				if resp.RemainingLiquidity, err = odds.RemainingLiquidity(t, f, p, decimals); err != nil {
					return err
				}
			}
			if takerBet != "" {
				bet, err := crypto.ParseUint256(takerBet)
				if err != nil {
					return errors.Wrap(err, "--taker-bet")
				}
				fill, err := odds.FillAmount(bet, p)
				if err != nil {
					return err
				}
				payout, err := odds.PotentialPayout(bet, p)
				if err != nil {
					return err
				}
				resp.FillAmount = fill.String()
				resp.PotentialPayout = payout.String()
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&percentage, "percentage", "", "Maker percentage odds scaled by 10^20")
	cmd.Flags().StringVar(&decimalOdds, "decimal", "", "Taker decimal odds, e.g. 2.50")
	cmd.Flags().StringVar(&total, "total", "", "Order totalBetSize in base units")
	cmd.Flags().StringVar(&filled, "filled", "0", "Order fillAmount in base units")
	cmd.Flags().StringVar(&takerBet, "taker-bet", "", "Taker stake in base units")
	cmd.Flags().IntVar(&decimals, "decimals", -1, "Token decimals (default SX_TOKEN_DECIMALS)")
	return cmd
}

func newOrderCmd() *cobra.Command {
	var (
		market, percentage, decimalOdds string
		size, stake                     string
		outcomeOne, noJournal           bool
		apiExpiry                       int64
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Sign a new maker order",
		RunE: func(cmd *cobra.Command, args []string) error {
			marketHash, err := crypto.ParseHash(market)
			if err != nil {
				return errors.Wrap(err, "--market")
			}
			p, err := parseOdds(percentage, decimalOdds)
			if err != nil {
				return err
			}
			var total *big.Int
			switch {
			case size != "":
				total, err = crypto.ParseUint256(size)
			case stake != "":
				total, err = odds.FromNominalUnits(stake, cfg.Exchange.Decimals)
			default:
				err = errors.New("set --size or --stake")
			}
			if err != nil {
				return err
			}

			coord, err := newCoordinator()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), signTimeout)
			defer cancel()
			signed, err := coord.SignOrder(ctx, &order.Order{
				MarketHash:               marketHash,
				TotalBetSize:             total,
				PercentageOdds:           p,
				IsMakerBettingOutcomeOne: outcomeOne,
				APIExpiry:                apiExpiry,
			})
			if err != nil {
				return err
			}
			hash, err := protocol.OrderHash(signed)
			if err != nil {
				return err
			}

			if !noJournal {
				journal, err := openJournal()
				if err != nil {
					return err
				}
				defer journal.Close()
				if err := journal.SaveOrder(hash, signed, time.Now()); err != nil {
					return err
				}
			}

			payload := signed.Payload()
			payload.OrderHash = hash.Hex()
			sugar.Infow("order_signed", "order_hash", hash.Hex(), "decimal_odds", signed.DecimalOdds())
			return printJSON(cmd, api.SignedOrderResponse{
				OrderHash: hash.Hex(),
				Request:   order.NewOrderRequest{Orders: []order.OrderPayload{payload}},
			})
		},
	}
	cmd.Flags().StringVar(&market, "market", "", "Market hash (0x, 32 bytes)")
	cmd.Flags().StringVar(&percentage, "percentage", "", "Maker percentage odds scaled by 10^20")
	cmd.Flags().StringVar(&decimalOdds, "decimal", "", "Taker decimal odds, e.g. 2.50")
	cmd.Flags().StringVar(&size, "size", "", "totalBetSize in base units")
	cmd.Flags().StringVar(&stake, "stake", "", "totalBetSize in nominal units, e.g. 10.5")
	cmd.Flags().BoolVar(&outcomeOne, "outcome-one", false, "Maker bets on outcome one")
	cmd.Flags().Int64Var(&apiExpiry, "api-expiry", 0, "apiExpiry unix seconds (default now + SX_API_EXPIRY_SEC)")
	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "Do not record the order in the journal")
	cmd.MarkFlagRequired("market")
	return cmd
}

func newFillCmd() *cobra.Command {
	var (
		orderFile, takerBet string
		beneficiary         string
		beneficiaryType     uint8
		typedData           bool
	)
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Sign a taker fill of one order read from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(orderFile)
			if err != nil {
				return err
			}
			var payload order.OrderPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return errors.Wrap(err, "decode order")
			}
			target, err := payload.ToOrder()
			if err != nil {
				return err
			}
			leg := signing.FillLeg{Order: target}
			if payload.OrderHash != "" {
				if leg.OrderHash, err = crypto.ParseHash(payload.OrderHash); err != nil {
					return errors.Wrap(err, "orderHash")
				}
			}
			if leg.TakerBet, err = crypto.ParseUint256(takerBet); err != nil {
				return errors.Wrap(err, "--taker-bet")
			}
			var opts signing.FillOptions
			if beneficiary != "" {
				if opts.Beneficiary, err = crypto.ParseAddress(beneficiary); err != nil {
					return errors.Wrap(err, "--beneficiary")
				}
				opts.BeneficiaryType = beneficiaryType
			}

			coord, err := newCoordinator()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), signTimeout)
			defer cancel()
			fill, err := coord.SignFills(ctx, []signing.FillLeg{leg}, opts)
			if err != nil {
				return err
			}
			if typedData {
				td, err := coord.Builder().FillTypedData(fill)
				if err != nil {
					return err
				}
				return printTypedData(cmd, td)
			}
			return printJSON(cmd, fill.Payload())
		},
	}
	cmd.Flags().StringVar(&orderFile, "order", "", "JSON file holding the signed maker order")
	cmd.Flags().StringVar(&takerBet, "taker-bet", "", "Taker stake in base units")
	cmd.Flags().StringVar(&beneficiary, "beneficiary", "", "Beneficiary address (optional)")
	cmd.Flags().Uint8Var(&beneficiaryType, "beneficiary-type", 0, "Beneficiary type when --beneficiary is set")
	cmd.Flags().BoolVar(&typedData, "typed-data", false, "Print the signed EIP-712 typed data instead of the payload")
	cmd.MarkFlagRequired("order")
	cmd.MarkFlagRequired("taker-bet")
	return cmd
}

func newCancelCmd() *cobra.Command {
	var (
		hashes    []string
		all       bool
		typedData bool
	)
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Sign a cancellation of orders by hash, or of every open journaled order",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := newCoordinator()
			if err != nil {
				return err
			}
			journal, err := openJournal()
			if err != nil {
				return err
			}
			defer journal.Close()

			var targets []common.Hash
			if all {
				open, err := journal.ListOpen(coord.Signer().Address())
				if err != nil {
					return err
				}
				now := time.Now()
				for _, e := range open {
					if !e.Expired(now) {
						targets = append(targets, e.Hash)
					}
				}
			}
			for _, h := range hashes {
				hash, err := crypto.ParseHash(h)
				if err != nil {
					return errors.Wrap(err, "--hash")
				}
				targets = append(targets, hash)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), signTimeout)
			defer cancel()
			req, err := coord.SignCancel(ctx, targets)
			if err != nil {
				return err
			}
			if err := journal.MarkCancelSigned(req.OrderHashes, time.Now()); err != nil {
				return err
			}
			if typedData {
				td, err := coord.Builder().CancelTypedData(req)
				if err != nil {
					return err
				}
				return printTypedData(cmd, td)
			}
			return printJSON(cmd, req.Payload())
		},
	}
	cmd.Flags().StringSliceVar(&hashes, "hash", nil, "Order hash to cancel (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "Cancel every unexpired order in the journal, re-signing earlier cancels")
	cmd.Flags().BoolVar(&typedData, "typed-data", false, "Print the signed EIP-712 typed data instead of the payload")
	return cmd
}

// printTypedData prints eth_signTypedData_v4 JSON for checking a signature
// with an external wallet.
func printTypedData(cmd *cobra.Command, td apitypes.TypedData) error {
	out, err := protocol.TypedDataJSON(td)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

func parseOdds(percentage, decimalOdds string) (*big.Int, error) {
	switch {
	case percentage != "":
		p, err := crypto.ParseUint256(percentage)
		if err != nil {
			return nil, errors.Wrap(err, "--percentage")
		}
		return p, odds.ValidateOdds(p)
	case decimalOdds != "":
		return odds.FromDecimalOdds(decimalOdds)
	default:
		return nil, errors.New("set --percentage or --decimal")
	}
}
