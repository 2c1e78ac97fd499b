package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uhyunpark/sxbet/params"
	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/protocol"
	"github.com/uhyunpark/sxbet/pkg/signing"
	"github.com/uhyunpark/sxbet/pkg/storage"
	"github.com/uhyunpark/sxbet/pkg/util"
)

var (
	envPath     string
	logLevel    string
	keyHex      string
	journalPath string

	cfg   params.Config
	sugar *zap.SugaredLogger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "sxsign",
		Short:         "Sign SX Bet orders, fills and cancellations and print the submission JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = params.LoadFromEnv(envPath)
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if keyHex != "" {
				cfg.Signer.PrivateKey = keyHex
			}
			if journalPath != "" {
				cfg.Storage.JournalPath = journalPath
			}
			// Logs go to stderr so stdout stays valid JSON.
			logger, err := util.NewLogger(cfg.Log.Level)
			if err != nil {
				return err
			}
			sugar = logger.Sugar()
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "", "Path to a .env file (default: ./.env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&keyHex, "key", "", "Private key hex; overrides SX_PRIVATE_KEY")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "", "Order journal directory; overrides SX_JOURNAL_PATH")

	rootCmd.AddCommand(
		newKeygenCmd(),
		newOddsCmd(),
		newOrderCmd(),
		newFillCmd(),
		newCancelCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newCoordinator builds a coordinator over the configured key. The CLI signs
// locally only; remote signing is the node's job.
func newCoordinator() (*signing.Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Signer.PrivateKey == "" {
		return nil, errors.New("set --key or SX_PRIVATE_KEY")
	}
	signer, err := crypto.FromPrivateKeyHex(cfg.Signer.PrivateKey)
	if err != nil {
		return nil, err
	}
	fillHasher, executor, baseToken, err := cfg.Exchange.Addresses()
	if err != nil {
		return nil, err
	}
	return signing.NewCoordinator(signing.Options{
		Signer:    signer,
		Builder:   newBuilder(fillHasher),
		APIExpiry: cfg.Exchange.APIExpiry,
		Executor:  executor,
		BaseToken: baseToken,
		Logger:    sugar,
	})
}

func newBuilder(fillHasher common.Address) *protocol.Builder {
	return protocol.NewBuilder(new(big.Int).SetUint64(cfg.Exchange.ChainID), fillHasher)
}

// openJournal opens the configured journal, creating its parent directory.
func openJournal() (*storage.Journal, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.JournalPath), 0755); err != nil {
		return nil, err
	}
	return storage.NewJournal(cfg.Storage.JournalPath)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
