package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/sxbet/params"
	"github.com/uhyunpark/sxbet/pkg/api"
	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/feed"
	"github.com/uhyunpark/sxbet/pkg/protocol"
	"github.com/uhyunpark/sxbet/pkg/signing"
	"github.com/uhyunpark/sxbet/pkg/storage"
	"github.com/uhyunpark/sxbet/pkg/util"
)

const feedRetryDelay = 3 * time.Second

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Log.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	} else {
		logger, err = util.NewLogger(cfg.Log.Level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("config_invalid", "err", err)
	}
	if err := cfg.RequireSigner(); err != nil {
		sugar.Fatalw("config_invalid", "err", err)
	}
	if err := cfg.RequireAPIToken(); err != nil {
		sugar.Fatalw("config_invalid", "err", err)
	}
	fillHasher, executor, baseToken, _ := cfg.Exchange.Addresses()
	markets, _ := cfg.Feed.MarketHashes()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Signer ----
	var signer crypto.Signer
	if cfg.Signer.RemoteURL != "" {
		signer, err = api.NewRemoteSigner(ctx, cfg.Signer.RemoteURL, cfg.Signer.RemoteToken, nil, cfg.Signer.Timeout)
	} else {
		signer, err = crypto.FromPrivateKeyHex(cfg.Signer.PrivateKey)
	}
	if err != nil {
		sugar.Fatalw("signer_init_failed", "err", err)
	}

	builder := protocol.NewBuilder(new(big.Int).SetUint64(cfg.Exchange.ChainID), fillHasher)
	coord, err := signing.NewCoordinator(signing.Options{
		Signer:    signer,
		Builder:   builder,
		APIExpiry: cfg.Exchange.APIExpiry,
		Executor:  executor,
		BaseToken: baseToken,
		Logger:    sugar,
	})
	if err != nil {
		sugar.Fatalw("coordinator_init_failed", "err", err)
	}

	// ---- Journal ----
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.JournalPath), 0755); err != nil {
		sugar.Fatalw("journal_dir_failed", "err", err)
	}
	journal, err := storage.NewJournal(cfg.Storage.JournalPath)
	if err != nil {
		sugar.Fatalw("journal_open_failed", "err", err)
	}
	defer journal.Close()

	// ---- Market data (optional) ----
	book := feed.NewBook(sugar)
	if cfg.Feed.URL != "" {
		updates := make(chan feed.Update, 256)
		client := feed.NewClient(feed.Config{URL: cfg.Feed.URL, Markets: markets, Logger: sugar})
		go runFeed(ctx, client, updates, sugar)
		go book.Consume(ctx, updates)
	} else {
		sugar.Info("feed_disabled - fills need inline orders")
	}

	// ---- API Server ----
	server, err := api.NewServer(api.Config{
		Coordinator:    coord,
		AuthToken:      cfg.API.Token,
		RemoteSigning:  cfg.API.RemoteSigning,
		Journal:        journal,
		Book:           book,
		Decimals:       cfg.Exchange.Decimals,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         sugar,
	})
	if err != nil {
		sugar.Fatalw("api_init_failed", "err", err)
	}

	sugar.Infow("node_starting",
		"signer", signer.Address().Hex(),
		"chain_id", cfg.Exchange.ChainID,
		"fill_hasher", fillHasher.Hex(),
		"journal", cfg.Storage.JournalPath,
		"remote_signing", cfg.API.RemoteSigning,
		"feed_markets", len(markets))

	if err := server.Start(ctx, cfg.API.Addr); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

// runFeed keeps the feed connected until ctx is done.
func runFeed(ctx context.Context, client *feed.Client, out chan<- feed.Update, log *zap.SugaredLogger) {
	for {
		err := client.Run(ctx, out)
		if ctx.Err() != nil {
			return
		}
		log.Warnw("feed_disconnected", "err", err, "retry_in", feedRetryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(feedRetryDelay):
		}
	}
}
