package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/sxbet/pkg/crypto"
)

// MinAPITokenLength is the shortest SX_API_TOKEN a node accepts.
const MinAPITokenLength = 16

// Exchange identifies the deployment orders are signed for.
type Exchange struct {
	ChainID uint64
	// FillHasher is the EIP712FillHasher contract, the verifying contract of
	// the fill domain. It differs per deployment and has no default.
	FillHasher string
	Executor   string // zero address when empty
	BaseToken  string // zero address when empty
	Decimals   int
	APIExpiry  time.Duration
}

type Signer struct {
	PrivateKey  string // hex, with or without 0x
	RemoteURL   string // base URL of another node's /api/v1/sign
	RemoteToken string // that node's API token
	Timeout     time.Duration
}

type Storage struct {
	JournalPath string
}

type API struct {
	Addr           string
	AllowedOrigins []string
	// Token is the bearer token of the signing routes.
	Token string
	// RemoteSigning serves POST /api/v1/sign to other nodes.
	RemoteSigning bool
}

type Feed struct {
	URL     string // disabled when empty
	Markets []string
}

type Log struct {
	Level string
	File  string
}

type Config struct {
	Exchange Exchange
	Signer   Signer
	Storage  Storage
	API      API
	Feed     Feed
	Log      Log
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			ChainID:   4162, // SX Rollup mainnet
			Decimals:  6,
			APIExpiry: time.Hour,
		},
		Signer: Signer{
			Timeout: 10 * time.Second,
		},
		Storage: Storage{
			JournalPath: "data/journal",
		},
		API: API{
			Addr:           "127.0.0.1:8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Log: Log{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("SX_CHAIN_ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Exchange.ChainID = id
		}
	}
	cfg.Exchange.FillHasher = getEnv("SX_FILL_HASHER", cfg.Exchange.FillHasher)
	cfg.Exchange.Executor = getEnv("SX_EXECUTOR", cfg.Exchange.Executor)
	cfg.Exchange.BaseToken = getEnv("SX_BASE_TOKEN", cfg.Exchange.BaseToken)
	if v := os.Getenv("SX_TOKEN_DECIMALS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			cfg.Exchange.Decimals = d
		}
	}
	if v := os.Getenv("SX_API_EXPIRY_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			cfg.Exchange.APIExpiry = time.Duration(sec) * time.Second
		}
	}

	cfg.Signer.PrivateKey = getEnv("SX_PRIVATE_KEY", cfg.Signer.PrivateKey)
	cfg.Signer.RemoteURL = getEnv("SX_REMOTE_SIGNER_URL", cfg.Signer.RemoteURL)
	cfg.Signer.RemoteToken = getEnv("SX_REMOTE_SIGNER_TOKEN", cfg.Signer.RemoteToken)
	if v := os.Getenv("SX_SIGNER_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Signer.Timeout = time.Duration(ms) * time.Millisecond
		}
	}

	cfg.Storage.JournalPath = getEnv("SX_JOURNAL_PATH", cfg.Storage.JournalPath)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = splitList(v)
	}
	cfg.API.Token = getEnv("SX_API_TOKEN", cfg.API.Token)
	if v := os.Getenv("SX_REMOTE_SIGNER_ENABLED"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			cfg.API.RemoteSigning = on
		}
	}

	cfg.Feed.URL = getEnv("SX_FEED_URL", cfg.Feed.URL)
	if v := os.Getenv("SX_FEED_MARKETS"); v != "" {
		cfg.Feed.Markets = splitList(v)
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	return cfg
}

// Validate checks every address and hash the config carries. It does not
// require a signer; binaries that sign call RequireSigner as well.
func (c Config) Validate() error {
	if c.Exchange.ChainID == 0 {
		return errors.New("SX_CHAIN_ID must be set")
	}
	if c.Exchange.FillHasher == "" {
		return errors.New("SX_FILL_HASHER must be set to the deployment's EIP712FillHasher address")
	}
	if _, _, _, err := c.Exchange.Addresses(); err != nil {
		return err
	}
	if c.Exchange.Decimals < 0 {
		return errors.Newf("SX_TOKEN_DECIMALS %d is negative", c.Exchange.Decimals)
	}
	if c.Signer.PrivateKey != "" && c.Signer.RemoteURL != "" {
		return errors.New("set only one of SX_PRIVATE_KEY and SX_REMOTE_SIGNER_URL")
	}
	if c.Signer.RemoteURL != "" && c.Signer.RemoteToken == "" {
		return errors.New("SX_REMOTE_SIGNER_URL needs SX_REMOTE_SIGNER_TOKEN")
	}
	if _, err := c.Feed.MarketHashes(); err != nil {
		return err
	}
	return nil
}

// RequireSigner reports an error when no signer source is configured.
func (c Config) RequireSigner() error {
	if c.Signer.PrivateKey == "" && c.Signer.RemoteURL == "" {
		return errors.New("set SX_PRIVATE_KEY or SX_REMOTE_SIGNER_URL")
	}
	return nil
}

// RequireAPIToken reports an error unless the signing routes have a token of
// at least MinAPITokenLength characters.
func (c Config) RequireAPIToken() error {
	if len(c.API.Token) < MinAPITokenLength {
		return errors.Newf("SX_API_TOKEN must be set to at least %d characters", MinAPITokenLength)
	}
	return nil
}

// Addresses parses the exchange contract addresses. Empty executor and base
// token stay the zero address.
func (e Exchange) Addresses() (fillHasher, executor, baseToken common.Address, err error) {
	if fillHasher, err = parseOptionalAddress("SX_FILL_HASHER", e.FillHasher); err != nil {
		return
	}
	if executor, err = parseOptionalAddress("SX_EXECUTOR", e.Executor); err != nil {
		return
	}
	baseToken, err = parseOptionalAddress("SX_BASE_TOKEN", e.BaseToken)
	return
}

// MarketHashes parses the feed's market list.
func (f Feed) MarketHashes() ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(f.Markets))
	for _, m := range f.Markets {
		h, err := crypto.ParseHash(m)
		if err != nil {
			return nil, errors.Wrap(err, "SX_FEED_MARKETS")
		}
		out = append(out, h)
	}
	return out, nil
}

func parseOptionalAddress(key, v string) (common.Address, error) {
	if v == "" {
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAddress(v)
	if err != nil {
		return common.Address{}, errors.Wrap(err, key)
	}
	return addr, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
