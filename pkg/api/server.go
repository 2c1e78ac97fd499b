package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/sxbet/pkg/crypto"
	"github.com/uhyunpark/sxbet/pkg/feed"
	"github.com/uhyunpark/sxbet/pkg/odds"
	"github.com/uhyunpark/sxbet/pkg/order"
	"github.com/uhyunpark/sxbet/pkg/protocol"
	"github.com/uhyunpark/sxbet/pkg/signing"
	"github.com/uhyunpark/sxbet/pkg/storage"
	"github.com/uhyunpark/sxbet/pkg/util"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
	requestIDHeader = "X-Request-ID"
	bearerPrefix    = "Bearer "
)

var (
	// errDisabled is returned by endpoints whose backing component is not
	// configured.
	errDisabled = errors.New("not configured")

	errUnauthorized = errors.New("unauthorized")
)

type Config struct {
	Coordinator *signing.Coordinator
	// AuthToken is the bearer token every signing route requires.
	AuthToken string
	// RemoteSigning serves POST /api/v1/sign, which signs caller-built
	// digests with no validation. Off unless set.
	RemoteSigning  bool
	Journal        *storage.Journal // optional; journaling and cancel-all are off without it
	Book           *feed.Book       // optional; fills then need inline orders
	Decimals       int              // settlement token decimals, odds.DefaultDecimals when 0
	AllowedOrigins []string
	Clock          util.Clock
	Logger         *zap.SugaredLogger
}

// Server exposes the signing flows over REST and pushes every signed message
// to websocket subscribers.
type Server struct {
	coord    *signing.Coordinator
	token    []byte
	remote   bool
	journal  *storage.Journal
	book     *feed.Book
	decimals int
	origins  []string
	clock    util.Clock
	router   *mux.Router
	hub      *Hub
	log      *zap.SugaredLogger
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("api: coordinator is required")
	}
	if cfg.AuthToken == "" {
		return nil, errors.New("api: auth token is required")
	}
	s := &Server{
		coord:    cfg.Coordinator,
		token:    []byte(cfg.AuthToken),
		remote:   cfg.RemoteSigning,
		journal:  cfg.Journal,
		book:     cfg.Book,
		decimals: cfg.Decimals,
		origins:  cfg.AllowedOrigins,
		clock:    cfg.Clock,
		router:   mux.NewRouter(),
		log:      util.OrNop(cfg.Logger),
	}
	if s.decimals == 0 {
		s.decimals = odds.DefaultDecimals
	}
	if s.clock == nil {
		s.clock = util.RealClock{}
	}
	if len(s.origins) == 0 {
		s.origins = []string{"http://localhost:3000"}
	}
	s.hub = NewHub(s.log)
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/odds", s.handleOdds).Methods("GET")

	// Signing flows
	api.Handle("/orders", s.authorize(s.handleSignOrder)).Methods("POST")
	api.HandleFunc("/orders/open", s.handleOpenOrders).Methods("GET")
	api.Handle("/fills", s.authorize(s.handleSignFill)).Methods("POST")
	api.Handle("/cancels", s.authorize(s.handleSignCancel)).Methods("POST")

	// Remote signer surface
	api.HandleFunc("/signer", s.handleSignerInfo).Methods("GET")
	api.Handle("/sign", s.authorize(s.handleSignDigest)).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Hub returns the websocket hub. Start runs it; callers serving Handler
// themselves must run it too.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", requestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnw("api_shutdown_failed", "err", err)
		}
	}()

	s.log.Infow("api_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "api server")
	}
	return nil
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		s.log.Debugw("api_request", "id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// authorize admits requests carrying the configured bearer token.
func (s *Server) authorize(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, bearerPrefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(auth, bearerPrefix)), s.token) != 1 {
			s.log.Warnw("api_unauthorized", "id", w.Header().Get(requestIDHeader), "path", r.URL.Path, "remote", r.RemoteAddr)
			s.fail(w, errors.Wrap(errUnauthorized, "missing or invalid bearer token"))
			return
		}
		next(w, r)
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleOdds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	p, err := parseOdds(q.Get("percentageOdds"), q.Get("decimalOdds"))
	if err != nil {
		s.fail(w, err)
		return
	}
	decimals := s.decimals
	if v := q.Get("decimals"); v != "" {
		if decimals, err = strconv.Atoi(v); err != nil || decimals < 0 {
			respondError(w, http.StatusBadRequest, "invalid decimals", v)
			return
		}
	}

	taker, err := odds.TakerOdds(p)
	if err != nil {
		s.fail(w, err)
		return
	}
	dec, _ := odds.DecimalOdds(p)
	resp := OddsResponse{
		PercentageOdds: p.String(),
		DecimalOdds:    dec,
		TakerOdds:      taker.String(),
	}

	if v := q.Get("totalBetSize"); v != "" {
		total, err := crypto.ParseUint256(v)
		if err != nil {
			s.fail(w, err)
			return
		}
		filled := new(big.Int)
		if f := q.Get("fillAmount"); f != "" {
			if filled, err = crypto.ParseUint256(f); err != nil {
				s.fail(w, err)
				return
			}
		}
		if resp.RemainingLiquidity, err = odds.RemainingLiquidity(total, filled, p, decimals); err != nil {
			s.fail(w, err)
			return
		}
	}

	if v := q.Get("takerBet"); v != "" {
		bet, err := crypto.ParseUint256(v)
		if err != nil {
			s.fail(w, err)
			return
		}
		fill, err := odds.FillAmount(bet, p)
		if err != nil {
			s.fail(w, err)
			return
		}
		payout, err := odds.PotentialPayout(bet, p)
		if err != nil {
			s.fail(w, err)
			return
		}
		resp.FillAmount = fill.String()
		resp.PotentialPayout = payout.String()
	}

	respondJSON(w, resp)
}

func (s *Server) handleSignOrder(w http.ResponseWriter, r *http.Request) {
	var draft OrderDraft
	if !decodeBody(w, r, &draft) {
		return
	}
	o, err := s.orderFromDraft(&draft)
	if err != nil {
		s.fail(w, err)
		return
	}

	signed, err := s.coord.SignOrder(r.Context(), o)
	if err != nil {
		s.fail(w, err)
		return
	}
	hash, err := protocol.OrderHash(signed)
	if err != nil {
		s.fail(w, err)
		return
	}
	if s.journal != nil {
		if err := s.journal.SaveOrder(hash, signed, s.clock.Now()); err != nil {
			s.fail(w, err)
			return
		}
	}

	payload := signed.Payload()
	payload.OrderHash = hash.Hex()
	resp := SignedOrderResponse{
		OrderHash: hash.Hex(),
		Request:   order.NewOrderRequest{Orders: []order.OrderPayload{payload}},
	}

	s.log.Infow("order_signed",
		"order_hash", hash.Hex(),
		"market", signed.MarketHash.Hex(),
		"odds", signed.PercentageOdds.String(),
		"size", signed.TotalBetSize.String())
	s.hub.Broadcast(ChannelOrders, EventOrderSigned, resp)
	respondJSON(w, resp)
}

func (s *Server) orderFromDraft(d *OrderDraft) (*order.Order, error) {
	market, err := crypto.ParseHash(d.MarketHash)
	if err != nil {
		return nil, errors.Wrap(err, "marketHash")
	}
	p, err := parseOdds(d.PercentageOdds, d.DecimalOdds)
	if err != nil {
		return nil, err
	}

	var size *big.Int
	switch {
	case d.TotalBetSize != "":
		size, err = crypto.ParseUint256(d.TotalBetSize)
	case d.Stake != "":
		size, err = odds.FromNominalUnits(d.Stake, s.decimals)
	default:
		err = errors.Wrap(crypto.ErrEncoding, "totalBetSize or stake is required")
	}
	if err != nil {
		return nil, err
	}

	o := &order.Order{
		MarketHash:               market,
		TotalBetSize:             size,
		PercentageOdds:           p,
		IsMakerBettingOutcomeOne: d.IsMakerBettingOutcomeOne,
		APIExpiry:                d.APIExpiry,
	}
	if d.BaseToken != "" {
		if o.BaseToken, err = crypto.ParseAddress(d.BaseToken); err != nil {
			return nil, errors.Wrap(err, "baseToken")
		}
	}
	return o, nil
}

func (s *Server) handleSignFill(w http.ResponseWriter, r *http.Request) {
	var draft FillDraft
	if !decodeBody(w, r, &draft) {
		return
	}

	legs := make([]signing.FillLeg, len(draft.Legs))
	for i, d := range draft.Legs {
		leg, err := s.fillLeg(d)
		if err != nil {
			s.fail(w, errors.Wrapf(err, "leg %d", i))
			return
		}
		legs[i] = leg
	}

	var opts signing.FillOptions
	var err error
	if draft.Beneficiary != "" {
		if opts.Beneficiary, err = crypto.ParseAddress(draft.Beneficiary); err != nil {
			s.fail(w, errors.Wrap(err, "beneficiary"))
			return
		}
		opts.BeneficiaryType = draft.BeneficiaryType
	}
	if draft.CashOutTarget != "" {
		if opts.CashOutTarget, err = crypto.ParseHash(draft.CashOutTarget); err != nil {
			s.fail(w, errors.Wrap(err, "cashOutTarget"))
			return
		}
	}

	fill, err := s.coord.SignFills(r.Context(), legs, opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	if s.journal != nil {
		if err := s.journal.SaveFill(fill, s.clock.Now()); err != nil {
			s.fail(w, err)
			return
		}
	}

	resp := fill.Payload()
	s.log.Infow("fill_signed",
		"fill_salt", resp.FillSalt,
		"orders", len(resp.OrderHashes),
		"taker", resp.Taker)
	s.hub.Broadcast(ChannelFills, EventFillSigned, resp)
	respondJSON(w, resp)
}

// fillLeg resolves one leg against the live book, or against the inline
// order when one is given. Book legs pass the liquidity pre-check.
func (s *Server) fillLeg(d FillLegDraft) (signing.FillLeg, error) {
	hash, err := crypto.ParseHash(d.OrderHash)
	if err != nil {
		return signing.FillLeg{}, errors.Wrap(err, "orderHash")
	}
	bet, err := crypto.ParseUint256(d.TakerBet)
	if err != nil {
		return signing.FillLeg{}, errors.Wrap(err, "takerBet")
	}

	if d.Order != nil {
		o, err := d.Order.ToOrder()
		if err != nil {
			return signing.FillLeg{}, err
		}
		return signing.FillLeg{Order: o, OrderHash: hash, TakerBet: bet}, nil
	}
	if s.book == nil {
		return signing.FillLeg{}, errors.Wrapf(feed.ErrUnknownOrder, "order %s: no order book and no inline order", hash.Hex())
	}
	o, _, err := s.book.CheckFill(hash, bet)
	if err != nil {
		return signing.FillLeg{}, err
	}
	return signing.FillLeg{Order: o, OrderHash: hash, TakerBet: bet}, nil
}

func (s *Server) handleSignCancel(w http.ResponseWriter, r *http.Request) {
	var draft CancelDraft
	if !decodeBody(w, r, &draft) {
		return
	}

	var hashes []common.Hash
	if draft.All {
		open, err := s.openOrders(s.signerAddress())
		if err != nil {
			s.fail(w, err)
			return
		}
		now := s.clock.Now()
		for _, e := range open {
			if !e.Expired(now) {
				hashes = append(hashes, e.Hash)
			}
		}
	}
	for _, h := range draft.OrderHashes {
		hash, err := crypto.ParseHash(h)
		if err != nil {
			s.fail(w, errors.Wrap(err, "orderHashes"))
			return
		}
		hashes = append(hashes, hash)
	}

	cancel, err := s.coord.SignCancel(r.Context(), hashes)
	if err != nil {
		s.fail(w, err)
		return
	}
	if s.journal != nil {
		if err := s.journal.MarkCancelSigned(cancel.OrderHashes, s.clock.Now()); err != nil {
			s.fail(w, err)
			return
		}
	}

	resp := cancel.Payload()
	s.log.Infow("cancel_signed",
		"orders", len(resp.OrderHashes),
		"maker", resp.Maker,
		"timestamp", resp.Timestamp)
	s.hub.Broadcast(ChannelCancels, EventCancelSigned, resp)
	respondJSON(w, resp)
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	maker := s.signerAddress()
	if v := r.URL.Query().Get("maker"); v != "" {
		addr, err := crypto.ParseAddress(v)
		if err != nil {
			s.fail(w, errors.Wrap(err, "maker"))
			return
		}
		maker = addr
	}

	entries, err := s.openOrders(maker)
	if err != nil {
		s.fail(w, err)
		return
	}

	now := s.clock.Now()
	resp := make([]OpenOrder, 0, len(entries))
	for _, e := range entries {
		item := OpenOrder{
			OrderHash:      e.Hash.Hex(),
			Order:          e.Order,
			SignedAt:       e.SignedAt,
			CancelSignedAt: e.CancelSignedAt,
			Expired:        e.Expired(now),
		}
		if o, err := e.Order.ToOrder(); err == nil {
			item.DecimalOdds = o.DecimalOdds()
			item.RemainingLiquidity, _ = o.RemainingLiquidity(s.decimals)
		}
		resp = append(resp, item)
	}
	respondJSON(w, resp)
}

func (s *Server) openOrders(maker common.Address) ([]*storage.OrderEntry, error) {
	if s.journal == nil {
		return nil, errors.Wrap(errDisabled, "order journal")
	}
	return s.journal.ListOpen(maker)
}

func (s *Server) signerAddress() common.Address {
	if signer := s.coord.Signer(); signer != nil {
		return signer.Address()
	}
	return common.Address{}
}

func (s *Server) handleSignerInfo(w http.ResponseWriter, r *http.Request) {
	signer := s.coord.Signer()
	if signer == nil {
		s.fail(w, errors.Wrap(signing.ErrSignerUnavailable, "no signer configured"))
		return
	}
	b := s.coord.Builder()
	respondJSON(w, SignerInfo{
		Address:    signer.Address().Hex(),
		ChainID:    b.ChainID.String(),
		FillHasher: b.FillHasher.Hex(),
	})
}

// handleSignDigest signs a caller-built digest with the local key. It is the
// server half of RemoteSigner and is served only with RemoteSigning set.
func (s *Server) handleSignDigest(w http.ResponseWriter, r *http.Request) {
	if !s.remote {
		s.fail(w, errors.Wrap(errDisabled, "remote signing"))
		return
	}
	var req SignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	digest, err := crypto.ParseHash(req.Digest)
	if err != nil {
		s.fail(w, errors.Wrap(err, "digest"))
		return
	}
	mode, err := crypto.ParseMode(req.Mode)
	if err != nil {
		s.fail(w, errors.Mark(err, crypto.ErrEncoding))
		return
	}

	signer := s.coord.Signer()
	if signer == nil {
		s.fail(w, errors.Wrap(signing.ErrSignerUnavailable, "no signer configured"))
		return
	}
	sig, err := signer.Sign(r.Context(), digest, mode)
	if err != nil {
		s.fail(w, errors.Mark(err, signing.ErrSignerUnavailable))
		return
	}

	s.log.Infow("digest_signed", "digest", digest.Hex(), "mode", mode.String(), "remote", r.RemoteAddr)
	respondJSON(w, SignResponse{Signature: hexutil.Encode(sig)})
}

// ==============================
// Helper Functions
// ==============================

func parseOdds(percentage, decimalOdds string) (*big.Int, error) {
	switch {
	case percentage != "":
		p, err := crypto.ParseUint256(percentage)
		if err != nil {
			return nil, errors.Wrap(err, "percentageOdds")
		}
		if err := odds.ValidateOdds(p); err != nil {
			return nil, err
		}
		return p, nil
	case decimalOdds != "":
		return odds.FromDecimalOdds(decimalOdds)
	default:
		return nil, errors.Wrap(odds.ErrInvalidOdds, "percentageOdds or decimalOdds is required")
	}
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, odds.ErrInvalidOdds),
		errors.Is(err, odds.ErrInvalidState),
		errors.Is(err, crypto.ErrEncoding),
		errors.Is(err, signing.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, feed.ErrUnknownOrder),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, feed.ErrInsufficientLiquidity):
		return http.StatusConflict
	case errors.Is(err, errDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, signing.ErrSignerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Warnw("api_request_failed", "status", status, "err", err)
	}
	respondError(w, status, http.StatusText(status), err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
