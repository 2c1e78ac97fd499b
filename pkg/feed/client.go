package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/sxbet/pkg/util"
)

const (
	defaultPingInterval = 50 * time.Second
	writeWait           = 10 * time.Second
)

type Config struct {
	URL          string
	Markets      []common.Hash
	PingInterval time.Duration
	Dialer       *websocket.Dialer // websocket.DefaultDialer when nil
	Clock        util.Clock
	Logger       *zap.SugaredLogger
}

// Client reads one websocket connection. Reconnecting is the caller's job:
// call Run again after it returns.
type Client struct {
	cfg Config
	log *zap.SugaredLogger
}

func NewClient(cfg Config) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	return &Client{cfg: cfg, log: util.OrNop(cfg.Logger)}
}

// Run dials, subscribes to the configured markets and sends every decoded
// update on out until ctx is done or the connection fails. Each connection
// first sends a KindMarketClosed update per market, so state left over from
// an earlier connection is dropped. Malformed frames are logged and skipped.
// Run never closes out.
func (c *Client) Run(ctx context.Context, out chan<- Update) error {
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			c.log.Warnw("feed_connect_failed", "status", resp.Status, "err", err)
		}
		return errors.Wrapf(err, "dial %s", c.cfg.URL)
	}
	c.log.Infow("feed_connected", "url", c.cfg.URL, "markets", len(c.cfg.Markets))

	var writeMu sync.Mutex
	write := func(kind int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(kind, data)
	}

	channels := make([]string, len(c.cfg.Markets))
	for i, m := range c.cfg.Markets {
		channels[i] = MarketChannel(m)
	}
	sub, _ := json.Marshal(SubscribeRequest{Op: "subscribe", Channels: channels})
	if err := write(websocket.TextMessage, sub); err != nil {
		conn.Close()
		return errors.Wrap(err, "subscribe")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()
	go c.pinger(done, write)

	now := c.cfg.Clock.Now()
	for _, m := range c.cfg.Markets {
		select {
		case out <- Update{Kind: KindMarketClosed, Market: m, ReceivedAt: now}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "feed read")
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Warnw("feed_bad_frame", "err", err)
			continue
		}
		updates, err := DecodeFrame(f, c.cfg.Clock.Now())
		if err != nil {
			c.log.Warnw("feed_bad_update", "type", f.Type, "err", err)
			continue
		}
		for _, u := range updates {
			select {
			case out <- u:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (c *Client) pinger(done <-chan struct{}, write func(int, []byte) error) {
	for {
		select {
		case <-done:
			return
		case <-c.cfg.Clock.After(c.cfg.PingInterval):
			if err := write(websocket.PingMessage, nil); err != nil {
				c.log.Debugw("feed_ping_failed", "err", err)
				return
			}
		}
	}
}
